package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/havenline/havenline/internal/stats"
)

func TestAllow_CountsPerKey(t *testing.T) {
	t.Parallel()
	l := New(time.Minute, 2)

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow("a"); !ok {
			t.Fatalf("Allow(a) #%d = false, want true", i+1)
		}
	}
	if ok, _ := l.Allow("a"); ok {
		t.Error("Allow(a) #3 = true, want false")
	}
	// Another key has its own window.
	if ok, _ := l.Allow("b"); !ok {
		t.Error("Allow(b) = false, want true")
	}
}

func TestAllow_WindowResets(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	l := New(time.Minute, 1, WithClock(func() time.Time { return now }))

	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("first Allow = false, want true")
	}
	ok, retryAfter := l.Allow("a")
	if ok {
		t.Fatal("second Allow = true, want false")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Errorf("retryAfter = %v, want in (0, 1m]", retryAfter)
	}

	now = now.Add(time.Minute)
	if ok, _ := l.Allow("a"); !ok {
		t.Error("Allow after window reset = false, want true")
	}
}

func TestAllow_SweepsExpiredWindows(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	l := New(time.Minute, 10, WithClock(func() time.Time { return now }))

	l.Allow("a")
	l.Allow("b")
	if got := l.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	if got := l.Len(); got != 1 {
		t.Errorf("Len() after sweep = %d, want 1", got)
	}
}

func TestMiddleware_RejectsWith429(t *testing.T) {
	t.Parallel()
	reg := stats.New()
	l := New(time.Minute, 1, WithStats(reg))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := l.Middleware(next)

	req := httptest.NewRequest(http.MethodPost, "/voice", nil)
	req.RemoteAddr = "10.0.0.1:4567"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if secs, err := strconv.Atoi(rec.Header().Get("Retry-After")); err != nil || secs < 1 {
		t.Errorf("Retry-After = %q, want positive integer seconds", rec.Header().Get("Retry-After"))
	}
	if got := reg.Get(stats.RateLimited); got != 1 {
		t.Errorf("rate_limited counter = %d, want 1", got)
	}
}

func TestMiddleware_KeysByHostNotPort(t *testing.T) {
	t.Parallel()
	l := New(time.Minute, 1)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := l.Middleware(next)

	first := httptest.NewRequest(http.MethodPost, "/voice", nil)
	first.RemoteAddr = "10.0.0.1:1111"
	second := httptest.NewRequest(http.MethodPost, "/voice", nil)
	second.RemoteAddr = "10.0.0.1:2222"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, second)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("same host different port status = %d, want 429", rec.Code)
	}
}
