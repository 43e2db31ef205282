// Package ratelimit applies a fixed-window request limit per remote address
// at the HTTP edge, ahead of webhook dispatch.
package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/havenline/havenline/internal/stats"
)

// Defaults matching the provider webhook volume of a single relay number.
const (
	DefaultWindow = 15 * time.Minute
	DefaultMax    = 100
)

type window struct {
	start time.Time
	count int
}

// Limiter counts requests per key in fixed windows. Safe for concurrent use.
type Limiter struct {
	window time.Duration
	max    int
	now    func() time.Time
	stats  *stats.Registry
	log    *slog.Logger

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithStats counts rejected requests in reg.
func WithStats(reg *stats.Registry) Option {
	return func(l *Limiter) {
		l.stats = reg
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) {
		l.log = log
	}
}

// New returns a Limiter allowing max requests per key within each window.
// Non-positive arguments fall back to the defaults.
func New(windowDur time.Duration, max int, opts ...Option) *Limiter {
	if windowDur <= 0 {
		windowDur = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	l := &Limiter{
		window:  windowDur,
		max:     max,
		now:     time.Now,
		log:     slog.Default(),
		windows: make(map[string]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

// Allow records one request for key and reports whether it fits the current
// window. When it does not, retryAfter is the time until the window resets.
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweepLocked(now)
	}

	w, exists := l.windows[key]
	if !exists || now.Sub(w.start) >= l.window {
		l.windows[key] = &window{start: now, count: 1}
		return true, 0
	}
	if w.count >= l.max {
		return false, w.start.Add(l.window).Sub(now)
	}
	w.count++
	return true, 0
}

// Len reports the number of live windows, for tests and stats.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// sweepLocked drops expired windows. Caller holds l.mu.
func (l *Limiter) sweepLocked(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
	l.lastSweep = now
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint
// before they reach next. Requests are keyed by remote IP.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := remoteKey(r)
		ok, retryAfter := l.Allow(key)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		if l.stats != nil {
			l.stats.Inc(stats.RateLimited)
		}
		l.log.Warn("rate limit exceeded", "remote", key, "path", r.URL.Path)

		secs := int(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
	})
}

// remoteKey extracts the client IP, falling back to the raw remote address
// when it carries no port.
func remoteKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
