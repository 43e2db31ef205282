package resilience

import (
	"errors"
	"testing"
	"time"
)

var errVendor = errors.New("vendor unavailable")

// fakeClock is a manual time source for driving the reset timeout.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker("vendor")
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.probeBudget != 3 {
		t.Errorf("probeBudget = %d, want 3", b.probeBudget)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedAdmitsCalls(t *testing.T) {
	b := NewBreaker("vendor", WithMaxFailures(3))

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker("vendor", WithMaxFailures(3), WithResetTimeout(time.Hour))

	for range 3 {
		_ = b.Do(func() error { return errVendor })
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	called := false
	err := b.Do(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Do() error = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn was called while the breaker was open")
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("vendor", WithMaxFailures(3))

	_ = b.Do(func() error { return errVendor })
	_ = b.Do(func() error { return errVendor })
	_ = b.Do(func() error { return nil })

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after a success", b.State())
	}

	// The counter starts over: two more failures must not trip it.
	_ = b.Do(func() error { return errVendor })
	_ = b.Do(func() error { return errVendor })
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after 2 failures post-reset", b.State())
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("vendor",
		WithMaxFailures(2),
		WithResetTimeout(time.Minute),
		WithClock(clock.now),
	)

	_ = b.Do(func() error { return errVendor })
	_ = b.Do(func() error { return errVendor })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	clock.advance(time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", b.State())
	}
}

func TestBreaker_ClosesAfterProbeWins(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("vendor",
		WithMaxFailures(2),
		WithResetTimeout(time.Minute),
		WithProbeBudget(2),
		WithClock(clock.now),
	)

	_ = b.Do(func() error { return errVendor })
	_ = b.Do(func() error { return errVendor })
	clock.advance(time.Minute)

	for i := range 2 {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: Do() error = %v", i, err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", b.State())
	}
}

func TestBreaker_ReopensOnFailedProbe(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("vendor",
		WithMaxFailures(2),
		WithResetTimeout(time.Minute),
		WithProbeBudget(3),
		WithClock(clock.now),
	)

	_ = b.Do(func() error { return errVendor })
	_ = b.Do(func() error { return errVendor })
	clock.advance(time.Minute)

	if err := b.Do(func() error { return errVendor }); !errors.Is(err, errVendor) {
		t.Fatalf("probe error = %v, want errVendor", err)
	}

	// The failed probe restarted the open window at the current fake time.
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Do() error = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker("vendor", WithMaxFailures(2), WithResetTimeout(time.Hour))

	_ = b.Do(func() error { return errVendor })
	_ = b.Do(func() error { return errVendor })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after Reset", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do() error = %v after Reset", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
