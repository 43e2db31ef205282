// Package resilience provides circuit breaking and provider failover for
// upstream vendor calls.
//
// A [Breaker] guards a single vendor endpoint and rejects calls after
// repeated failures until a probe succeeds. A [Chain] lines up
// interchangeable providers with one breaker per link; calls go to the first
// healthy link in order. The typed wrappers [ChatFallback], [STTFallback],
// and [TTSFallback] expose a Chain through the provider interfaces so callers
// never see the failover.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Defaults for breakers created without explicit options.
const (
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
	defaultProbeBudget  = 3
)

// ErrCircuitOpen is returned when a breaker is open and its reset timeout has
// not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen admits a bounded number of probe calls to test whether
	// the vendor has recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Option configures the breakers created by [NewBreaker] and, through
// [NewChain], the per-link breakers of a chain.
type Option func(*Breaker)

// WithMaxFailures sets how many consecutive failures trip the breaker.
func WithMaxFailures(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithResetTimeout sets how long the breaker stays open before probing the
// vendor again.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithProbeBudget sets how many half-open probes may run before the breaker
// decides to close or reopen.
func WithProbeBudget(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.probeBudget = n
		}
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// Breaker is a three-state circuit breaker guarding one vendor endpoint.
// Consecutive failures open it; after the reset timeout it half-opens and
// probes the vendor, closing again once enough probes succeed.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probeBudget  int
	now          func() time.Time

	mu        sync.Mutex
	state     State
	failures  int       // consecutive failures while closed
	lastFail  time.Time // start of the open window
	probes    int       // probes admitted this half-open round
	probeWins int       // probes that came back clean
}

// NewBreaker creates a closed [Breaker]. The name appears in log lines and
// should identify the vendor the breaker guards.
func NewBreaker(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:         name,
		maxFailures:  defaultMaxFailures,
		resetTimeout: defaultResetTimeout,
		probeBudget:  defaultProbeBudget,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs fn if the breaker admits the call and feeds the outcome back into
// the state machine. Open breakers return [ErrCircuitOpen] without calling fn.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	callErr := fn()
	b.settle(probe, callErr)
	return callErr
}

// admit decides whether a call may proceed and whether it counts as a
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFail) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeWins = 0
		slog.Info("circuit half-open", "breaker", b.name)
	}

	if b.state == StateHalfOpen {
		if b.probes >= b.probeBudget {
			return false, ErrCircuitOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// settle records a call outcome. probe marks calls that were admitted in the
// half-open state.
func (b *Breaker) settle(probe bool, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr == nil {
		if !probe {
			b.failures = 0
			return
		}
		b.probeWins++
		if b.probeWins >= b.probeBudget {
			b.state = StateClosed
			b.failures = 0
			slog.Info("circuit closed", "breaker", b.name)
		}
		return
	}

	b.lastFail = b.now()
	if probe {
		// A single failed probe reopens immediately.
		b.state = StateOpen
		b.failures = b.maxFailures
		slog.Warn("circuit reopened", "breaker", b.name)
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.state = StateOpen
		slog.Warn("circuit opened",
			"breaker", b.name,
			"consecutive_failures", b.failures)
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.lastFail) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeWins = 0
	slog.Info("circuit reset", "breaker", b.name)
}
