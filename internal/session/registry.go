package session

import (
	"log/slog"
	"sync"
	"time"
)

// Default registry parameters.
const (
	defaultIdleTTL      = 30 * time.Minute
	defaultReapInterval = 5 * time.Minute
)

// Registry owns every live CallSession, keyed by the provider's call id.
// Sessions idle longer than the configured TTL are reaped by a background
// loop; call [Registry.Close] to stop it.
//
// All methods are safe for concurrent use.
type Registry struct {
	idleTTL    time.Duration
	reapEvery  time.Duration
	historyMax int
	now        func() time.Time
	log        *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*CallSession

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdleTTL sets how long a session may sit idle before the reaper drops
// it. Defaults to 30 minutes.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// WithReapInterval sets the reaper cadence. Values ≤ 0 disable the
// background loop; idle sessions are then only dropped by explicit Delete.
func WithReapInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.reapEvery = d
	}
}

// WithHistoryMax bounds each session's turn history. Defaults to 20.
func WithHistoryMax(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.historyMax = n
		}
	}
}

// WithClock replaces the time source. Tests use this to control idleness
// without sleeping.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry creates an empty session registry and starts its reaper.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		idleTTL:    defaultIdleTTL,
		reapEvery:  defaultReapInterval,
		historyMax: defaultHistoryMax,
		now:        time.Now,
		log:        slog.Default(),
		sessions:   make(map[string]*CallSession),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.reapEvery > 0 {
		r.wg.Add(1)
		go r.reapLoop()
	}
	return r
}

// GetOrCreate returns the session for id, creating it when absent. The
// second result reports whether a new session was created.
func (r *Registry) GetOrCreate(id, caller string) (*CallSession, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, false
	}
	s = newCallSession(id, caller, r.historyMax, r.now)
	r.sessions[id] = s
	r.log.Debug("session created", "call_sid", id)
	return s, true
}

// Get returns the session for id, if present.
func (r *Registry) Get(id string) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Delete removes the session for id and cancels its context. Unknown ids
// are ignored.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.End()
		r.log.Debug("session deleted", "call_sid", id)
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops the reaper and cancels every remaining session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()

	r.mu.Lock()
	remaining := make([]*CallSession, 0, len(r.sessions))
	for id, s := range r.sessions {
		remaining = append(remaining, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range remaining {
		s.End()
	}
}

// reapLoop drops idle sessions on a fixed cadence until Close.
func (r *Registry) reapLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.reapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reap()
		case <-r.done:
			return
		}
	}
}

// reap ends and removes every session idle longer than the TTL.
func (r *Registry) reap() {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var dropped []*CallSession
	for id, s := range r.sessions {
		if s.LastActivityAt().Before(cutoff) {
			dropped = append(dropped, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range dropped {
		s.End()
		r.log.Info("idle session reaped",
			"call_sid", s.ID, "idle_ttl", r.idleTTL)
	}
}
