// Package stats keeps the process-wide operational counters served at
// GET /stats. It is deliberately smaller than the OTel surface in
// internal/observe: plain named counters that the pipeline increments inline
// and a JSON-friendly snapshot, nothing more.
//
// The registry is passed as an explicit handle, never imported as a global.
package stats

import (
	"sync"
	"sync/atomic"
)

// Counter names incremented by the pipeline. Handlers and tests refer to
// these constants, never to string literals.
const (
	SearchCount    = "tavily.count"    // search calls attempted
	SearchSuccess  = "tavily.success"  // search calls that returned results
	CacheHit       = "cache.hit"       // aggregate across all cache instances
	CacheMiss      = "cache.miss"      // aggregate across all cache instances
	RouterFallback = "router.fallback" // LLM-without-context fallbacks
	ChatCount      = "chat.count"
	ChatSuccess    = "chat.success"
	STTCount       = "stt.count"
	STTSuccess     = "stt.success"
	TTSCount       = "tts.count"
	TTSSuccess     = "tts.success"
	StreamsOpened  = "stream.opened"
	SMSSent        = "sms.sent"
	SMSFailed      = "sms.failed"
	CallsStarted   = "calls.started"
	CallsEnded     = "calls.ended"
	TurnsProcessed = "turns.processed"
	RateLimited    = "http.rate_limited"
	WebhookPanics  = "http.panics"
)

// Registry is a set of named monotonic counters plus lazily-read sources.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	sources  map[string]func() int64
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		counters: make(map[string]*atomic.Int64),
		sources:  make(map[string]func() int64),
	}
}

// Inc increments the named counter by one.
func (r *Registry) Inc(name string) { r.Add(name, 1) }

// Add increments the named counter by delta, creating it at zero first.
func (r *Registry) Add(name string, delta int64) {
	r.counter(name).Add(delta)
}

// Get returns the current value of the named counter. Unknown names read as
// zero. Sources are not consulted; use Snapshot for the merged view.
func (r *Registry) Get(name string) int64 {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// SetSource registers a function whose value is read at snapshot time, for
// counters owned elsewhere (cache hit/miss live inside each cache instance).
// A source shadows any counter with the same name.
func (r *Registry) SetSource(name string, fn func() int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = fn
}

// Snapshot returns a point-in-time copy of every counter and source value.
// The map is freshly allocated and safe for the caller to mutate or marshal.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.counters)+len(r.sources))
	for name, c := range r.counters {
		out[name] = c.Load()
	}
	for name, fn := range r.sources {
		out[name] = fn()
	}
	return out
}

func (r *Registry) counter(name string) *atomic.Int64 {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.counters[name]; ok {
		return c
	}
	c = new(atomic.Int64)
	r.counters[name] = c
	return c
}
