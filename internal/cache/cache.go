// Package cache implements the bounded in-memory cache used by the response,
// retrieval, classifier, and geocode layers.
//
// A Cache is an LRU map with a fixed capacity and a per-entry TTL measured
// from insertion time. Reads promote recency but never extend lifetime.
// [Cache.GetOrCompute] adds the single-flight guarantee: for any missing key,
// at most one loader runs at a time and concurrent callers share its value or
// its error. Loader errors are never stored, so the next caller retries.
//
// A background sweeper drops expired entries at a quarter of the TTL so that
// idle caches do not pin dead values until the next read. Call [Cache.Close]
// to stop it.
package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock replaces the time source. Tests use this to control expiry
// without sleeping.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		c.now = now
	}
}

// WithSweepInterval overrides the background sweep cadence. The default is
// TTL/4. Values ≤ 0 disable the sweeper entirely; expired entries are then
// only dropped on access.
func WithSweepInterval[V any](d time.Duration) Option[V] {
	return func(c *Cache[V]) {
		c.sweepEvery = d
		c.sweepSet = true
	}
}

// entry is one cached value. Lifetime is anchored to insertedAt; Get does not
// refresh it.
type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// Cache is a bounded LRU with per-entry TTL and per-key single-flight.
// All methods are safe for concurrent use.
type Cache[V any] struct {
	ttl        time.Duration
	max        int
	sweepEvery time.Duration
	sweepSet   bool
	now        func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recently used

	flight singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Cache holding at most max entries, each live for ttl from
// insertion. max must be ≥ 1 and ttl > 0.
func New[V any](ttl time.Duration, max int, opts ...Option[V]) *Cache[V] {
	if max < 1 {
		max = 1
	}
	c := &Cache[V]{
		ttl:   ttl,
		max:   max,
		now:   time.Now,
		items: make(map[string]*list.Element, max),
		order: list.New(),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if !c.sweepSet {
		c.sweepEvery = ttl / 4
	}
	if c.sweepEvery > 0 {
		c.wg.Add(1)
		go c.sweepLoop()
	}
	return c
}

// Get returns the live value for key. A hit promotes the entry to most
// recently used. Expired entries are removed and reported as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	ent := el.Value.(*entry[V])
	if c.expired(ent) {
		c.removeLocked(el)
		c.misses.Add(1)
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits.Add(1)
	return ent.value, true
}

// Put inserts or replaces the value for key, resetting its lifetime. When the
// cache is full the least recently used entry is evicted first.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[V])
		ent.value = value
		ent.insertedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	for len(c.items) >= c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}

	el := c.order.PushFront(&entry[V]{key: key, value: value, insertedAt: c.now()})
	c.items[key] = el
}

// GetOrCompute returns the live value for key, running loader on a miss.
// Concurrent callers for the same missing key share one loader invocation and
// receive its value or its error; errors are not cached. The loader runs on
// the context of the caller that initiated it, so cancelling a waiter only
// abandons that waiter's wait.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, loader func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.flight.DoChan(key, func() (any, error) {
		// Another flight may have populated the key between our miss and
		// this loader starting.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, v)
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Len reports the number of stored entries, including any not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache[V]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Close stops the background sweeper. Safe to call more than once. The cache
// remains usable after Close; only sweeping stops.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

// sweepLoop drops expired entries on a fixed cadence until Close.
func (c *Cache[V]) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes every expired entry in one pass.
func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[V])) {
			c.removeLocked(el)
		}
		el = prev
	}
}

func (c *Cache[V]) expired(ent *entry[V]) bool {
	return c.now().Sub(ent.insertedAt) >= c.ttl
}

func (c *Cache[V]) removeLocked(el *list.Element) {
	ent := el.Value.(*entry[V])
	delete(c.items, ent.key)
	c.order.Remove(el)
}
