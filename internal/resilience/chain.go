package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every link in a [Chain] fails or has an open
// breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

// link pairs one provider with the breaker guarding it.
type link[T any] struct {
	name    string
	v       T
	breaker *Breaker
}

// Chain is an ordered failover list of interchangeable providers, each behind
// its own [Breaker]. Calls go to the first link whose breaker admits them;
// when a link fails, the next one is tried with the same input.
//
// Assemble the chain before use: [Chain.Add] must not race with [Call].
type Chain[T any] struct {
	links []link[T]
	opts  []Option
}

// NewChain creates a [Chain] with primary as the first link. opts configure
// every link's breaker, including links added later.
func NewChain[T any](name string, primary T, opts ...Option) *Chain[T] {
	c := &Chain[T]{opts: opts}
	c.Add(name, primary)
	return c
}

// Add appends a fallback link tried after all earlier links.
func (c *Chain[T]) Add(name string, v T) {
	c.links = append(c.links, link[T]{
		name:    name,
		v:       v,
		breaker: NewBreaker(name, c.opts...),
	})
}

// Call invokes fn on each healthy link in order until one succeeds and
// returns that link's result. Links with open breakers are skipped. When
// every link fails, the error wraps [ErrAllFailed] and carries the last
// failure.
//
// Call is a package function because methods cannot introduce type
// parameters.
func Call[T, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range c.links {
		ln := &c.links[i]
		var out R
		err := ln.breaker.Do(func() error {
			var callErr error
			out, callErr = fn(ln.v)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", ln.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", ln.name, "err", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
