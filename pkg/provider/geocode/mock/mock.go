// Package mock provides an in-memory geocoder for tests.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/havenline/havenline/pkg/provider/geocode"
)

// ResolveCall records a single Resolve invocation.
type ResolveCall struct {
	Ctx  context.Context
	Text string
}

// Provider is a configurable mock geocode.Provider. Locations maps lowercased
// input text to results; inputs not in the map fall back to ResolveLocation,
// and to ErrNoMatch when that is nil too.
type Provider struct {
	mu sync.Mutex

	// Locations maps lowercase input text to a canned result.
	Locations map[string]*geocode.Location
	// ResolveLocation is the fallback result for any input.
	ResolveLocation *geocode.Location
	// ResolveErr, when set, is returned from every Resolve call.
	ResolveErr error
	// Delay is applied before returning, honoring context cancellation.
	Delay time.Duration

	ResolveCalls []ResolveCall
}

var _ geocode.Provider = (*Provider)(nil)

func (m *Provider) Resolve(ctx context.Context, text string) (*geocode.Location, error) {
	m.mu.Lock()
	m.ResolveCalls = append(m.ResolveCalls, ResolveCall{Ctx: ctx, Text: text})
	loc, ok := m.Locations[strings.ToLower(strings.TrimSpace(text))]
	if !ok {
		loc = m.ResolveLocation
	}
	err := m.ResolveErr
	delay := m.Delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, fmt.Errorf("%w: %q", geocode.ErrNoMatch, text)
	}
	cp := *loc
	return &cp, nil
}

// Calls returns a copy of the recorded Resolve invocations.
func (m *Provider) Calls() []ResolveCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ResolveCall, len(m.ResolveCalls))
	copy(out, m.ResolveCalls)
	return out
}

// Reset clears recorded calls and configured behavior.
func (m *Provider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResolveCalls = nil
	m.Locations = nil
	m.ResolveLocation = nil
	m.ResolveErr = nil
	m.Delay = 0
}

// US returns a ready-made US city location for tests.
func US(city, region string) *geocode.Location {
	return &geocode.Location{
		Display:     city + ", " + region,
		City:        city,
		Region:      region,
		CountryCode: "US",
		IsUS:        true,
		Scope:       "city",
	}
}
