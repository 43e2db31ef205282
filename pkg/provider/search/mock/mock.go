// Package mock provides a test double for the search.Provider interface.
//
// Use Provider in unit tests to feed controlled result sets into the
// retrieval pipeline without a live search backend.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/havenline/havenline/pkg/provider/search"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	// Ctx is the context passed to Search.
	Ctx context.Context
	// Query is the query string passed to Search.
	Query string
	// Opts is the Options passed to Search.
	Opts search.Options
}

// Provider is a mock implementation of search.Provider.
// Zero values for response fields cause Search to return nil, nil.
// Set SearchErr to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SearchResponse is returned by Search. May be nil (returns nil, nil).
	SearchResponse *search.Response

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// Delay, if positive, makes Search wait that long before answering, or
	// return ctx.Err() if the context expires first. Use it to exercise the
	// retrieval deadline paths.
	Delay time.Duration

	// --- Call records (read after test) ---

	// SearchCalls records every invocation of Search in order.
	SearchCalls []SearchCall
}

// Search records the call and returns SearchResponse, SearchErr.
func (p *Provider) Search(ctx context.Context, query string, opts search.Options) (*search.Response, error) {
	p.mu.Lock()
	p.SearchCalls = append(p.SearchCalls, SearchCall{Ctx: ctx, Query: query, Opts: opts})
	resp, err, delay := p.SearchResponse, p.SearchErr, p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp, err
}

// Calls returns a copy of the recorded Search invocations. Thread-safe.
func (p *Provider) Calls() []SearchCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SearchCall, len(p.SearchCalls))
	copy(out, p.SearchCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SearchCalls = nil
}

// Ensure Provider implements search.Provider at compile time.
var _ search.Provider = (*Provider)(nil)
