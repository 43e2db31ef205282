// Package search defines the Provider interface for web-search backends.
//
// The retrieval pipeline asks a search provider for candidate documents and
// then does its own filtering, scoring, and contact extraction; the provider
// is only responsible for the upstream query. Responses carry the backend's
// own relevance score per result so the pipeline can apply its minimum-score
// cut without re-ranking.
//
// Implementations must be safe for concurrent use.
package search

import "context"

// Provider is the abstraction over any web-search backend.
type Provider interface {
	// Search runs one query and blocks for the results. The implementation
	// applies its configured request timeout on top of ctx; expiry aborts
	// the transport and surfaces as an upstream Timeout.
	Search(ctx context.Context, query string, opts Options) (*Response, error)
}
