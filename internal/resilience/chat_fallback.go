package resilience

import (
	"context"

	"github.com/havenline/havenline/pkg/provider/chat"
)

// ChatFallback implements [chat.Provider] with automatic failover across
// multiple chat backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
type ChatFallback struct {
	chain *Chain[chat.Provider]
}

// Compile-time interface assertion.
var _ chat.Provider = (*ChatFallback)(nil)

// NewChatFallback creates a [ChatFallback] with primary as the preferred
// backend. opts configure each backend's breaker.
func NewChatFallback(name string, primary chat.Provider, opts ...Option) *ChatFallback {
	return &ChatFallback{chain: NewChain(name, primary, opts...)}
}

// AddFallback registers an additional chat provider behind the primary.
func (f *ChatFallback) AddFallback(name string, provider chat.Provider) {
	f.chain.Add(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried.
func (f *ChatFallback) Complete(ctx context.Context, req chat.Request) (*chat.Response, error) {
	return Call(f.chain, func(p chat.Provider) (*chat.Response, error) {
		return p.Complete(ctx, req)
	})
}
