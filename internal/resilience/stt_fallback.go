package resilience

import (
	"context"

	"github.com/havenline/havenline/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	chain *Chain[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend. opts configure each backend's breaker.
func NewSTTFallback(name string, primary stt.Provider, opts ...Option) *STTFallback {
	return &STTFallback{chain: NewChain(name, primary, opts...)}
}

// AddFallback registers an additional STT provider behind the primary.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.chain.Add(name, provider)
}

// Transcribe sends the clip to the first healthy provider and returns its
// transcript. If the primary fails, subsequent fallbacks are tried with the
// same audio.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	return Call(f.chain, func(p stt.Provider) (*stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}
