package resilience

import (
	"context"

	"github.com/havenline/havenline/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	chain *Chain[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend. opts configure each backend's breaker.
func NewTTSFallback(name string, primary tts.Provider, opts ...Option) *TTSFallback {
	return &TTSFallback{chain: NewChain(name, primary, opts...)}
}

// AddFallback registers an additional TTS provider behind the primary.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.chain.Add(name, provider)
}

// Synthesize renders the text with the first healthy provider and returns its
// audio. If the primary fails, subsequent fallbacks are tried with the same
// text.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	return Call(f.chain, func(p tts.Provider) (*tts.Audio, error) {
		return p.Synthesize(ctx, req)
	})
}
