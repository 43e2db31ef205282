// Package tts defines the Provider interface for text-to-speech backends.
//
// Synthesis is batch: the dialog engine speaks complete sentences, either by
// pushing provider audio onto the telephony media stream (mu-law 8kHz) or by
// parking it behind a playback URL. Vendors return whatever format they were
// configured for; pkg/audio converts at the edges.
package tts

import "context"

// Provider is the abstraction over any text-to-speech backend.
type Provider interface {
	// Synthesize renders one utterance and blocks for the audio. The
	// implementation applies its configured request timeout on top of ctx.
	Synthesize(ctx context.Context, req Request) (*Audio, error)
}
