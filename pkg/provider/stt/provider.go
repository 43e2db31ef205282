// Package stt defines the Provider interface for speech-to-text backends.
//
// Transcription is batch: the media worker accumulates a caller utterance
// from the telephony stream and hands the complete clip over once the
// provider signals end of input. There is no partial-result plumbing; the
// dialog engine only ever acts on final text.
package stt

import "context"

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe converts one complete utterance to text. The implementation
	// applies its configured request timeout on top of ctx. A clip with no
	// recognisable speech yields an empty Text, not an error.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
