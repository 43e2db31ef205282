// Package chat defines the Provider interface for chat-completion backends.
//
// A chat provider wraps an LLM chat API (OpenAI, Anthropic, a local Ollama
// instance, ...) behind a single blocking call. The relay uses it for three
// things: generating conversational replies, assisting the pattern classifier
// on ambiguous utterances, and summarising a finished call for the SMS
// follow-up. Streaming is deliberately absent — replies are spoken through
// TTS as complete sentences, so there is nothing to pipeline.
//
// Implementations must be safe for concurrent use.
package chat

import "context"

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends one chat-completion request and blocks for the reply.
	// The implementation applies its configured request timeout on top of
	// ctx; expiry aborts the transport and surfaces as an upstream Timeout.
	Complete(ctx context.Context, req Request) (*Response, error)
}
