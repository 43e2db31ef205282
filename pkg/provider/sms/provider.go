// Package sms defines the Provider interface for outbound text messaging.
//
// The dialog engine sends at most a handful of messages per call: the
// resource summary a caller consented to, and nothing else. Delivery is
// fire-and-forget — the receipt status is logged, never awaited.
//
// Implementations must be safe for concurrent use.
package sms

import "context"

// Provider is the abstraction over any SMS backend.
type Provider interface {
	// Send queues one message to the E.164 number to. The implementation
	// applies its configured request timeout on top of ctx.
	Send(ctx context.Context, to, body string) (*Receipt, error)
}

// Receipt reports the backend's acceptance of a message.
type Receipt struct {
	// ID is the backend message identifier.
	ID string
	// Status is the backend's initial delivery status (e.g. "queued").
	Status string
}
