// Package mock provides an in-memory SMS provider for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/havenline/havenline/pkg/provider/sms"
)

// SendCall records a single Send invocation.
type SendCall struct {
	Ctx  context.Context
	To   string
	Body string
}

// Provider is a configurable mock sms.Provider.
type Provider struct {
	mu sync.Mutex

	// SendReceipt is returned from Send when SendErr is nil.
	SendReceipt *sms.Receipt
	// SendErr, when set, is returned from Send.
	SendErr error
	// Delay is applied before returning, honoring context cancellation.
	Delay time.Duration

	SendCalls []SendCall
}

var _ sms.Provider = (*Provider)(nil)

func (m *Provider) Send(ctx context.Context, to, body string) (*sms.Receipt, error) {
	m.mu.Lock()
	m.SendCalls = append(m.SendCalls, SendCall{Ctx: ctx, To: to, Body: body})
	receipt := m.SendReceipt
	err := m.SendErr
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
	if receipt == nil {
		receipt = &sms.Receipt{ID: "SM-mock", Status: "queued"}
	}
	return receipt, nil
}

// Calls returns a copy of the recorded Send invocations.
func (m *Provider) Calls() []SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendCall, len(m.SendCalls))
	copy(out, m.SendCalls)
	return out
}

// Reset clears recorded calls and configured behavior.
func (m *Provider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendCalls = nil
	m.SendReceipt = nil
	m.SendErr = nil
	m.Delay = 0
}
