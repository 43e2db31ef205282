// Package upstream holds the plumbing shared by every vendor adapter:
// the error taxonomy, HTTP status classification, per-request identifiers,
// and credential redaction for log output.
//
// Adapters construct errors through [FromStatus] and [FromTransport] so that
// higher layers can branch on [Kind] without knowing which vendor failed:
//
//	resp, err := client.Do(req)
//	if err != nil {
//	    return nil, upstream.FromTransport("tavily", "search", err)
//	}
//	if resp.StatusCode != http.StatusOK {
//	    return nil, upstream.FromStatus("tavily", "search", resp.StatusCode)
//	}
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// Kind classifies an upstream failure. Kinds are deliberately coarse: the
// router and dialog layers decide what the caller hears, adapters only report
// which class of thing went wrong.
type Kind int

const (
	// KindInternal is an invariant violation inside this process.
	KindInternal Kind = iota

	// KindValidationFailed is a malformed request body or missing field.
	KindValidationFailed

	// KindTimeout is a deadline elapsing on an upstream call or request budget.
	KindTimeout

	// KindRateLimited is the edge limiter or an upstream 429.
	KindRateLimited

	// KindUpstream5xx is any 5xx from a vendor.
	KindUpstream5xx

	// KindBad4xx is a non-auth 4xx from a vendor.
	KindBad4xx

	// KindAuthMisconfig is a missing or rejected credential. Fatal at startup.
	KindAuthMisconfig

	// KindNetwork is a transport, TLS, or DNS failure.
	KindNetwork

	// KindCancelled is call teardown aborting in-flight work.
	KindCancelled
)

// String returns the taxonomy name for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidationFailed:
		return "ValidationFailed"
	case KindTimeout:
		return "Timeout"
	case KindRateLimited:
		return "RateLimited"
	case KindUpstream5xx:
		return "Upstream5xx"
	case KindBad4xx:
		return "Bad4xx"
	case KindAuthMisconfig:
		return "AuthMisconfig"
	case KindNetwork:
		return "Network"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Internal"
	}
}

// Retryable reports whether a call failing with this kind may be retried.
// Only the geocode adapter acts on this today; see its single-retry policy.
func (k Kind) Retryable() bool {
	return k == KindTimeout || k == KindNetwork || k == KindUpstream5xx
}

// Error is a classified upstream failure. Provider names the vendor adapter
// ("tavily", "elevenlabs", ...), Op the adapter operation ("search",
// "synthesize", ...). Status is the HTTP status when one was received.
type Error struct {
	Kind     Kind
	Provider string
	Op       string
	Status   int
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s: %s: status %d", e.Provider, e.Op, e.Kind, e.Status)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, e.Kind)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with an explicit kind.
func New(kind Kind, provider, op string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// FromStatus classifies a received HTTP status into the taxonomy.
// 429 maps to RateLimited, 401/403 to AuthMisconfig, other 4xx to Bad4xx,
// and 5xx to Upstream5xx. Statuses below 400 map to Internal because the
// adapter should not have called this for a success.
func FromStatus(provider, op string, status int) *Error {
	var kind Kind
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = KindAuthMisconfig
	case status >= 500:
		kind = KindUpstream5xx
	case status >= 400:
		kind = KindBad4xx
	default:
		kind = KindInternal
	}
	return &Error{Kind: kind, Provider: provider, Op: op, Status: status}
}

// FromTransport classifies a transport-level failure. Context expiry maps to
// Timeout, context cancellation to Cancelled, and everything else (DNS, TLS,
// connection reset) to Network.
func FromTransport(provider, op string, err error) *Error {
	kind := KindNetwork
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindCancelled
	}
	return &Error{Kind: kind, Provider: provider, Op: op, Err: err}
}

// KindOf extracts the Kind from err. Errors outside the taxonomy report
// Internal, except raw context errors which keep their natural kind so that
// deadline handling works even when an adapter forgot to wrap.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// NewRequestID returns the identifier attached to every adapter log line.
func NewRequestID() string {
	return uuid.NewString()
}

// sensitiveParams lists query parameter names whose values never reach logs.
var sensitiveParams = []string{"key", "api_key", "apikey", "token", "access_token", "auth"}

// RedactURL strips credential-bearing query parameter values from raw so the
// string is safe to log. Unparseable input is returned as the fixed marker
// rather than leaking the original text.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable-url]"
	}
	q := u.Query()
	changed := false
	for _, name := range sensitiveParams {
		if q.Has(name) {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
