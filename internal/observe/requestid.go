package observe

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// ctxKey is the private context key type for request ids.
type ctxKey struct{}

// NewRequestID mints a fresh request id.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID extracts the request id from ctx. Returns the empty string when
// none is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Logger returns an [slog.Logger] enriched with the request id from ctx.
// When no id is present, the returned logger is the default slog logger
// without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := RequestID(ctx); id != "" {
		l = l.With(slog.String("request_id", id))
	}
	return l
}
