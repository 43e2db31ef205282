package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// requestIDHeader carries the request id on both sides: an inbound value is
// adopted, otherwise the middleware mints one.
const requestIDHeader = "X-Request-ID"

// statusWriter remembers the status code the handler wrote.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware tags every request with an id, times it, and logs its
// completion. The latency lands in havenline.http.request.duration,
// labelled with the matched mux route rather than the raw path so URL
// parameters do not explode the series count. A nil m keeps the id and
// log behaviour and records nothing.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	hist := noopHistogram()
	if m != nil {
		hist = m.requestDuration
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = NewRequestID()
			}
			ctx := WithRequestID(r.Context(), id)
			w.Header().Set(requestIDHeader, id)
			r = r.WithContext(ctx)

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			// The mux fills in r.Pattern while serving; unmatched requests
			// share one label instead of leaking arbitrary paths.
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}

			elapsed := time.Since(start)
			hist.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.Int("status", sw.status),
				))

			slog.LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("request_id", id),
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", sw.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

func noopHistogram() metric.Float64Histogram {
	h, _ := noop.NewMeterProvider().Meter(scopeName).Float64Histogram("noop")
	return h
}
