package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestMiddleware_MintsRequestID(t *testing.T) {
	var seen string
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))

	if seen == "" {
		t.Error("no request id in handler context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response X-Request-ID = %q, want %q", got, seen)
	}
}

func TestMiddleware_AdoptsInboundRequestID(t *testing.T) {
	var seen string
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/stats", nil)
	req.Header.Set("X-Request-ID", "twilio-req-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "twilio-req-7" {
		t.Errorf("request id = %q, want %q", seen, "twilio-req-7")
	}
	if got := rec.Header().Get("X-Request-ID"); got != "twilio-req-7" {
		t.Errorf("response X-Request-ID = %q, want %q", got, "twilio-req-7")
	}
}

// requestDataPoint serves one request through the middleware-wrapped mux
// and returns the single histogram data point it produced.
func requestDataPoint(t *testing.T, method, path string, handler http.Handler) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	m, reader := testMetrics(t)

	h := Middleware(m)(handler)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	met, ok := read(t, reader, "havenline.http.request.duration")
	if !ok {
		t.Fatal("havenline.http.request.duration not collected")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", met.Data)
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1", len(hist.DataPoints))
	}
	return hist.DataPoints[0]
}

func TestMiddleware_LabelsMatchedRoute(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /voice/{$}", okHandler)

	dp := requestDataPoint(t, "POST", "/voice/", mux)

	if got := attrString(dp.Attributes, "route"); got != "POST /voice/{$}" {
		t.Errorf("route = %q, want %q", got, "POST /voice/{$}")
	}
	if got := attrString(dp.Attributes, "method"); got != "POST" {
		t.Errorf("method = %q, want %q", got, "POST")
	}
}

func TestMiddleware_LabelsUnmatchedRoute(t *testing.T) {
	// Unknown paths share one label so scanners cannot mint new series.
	dp := requestDataPoint(t, "GET", "/auth.php", http.NewServeMux())

	if got := attrString(dp.Attributes, "route"); got != "unmatched" {
		t.Errorf("route = %q, want %q", got, "unmatched")
	}
}

func TestMiddleware_LabelsStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	dp := requestDataPoint(t, "GET", "/gone", mux)

	v, ok := dp.Attributes.Value(attribute.Key("status"))
	if !ok {
		t.Fatal("status attribute missing")
	}
	if got := v.AsInt64(); got != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", got, http.StatusServiceUnavailable)
	}
}

func TestMiddleware_PassesStatusThrough(t *testing.T) {
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/voice", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestID(ctx); got != "req-1" {
		t.Errorf("RequestID = %q, want %q", got, "req-1")
	}
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID on bare context = %q, want empty", got)
	}
}

func TestLogger_WithoutRequestID(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Error("Logger returned nil")
	}
}
