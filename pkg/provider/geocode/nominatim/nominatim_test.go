package nominatim

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/havenline/havenline/pkg/provider/geocode"
	"github.com/havenline/havenline/pkg/upstream"
)

const austinJSON = `[{
	"display_name": "Austin, Travis County, Texas, United States",
	"name": "Austin",
	"addresstype": "city",
	"type": "administrative",
	"address": {
		"city": "Austin",
		"county": "Travis County",
		"state": "Texas",
		"country": "United States",
		"country_code": "us"
	}
}]`

// TestResolve_Success checks query encoding and location normalization.
func TestResolve_Success(t *testing.T) {
	var gotQuery, gotFormat, gotLimit, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotFormat = r.URL.Query().Get("format")
		gotLimit = r.URL.Query().Get("limit")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(austinJSON))
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	loc, err := p.Resolve(context.Background(), "austin texas")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if gotQuery != "austin texas" {
		t.Errorf("q = %q", gotQuery)
	}
	if gotFormat != "jsonv2" || gotLimit != "1" {
		t.Errorf("format = %q, limit = %q", gotFormat, gotLimit)
	}
	if gotUA == "" {
		t.Error("User-Agent not set")
	}

	if loc.Display != "Austin, Texas" {
		t.Errorf("Display = %q, want %q", loc.Display, "Austin, Texas")
	}
	if loc.City != "Austin" || loc.Region != "Texas" {
		t.Errorf("City = %q, Region = %q", loc.City, loc.Region)
	}
	if loc.CountryCode != "US" || !loc.IsUS {
		t.Errorf("CountryCode = %q, IsUS = %v", loc.CountryCode, loc.IsUS)
	}
	if loc.Scope != "city" {
		t.Errorf("Scope = %q, want %q", loc.Scope, "city")
	}
}

// TestResolve_NonUS checks that non-US results are flagged as such.
func TestResolve_NonUS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{
			"display_name": "Toronto, Golden Horseshoe, Ontario, Canada",
			"name": "Toronto",
			"addresstype": "city",
			"address": {
				"city": "Toronto",
				"state": "Ontario",
				"country": "Canada",
				"country_code": "ca"
			}
		}]`))
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	loc, err := p.Resolve(context.Background(), "toronto")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.IsUS {
		t.Error("IsUS = true for Canadian city")
	}
	if loc.CountryCode != "CA" {
		t.Errorf("CountryCode = %q, want CA", loc.CountryCode)
	}
}

// TestResolve_NoMatch checks that an empty result array maps to ErrNoMatch.
func TestResolve_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	_, err := p.Resolve(context.Background(), "xyzzyplugh")
	if !errors.Is(err, geocode.ErrNoMatch) {
		t.Errorf("err = %v, want ErrNoMatch", err)
	}
}

// TestResolve_EmptyText checks the fail-fast path.
func TestResolve_EmptyText(t *testing.T) {
	p := New()
	_, err := p.Resolve(context.Background(), "   ")
	if !upstream.IsKind(err, upstream.KindValidationFailed) {
		t.Errorf("kind = %v, want ValidationFailed", upstream.KindOf(err))
	}
}

// TestResolve_RetriesNetworkOnce checks that a dropped connection is retried
// exactly once and that the second attempt can succeed.
func TestResolve_RetriesNetworkOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Hijack and drop the connection to force a transport error.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack: %v", err)
			}
			conn.Close()
			return
		}
		w.Write([]byte(austinJSON))
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	loc, err := p.Resolve(context.Background(), "austin")
	if err != nil {
		t.Fatalf("Resolve after retry: %v", err)
	}
	if loc.City != "Austin" {
		t.Errorf("City = %q", loc.City)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
}

// TestResolve_NoRetryOnHTTPError checks that HTTP-level failures are not
// retried.
func TestResolve_NoRetryOnHTTPError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	_, err := p.Resolve(context.Background(), "austin")
	if !upstream.IsKind(err, upstream.KindUpstream5xx) {
		t.Errorf("kind = %v, want Upstream5xx", upstream.KindOf(err))
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (no retry)", got)
	}
}

// TestToLocation_DisplayFallbacks checks compact-display construction.
func TestToLocation_DisplayFallbacks(t *testing.T) {
	tests := []struct {
		name string
		in   place
		want string
	}{
		{
			name: "state only",
			in: func() place {
				var pl place
				pl.Address.State = "Texas"
				pl.Address.CountryCode = "us"
				return pl
			}(),
			want: "Texas",
		},
		{
			name: "town fills city slot",
			in: func() place {
				var pl place
				pl.Address.Town = "Marfa"
				pl.Address.State = "Texas"
				pl.Address.CountryCode = "us"
				return pl
			}(),
			want: "Marfa, Texas",
		},
		{
			name: "display name first segment",
			in: func() place {
				var pl place
				pl.DisplayName = "Someplace, Somewhere, Country"
				return pl
			}(),
			want: "Someplace",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toLocation(tt.in); got.Display != tt.want {
				t.Errorf("Display = %q, want %q", got.Display, tt.want)
			}
		})
	}
}
