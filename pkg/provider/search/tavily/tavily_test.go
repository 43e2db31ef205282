package tavily

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/havenline/havenline/pkg/provider/search"
	"github.com/havenline/havenline/pkg/upstream"
)

// TestNew_EmptyAPIKey checks that a missing key is rejected at construction.
func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

// TestSearch_Success checks request marshalling and response parsing.
func TestSearch_Success(t *testing.T) {
	var gotReq searchRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %q, want /search", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"answer": " Shelters exist. ",
			"results": [
				{"title": "Safe Haven", "url": "https://safehaven.org", "content": "Emergency shelter", "score": 0.91},
				{"title": "City Guide", "url": "https://travel.example.com", "content": "Tourism", "score": 0.42}
			]
		}`))
	}))
	defer srv.Close()

	p, err := New("tvly-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := p.Search(context.Background(), "domestic violence shelter near Austin", search.Options{
		Depth:          search.DepthAdvanced,
		MaxResults:     5,
		ExcludeDomains: []string{"wikipedia.org"},
		IncludeAnswer:  true,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if gotAuth != "Bearer tvly-test" {
		t.Errorf("Authorization = %q, want bearer key", gotAuth)
	}
	if gotReq.SearchDepth != "advanced" {
		t.Errorf("search_depth = %q, want advanced", gotReq.SearchDepth)
	}
	if gotReq.MaxResults != 5 {
		t.Errorf("max_results = %d, want 5", gotReq.MaxResults)
	}
	if len(gotReq.ExcludeDomains) != 1 || gotReq.ExcludeDomains[0] != "wikipedia.org" {
		t.Errorf("exclude_domains = %v", gotReq.ExcludeDomains)
	}
	if got.Answer != "Shelters exist." {
		t.Errorf("Answer = %q, want trimmed answer", got.Answer)
	}
	if len(got.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(got.Results))
	}
	if got.Results[0].Title != "Safe Haven" || got.Results[0].Score != 0.91 {
		t.Errorf("first result = %+v", got.Results[0])
	}
}

// TestSearch_RawContentPreferred checks raw_content wins when requested.
func TestSearch_RawContentPreferred(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results": [{"title": "T", "url": "u", "content": "snippet", "raw_content": "full page", "score": 0.8}]}`))
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	got, err := p.Search(context.Background(), "q", search.Options{IncludeRawContent: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got.Results[0].Content != "full page" {
		t.Errorf("Content = %q, want raw content", got.Results[0].Content)
	}
}

// TestSearch_EmptyQuery checks the fail-fast validation path.
func TestSearch_EmptyQuery(t *testing.T) {
	p, _ := New("k")
	_, err := p.Search(context.Background(), "   ", search.Options{})
	if !upstream.IsKind(err, upstream.KindValidationFailed) {
		t.Errorf("kind = %v, want ValidationFailed", upstream.KindOf(err))
	}
}

// TestSearch_StatusClassification checks HTTP error mapping.
func TestSearch_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   upstream.Kind
	}{
		{http.StatusTooManyRequests, upstream.KindRateLimited},
		{http.StatusUnauthorized, upstream.KindAuthMisconfig},
		{http.StatusBadRequest, upstream.KindBad4xx},
		{http.StatusBadGateway, upstream.KindUpstream5xx},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		p, _ := New("k", WithBaseURL(srv.URL))
		_, err := p.Search(context.Background(), "q", search.Options{})
		if !upstream.IsKind(err, tt.want) {
			t.Errorf("status %d: kind = %v, want %v", tt.status, upstream.KindOf(err), tt.want)
		}
		srv.Close()
	}
}

// TestSearch_Timeout checks that a slow upstream surfaces as Timeout within
// the configured deadline.
func TestSearch_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	p, _ := New("k", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := p.Search(context.Background(), "q", search.Options{})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("search took %v, want prompt abort", elapsed)
	}
	if err == nil {
		t.Fatal("expected timeout error")
	}
	// http.Client timeout surfaces as a transport error carrying a deadline
	// cause; either Timeout or Network is acceptable from the taxonomy here,
	// but never a success.
	kind := upstream.KindOf(err)
	if kind != upstream.KindTimeout && kind != upstream.KindNetwork {
		t.Errorf("kind = %v, want Timeout or Network", kind)
	}
}

// TestSearch_ContextDeadline checks explicit caller deadlines map to Timeout.
func TestSearch_ContextDeadline(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	p, _ := New("k", WithBaseURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Search(ctx, "q", search.Options{})
	if !upstream.IsKind(err, upstream.KindTimeout) {
		t.Errorf("kind = %v, want Timeout", upstream.KindOf(err))
	}
}
