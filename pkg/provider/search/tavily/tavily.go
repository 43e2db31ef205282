// Package tavily implements search.Provider against the Tavily search API
// (POST https://api.tavily.com/search). Tavily is tuned for LLM retrieval:
// it returns pre-scored snippets and an optional synthesised answer, which is
// exactly the shape the retrieval pipeline wants.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/havenline/havenline/pkg/provider/search"
	"github.com/havenline/havenline/pkg/upstream"
)

const providerName = "tavily"

const (
	defaultBaseURL = "https://api.tavily.com"
	defaultTimeout = 6 * time.Second
)

// Provider implements search.Provider backed by the Tavily API.
// Safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

var _ search.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint. Used by tests to point at a local
// httptest server.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 6s, the hard
// deadline the retrieval pipeline budgets for search.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// New creates a Provider with the given API key. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("tavily: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("provider", providerName)
	return p, nil
}

// searchRequest is the JSON body for POST /search.
type searchRequest struct {
	Query             string   `json:"query"`
	SearchDepth       string   `json:"search_depth,omitempty"`
	MaxResults        int      `json:"max_results,omitempty"`
	IncludeDomains    []string `json:"include_domains,omitempty"`
	ExcludeDomains    []string `json:"exclude_domains,omitempty"`
	IncludeAnswer     bool     `json:"include_answer"`
	IncludeRawContent bool     `json:"include_raw_content"`
}

// searchResponse is the JSON body Tavily returns.
type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title      string  `json:"title"`
		URL        string  `json:"url"`
		Content    string  `json:"content"`
		RawContent string  `json:"raw_content"`
		Score      float64 `json:"score"`
	} `json:"results"`
}

// Search implements search.Provider.
func (p *Provider) Search(ctx context.Context, query string, opts search.Options) (*search.Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "search",
			errors.New("query must not be empty"))
	}

	body, err := json.Marshal(searchRequest{
		Query:             query,
		SearchDepth:       string(opts.Depth),
		MaxResults:        opts.MaxResults,
		IncludeDomains:    opts.IncludeDomains,
		ExcludeDomains:    opts.ExcludeDomains,
		IncludeAnswer:     opts.IncludeAnswer,
		IncludeRawContent: opts.IncludeRawContent,
	})
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "search",
			fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "search",
			fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	reqID := upstream.NewRequestID()
	start := time.Now()

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.log.Warn("search failed",
			"request_id", reqID, "duration", time.Since(start), "err", err)
		return nil, upstream.FromTransport(providerName, "search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.log.Warn("search failed",
			"request_id", reqID, "status", resp.StatusCode,
			"duration", time.Since(start), "body", string(snippet))
		return nil, upstream.FromStatus(providerName, "search", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "search",
			fmt.Errorf("decode response: %w", err))
	}

	out := &search.Response{
		Answer:  strings.TrimSpace(sr.Answer),
		Results: make([]search.Result, 0, len(sr.Results)),
	}
	for _, r := range sr.Results {
		content := r.Content
		if opts.IncludeRawContent && r.RawContent != "" {
			content = r.RawContent
		}
		out.Results = append(out.Results, search.Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: content,
			Score:   r.Score,
		})
	}

	p.log.Debug("search",
		"request_id", reqID, "duration", time.Since(start),
		"results", len(out.Results))
	return out, nil
}
