// Package nominatim implements geocode.Provider against a Nominatim search
// endpoint (GET /search?format=jsonv2). The public OSM instance is the
// default; self-hosted instances work via WithBaseURL.
//
// Geocoding is an idempotent GET, so transient network failures get a single
// jittered retry. HTTP-level errors (4xx/5xx) are never retried.
package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/havenline/havenline/pkg/provider/geocode"
	"github.com/havenline/havenline/pkg/upstream"
)

const providerName = "nominatim"

const (
	defaultBaseURL = "https://nominatim.openstreetmap.org"
	defaultTimeout = 3 * time.Second

	// The public instance requires an identifying User-Agent.
	userAgent = "havenline/1.0"

	retryAttempts = 2 // initial call + one retry
	retryDelay    = 200 * time.Millisecond
)

// Provider implements geocode.Provider backed by Nominatim.
// Safe for concurrent use.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

var _ geocode.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint. Used for self-hosted instances and
// by tests to point at a local httptest server.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 3s.
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

// New creates a Provider. Nominatim needs no API key.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("provider", providerName)
	return p
}

// place is one entry of the JSON array Nominatim returns for /search.
type place struct {
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
	AddressType string `json:"addresstype"`
	Type        string `json:"type"`
	Address     struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		County       string `json:"county"`
		State        string `json:"state"`
		Country      string `json:"country"`
		CountryCode  string `json:"country_code"`
	} `json:"address"`
}

// Resolve implements geocode.Provider.
func (p *Provider) Resolve(ctx context.Context, text string) (*geocode.Location, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "resolve",
			errors.New("text must not be empty"))
	}

	reqID := upstream.NewRequestID()
	start := time.Now()

	loc, err := retry.DoWithData(
		func() (*geocode.Location, error) { return p.resolveOnce(ctx, text) },
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.MaxJitter(retryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return upstream.IsKind(err, upstream.KindNetwork)
		}),
		retry.OnRetry(func(n uint, err error) {
			p.log.Warn("resolve retrying",
				"request_id", reqID, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		if !errors.Is(err, geocode.ErrNoMatch) {
			p.log.Warn("resolve failed",
				"request_id", reqID, "duration", time.Since(start), "err", err)
		}
		return nil, err
	}

	p.log.Debug("resolve",
		"request_id", reqID, "duration", time.Since(start),
		"display", loc.Display, "scope", loc.Scope)
	return loc, nil
}

func (p *Provider) resolveOnce(ctx context.Context, text string) (*geocode.Location, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	q.Set("addressdetails", "1")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "resolve",
			fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, upstream.FromTransport(providerName, "resolve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.log.Warn("resolve failed",
			"status", resp.StatusCode, "body", string(snippet))
		return nil, upstream.FromStatus(providerName, "resolve", resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "resolve",
			fmt.Errorf("decode response: %w", err))
	}
	if len(places) == 0 {
		return nil, fmt.Errorf("%w: %q", geocode.ErrNoMatch, text)
	}
	return toLocation(places[0]), nil
}

// toLocation normalizes a Nominatim place into a geocode.Location.
func toLocation(pl place) *geocode.Location {
	city := firstNonEmpty(pl.Address.City, pl.Address.Town, pl.Address.Village, pl.Address.Municipality)
	region := firstNonEmpty(pl.Address.State, pl.Address.County)
	cc := strings.ToUpper(pl.Address.CountryCode)

	display := pl.Name
	switch {
	case city != "" && region != "":
		display = city + ", " + region
	case city != "":
		display = city
	case region != "":
		display = region
	case display == "":
		// Fall back to the first segment of the long display name.
		display, _, _ = strings.Cut(pl.DisplayName, ",")
		display = strings.TrimSpace(display)
	}

	scope := pl.AddressType
	if scope == "" {
		scope = pl.Type
	}

	return &geocode.Location{
		Display:     display,
		City:        city,
		Region:      region,
		CountryCode: cc,
		IsUS:        cc == "US",
		Scope:       scope,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
