// Package twilio implements sms.Provider against the Twilio Messages API
// (form POST /2010-04-01/Accounts/{sid}/Messages.json with basic auth).
package twilio

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

	"github.com/havenline/havenline/pkg/provider/sms"
	"github.com/havenline/havenline/pkg/upstream"
)

const providerName = "twilio"

const (
	defaultBaseURL = "https://api.twilio.com"
	defaultTimeout = 5 * time.Second
)

// Provider implements sms.Provider backed by the Twilio REST API.
// Safe for concurrent use.
type Provider struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

var _ sms.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 5s.
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

// New creates a Provider sending from the E.164 number from. All three
// identifiers are required.
func New(accountSID, authToken, from string, opts ...Option) (*Provider, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("twilio: accountSID and authToken must not be empty")
	}
	if from == "" {
		return nil, errors.New("twilio: from number must not be empty")
	}
	p := &Provider{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
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

// messageResponse is the JSON body Twilio returns for a created message.
type messageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"` // error detail on failure bodies
}

// Send implements sms.Provider.
func (p *Provider) Send(ctx context.Context, to, body string) (*sms.Receipt, error) {
	if to == "" {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "send",
			errors.New("recipient must not be empty"))
	}
	if strings.TrimSpace(body) == "" {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "send",
			errors.New("body must not be empty"))
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", p.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, p.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "send",
			fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(p.accountSID, p.authToken)

	reqID := upstream.NewRequestID()
	start := time.Now()

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.log.Warn("sms send failed",
			"request_id", reqID, "duration", time.Since(start), "err", err)
		return nil, upstream.FromTransport(providerName, "send", err)
	}
	defer resp.Body.Close()

	// Twilio answers 201 Created for accepted messages.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.log.Warn("sms send failed",
			"request_id", reqID, "status", resp.StatusCode,
			"duration", time.Since(start), "body", string(snippet))
		return nil, upstream.FromStatus(providerName, "send", resp.StatusCode)
	}

	var mr messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "send",
			fmt.Errorf("decode response: %w", err))
	}

	p.log.Debug("sms sent",
		"request_id", reqID, "duration", time.Since(start),
		"message_id", mr.SID, "status", mr.Status)
	return &sms.Receipt{ID: mr.SID, Status: mr.Status}, nil
}
