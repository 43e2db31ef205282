// Package openai implements chat.Provider directly on the official OpenAI Go
// SDK. Prefer this over the anyllm adapter when talking to api.openai.com or
// an OpenAI-compatible proxy and you want typed API errors for taxonomy
// classification.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/havenline/havenline/pkg/provider/chat"
	"github.com/havenline/havenline/pkg/upstream"
)

const providerName = "openai"

const defaultTimeout = 25 * time.Second

// Provider implements chat.Provider using the OpenAI API.
type Provider struct {
	client  oai.Client
	model   string
	timeout time.Duration
	log     *slog.Logger
}

var _ chat.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	log          *slog.Logger
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// New constructs an OpenAI chat Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{timeout: defaultTimeout, log: slog.Default()}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	// The SDK retries internally; the HTTP client timeout caps each attempt
	// while the context deadline in Complete caps the whole call.
	reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
		Timeout: cfg.timeout,
	}))

	client := oai.NewClient(reqOpts...)
	return &Provider{
		client:  client,
		model:   model,
		timeout: cfg.timeout,
		log:     cfg.log.With("provider", providerName),
	}, nil
}

// Complete implements chat.Provider.
func (p *Provider) Complete(ctx context.Context, req chat.Request) (*chat.Response, error) {
	if len(req.Messages) == 0 {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "complete",
			fmt.Errorf("request has no messages"))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reqID := upstream.NewRequestID()
	start := time.Now()

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		p.log.Warn("chat completion failed",
			"request_id", reqID, "model", p.model, "duration", time.Since(start), "err", err)
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "complete",
			fmt.Errorf("empty choices in response"))
	}

	out := &chat.Response{
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
		Usage: chat.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}

	p.log.Debug("chat completion",
		"request_id", reqID, "model", p.model,
		"duration", time.Since(start), "tokens", out.Usage.TotalTokens)
	return out, nil
}

// buildParams converts a chat.Request into OpenAI SDK params.
func (p *Provider) buildParams(req chat.Request) oai.ChatCompletionNewParams {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, oai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleSystem:
			messages = append(messages, oai.SystemMessage(m.Content))
		case chat.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature >= 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// classify maps SDK errors onto the upstream taxonomy. Typed API errors carry
// the HTTP status; anything else is sorted by its transport symptom.
func classify(err error) *upstream.Error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		return upstream.FromStatus(providerName, "complete", apierr.StatusCode)
	}
	return upstream.FromTransport(providerName, "complete", err)
}
