// Package anyllm implements chat.Provider on top of
// github.com/mozilla-ai/any-llm-go, a unified multi-provider client that
// speaks OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// Usage:
//
//	p, err := anyllm.New("openai", "gpt-4o-mini", anyllm.WithAPIKey("sk-..."))
//	p, err := anyllm.New("ollama", "llama3.2", anyllm.WithBaseURL("http://localhost:11434"))
package anyllm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/havenline/havenline/pkg/provider/chat"
	"github.com/havenline/havenline/pkg/upstream"
)

const providerName = "anyllm"

// defaultTimeout bounds a single completion round trip.
const defaultTimeout = 25 * time.Second

// Provider implements chat.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
	timeout time.Duration
	log     *slog.Logger
}

var _ chat.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*settings)

type settings struct {
	timeout time.Duration
	log     *slog.Logger
	backend []anyllmlib.Option
}

// WithTimeout overrides the per-request timeout. Zero or negative values are
// ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithAPIKey sets the backend API key. Without it the backend falls back to
// its usual environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func WithAPIKey(key string) Option {
	return func(s *settings) {
		s.backend = append(s.backend, anyllmlib.WithAPIKey(key))
	}
}

// WithBaseURL points the backend at a non-default endpoint, e.g. a local
// Ollama or an OpenAI-compatible proxy.
func WithBaseURL(u string) Option {
	return func(s *settings) {
		s.backend = append(s.backend, anyllmlib.WithBaseURL(u))
	}
}

// New creates a Provider for the given backend name and model.
//
// backendName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile".
func New(backendName, model string, opts ...Option) (*Provider, error) {
	if backendName == "" {
		return nil, fmt.Errorf("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	s := settings{timeout: defaultTimeout, log: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}

	backend, err := createBackend(backendName, s.backend...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backendName, err)
	}

	return &Provider{
		backend: backend,
		model:   model,
		timeout: s.timeout,
		log:     s.log.With("provider", providerName, "backend", backendName),
	}, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", name)
	}
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

	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		p.log.Warn("chat completion failed",
			"request_id", reqID, "model", p.model, "duration", time.Since(start), "err", err)
		return nil, upstream.FromTransport(providerName, "complete", err)
	}
	if len(resp.Choices) == 0 {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "complete",
			fmt.Errorf("empty choices in response"))
	}

	out := &chat.Response{
		Text: strings.TrimSpace(resp.Choices[0].Message.ContentString()),
	}
	if resp.Usage != nil {
		out.Usage = chat.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	p.log.Debug("chat completion",
		"request_id", reqID, "model", p.model,
		"duration", time.Since(start), "tokens", out.Usage.TotalTokens)
	return out, nil
}

// buildParams converts a chat.Request into anyllm CompletionParams.
func (p *Provider) buildParams(req chat.Request) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message

	if req.System != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature >= 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}
