// Package deepgram implements stt.Provider against the Deepgram prerecorded
// API (POST /v1/listen). Raw telephone encodings are passed through natively;
// Deepgram understands mu-law 8kHz without conversion.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/havenline/havenline/pkg/provider/stt"
	"github.com/havenline/havenline/pkg/upstream"
)

const providerName = "deepgram"

const (
	defaultBaseURL  = "https://api.deepgram.com"
	listenEndpoint  = "/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
	defaultTimeout  = 10 * time.Second
)

// Provider implements stt.Provider backed by the Deepgram prerecorded API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
	log        *slog.Logger
}

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout overrides the per-request timeout.
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

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("provider", providerName)
	return p, nil
}

// listenResponse is the JSON structure returned by the prerecorded API.
type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "transcribe",
			errors.New("audio must not be empty"))
	}

	reqURL, contentType, err := p.buildURL(req)
	if err != nil {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "transcribe", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(req.Audio))
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "transcribe",
			fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", contentType)

	reqID := upstream.NewRequestID()
	start := time.Now()

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.log.Warn("transcription failed",
			"request_id", reqID, "duration", time.Since(start), "err", err)
		return nil, upstream.FromTransport(providerName, "transcribe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.log.Warn("transcription failed",
			"request_id", reqID, "status", resp.StatusCode,
			"duration", time.Since(start), "body", string(snippet))
		return nil, upstream.FromStatus(providerName, "transcribe", resp.StatusCode)
	}

	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "transcribe",
			fmt.Errorf("decode response: %w", err))
	}
	if len(lr.Results.Channels) == 0 || len(lr.Results.Channels[0].Alternatives) == 0 {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "transcribe",
			errors.New("no alternatives in response"))
	}

	alt := lr.Results.Channels[0].Alternatives[0]
	out := &stt.Transcript{
		Text:          strings.TrimSpace(alt.Transcript),
		Confidence:    alt.Confidence,
		AudioDuration: time.Duration(lr.Metadata.Duration * float64(time.Second)),
	}

	p.log.Debug("transcription",
		"request_id", reqID, "duration", time.Since(start),
		"chars", len(out.Text), "confidence", out.Confidence)
	return out, nil
}

// buildURL constructs the prerecorded endpoint URL and content type for the
// given request encoding.
func (p *Provider) buildURL(req stt.Request) (string, string, error) {
	u, err := url.Parse(p.baseURL + listenEndpoint)
	if err != nil {
		return "", "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")

	contentType := "audio/wav"
	switch req.Encoding {
	case stt.EncodingWAV:
		// Container carries the format; no encoding params.
	case stt.EncodingPCM16:
		if req.SampleRate <= 0 {
			return "", "", errors.New("deepgram: sample rate required for raw PCM")
		}
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(req.SampleRate))
		contentType = "application/octet-stream"
	case stt.EncodingULaw:
		if req.SampleRate <= 0 {
			return "", "", errors.New("deepgram: sample rate required for raw mu-law")
		}
		q.Set("encoding", "mulaw")
		q.Set("sample_rate", strconv.Itoa(req.SampleRate))
		contentType = "application/octet-stream"
	default:
		return "", "", fmt.Errorf("deepgram: unsupported encoding %q", req.Encoding)
	}

	u.RawQuery = q.Encode()
	return u.String(), contentType, nil
}
