// Package elevenlabs implements tts.Provider against the ElevenLabs REST
// synthesis API (POST /v1/text-to-speech/{voice_id}). The output format is
// fixed at construction; the default is mu-law 8kHz, which telephony media
// streams accept without conversion.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/havenline/havenline/pkg/provider/tts"
	"github.com/havenline/havenline/pkg/upstream"
)

const providerName = "elevenlabs"

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "ulaw_8000"
	defaultTimeout   = 10 * time.Second

	// Rachel, the stock conversational voice.
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

// Provider implements tts.Provider backed by the ElevenLabs synthesis API.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	voiceID      string
	format       tts.Format
	sampleRate   int
	httpClient   *http.Client
	log          *slog.Logger
}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g. "ulaw_8000",
// "pcm_16000", "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithVoice sets the default voice ID used when a request names none.
func WithVoice(voiceID string) Option {
	return func(p *Provider) {
		if voiceID != "" {
			p.voiceID = voiceID
		}
	}
}

// WithBaseURL overrides the API base URL, e.g. for the EU residency endpoint.
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

// New creates an ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		voiceID:      defaultVoiceID,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}

	format, rate, err := parseOutputFormat(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.format = format
	p.sampleRate = rate
	p.log = p.log.With("provider", providerName)
	return p, nil
}

// parseOutputFormat maps an ElevenLabs output_format string like "ulaw_8000"
// or "mp3_44100_128" onto our format enum and sample rate.
func parseOutputFormat(s string) (tts.Format, int, error) {
	parts := strings.Split(s, "_")
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("elevenlabs: malformed output format %q", s)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return "", 0, fmt.Errorf("elevenlabs: malformed output format %q", s)
	}
	switch parts[0] {
	case "ulaw":
		return tts.FormatULaw, rate, nil
	case "pcm":
		return tts.FormatPCM16, rate, nil
	case "mp3":
		return tts.FormatMP3, rate, nil
	default:
		return "", 0, fmt.Errorf("elevenlabs: unsupported output format %q", s)
	}
}

// synthesisRequest is the JSON body for POST /v1/text-to-speech/{voice_id}.
type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "synthesize",
			errors.New("text must not be empty"))
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voiceID
	}

	body := synthesisRequest{
		Text:    req.Text,
		ModelID: p.model,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "synthesize",
			fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", p.baseURL, voice, p.outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "synthesize",
			fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	reqID := upstream.NewRequestID()
	start := time.Now()

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.log.Warn("synthesis failed",
			"request_id", reqID, "voice", voice, "duration", time.Since(start), "err", err)
		return nil, upstream.FromTransport(providerName, "synthesize", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		p.log.Warn("synthesis failed",
			"request_id", reqID, "voice", voice, "status", resp.StatusCode,
			"duration", time.Since(start), "body", string(snippet))
		return nil, upstream.FromStatus(providerName, "synthesize", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.FromTransport(providerName, "synthesize", err)
	}
	if len(audio) == 0 {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "synthesize",
			errors.New("empty audio in response"))
	}

	p.log.Debug("synthesis",
		"request_id", reqID, "voice", voice,
		"duration", time.Since(start), "bytes", len(audio))
	return &tts.Audio{Data: audio, Format: p.format, SampleRate: p.sampleRate}, nil
}
