// Package coqui implements tts.Provider against a locally running Coqui TTS
// server, the self-hosted fallback when the hosted voice vendor is down.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with URL query
//     parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     POST /tts_to_audio/ with a JSON body.
//
// Both servers answer with a WAV container; the adapter strips the header
// and returns linear PCM at the model's native rate.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/havenline/havenline/pkg/audio"
	"github.com/havenline/havenline/pkg/provider/tts"
	"github.com/havenline/havenline/pkg/upstream"
)

const providerName = "coqui"

const (
	defaultLanguage = "en"
	defaultTimeout  = 10 * time.Second

	ttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint = "/api/tts"
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server (e.g. "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.httpClient.Timeout = d
		}
	}
}

// WithAPIMode sets the server API mode. Use APIModeStandard (default) for the
// standard Coqui TTS Docker image or APIModeXTTS for the XTTS v2 API server.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// Provider implements tts.Provider backed by a locally running Coqui server.
// Safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a Provider that targets the TTS server at serverURL
// (e.g. "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "synthesize",
			errors.New("text must not be empty"))
	}
	if p.apiMode == APIModeXTTS && req.Voice == "" {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "synthesize",
			errors.New("voice must not be empty in XTTS mode"))
	}

	var (
		wav []byte
		err error
	)
	if p.apiMode == APIModeStandard {
		wav, err = p.synthesizeStandard(ctx, req)
	} else {
		wav, err = p.synthesizeXTTS(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	info, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "synthesize", err)
	}
	pcm := wav[info.DataOffset : info.DataOffset+info.DataLen]
	return &tts.Audio{Data: pcm, Format: tts.FormatPCM16, SampleRate: info.SampleRate}, nil
}

// synthesizeXTTS performs a single POST /tts_to_audio/ call (XTTS v2 mode)
// and returns the raw WAV response.
func (p *Provider) synthesizeXTTS(ctx context.Context, req tts.Request) ([]byte, error) {
	body := ttsRequest{
		Text:       req.Text,
		SpeakerWav: req.Voice,
		Language:   p.language,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "synthesize",
			fmt.Errorf("marshal tts request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "synthesize",
			fmt.Errorf("create tts request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	return p.do(httpReq)
}

// synthesizeStandard performs a single GET /api/tts request (standard server
// mode) using URL query parameters and returns the raw WAV response.
func (p *Provider) synthesizeStandard(ctx context.Context, req tts.Request) ([]byte, error) {
	params := url.Values{}
	params.Set("text", req.Text)
	if req.Voice != "" {
		params.Set("speaker_id", req.Voice)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}

	reqURL := p.serverURL + apiTTSEndpoint + "?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "synthesize",
			fmt.Errorf("create tts request: %w", err))
	}
	httpReq.Header.Set("Accept", "audio/wav")

	return p.do(httpReq)
}

// do executes the request and returns the response body, classifying
// transport and status failures.
func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, upstream.FromTransport(providerName, "synthesize", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstream.FromStatus(providerName, "synthesize", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.FromTransport(providerName, "synthesize", err)
	}
	return wav, nil
}
