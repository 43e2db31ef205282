// Package whisperhttp implements stt.Provider against a whisper.cpp server
// (POST /inference), the self-hosted transcription backend. The server wants
// 16kHz mono WAV, so the adapter normalises whatever encoding the telephone
// stream delivered before uploading.
package whisperhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/havenline/havenline/pkg/audio"
	"github.com/havenline/havenline/pkg/provider/stt"
	"github.com/havenline/havenline/pkg/upstream"
)

const providerName = "whisperhttp"

const (
	defaultTimeout    = 10 * time.Second
	inferenceEndpoint = "/inference"

	// whisperRate is the sample rate whisper.cpp expects.
	whisperRate = 16000
)

// Provider implements stt.Provider backed by a whisper.cpp server.
// Safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	log        *slog.Logger
}

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language hint sent with every request (e.g. "en").
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

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// New creates a Provider that targets the whisper.cpp server at serverURL
// (e.g. "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisperhttp: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   "en",
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("provider", providerName)
	return p, nil
}

// inferenceResponse is the JSON body returned by POST /inference.
type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "transcribe",
			errors.New("audio must not be empty"))
	}

	wav, err := normaliseToWAV(req)
	if err != nil {
		return nil, upstream.New(upstream.KindValidationFailed, providerName, "transcribe", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "transcribe",
			fmt.Errorf("create form file: %w", err))
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "transcribe",
			fmt.Errorf("write form file: %w", err))
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	_ = mw.WriteField("language", lang)
	_ = mw.WriteField("response_format", "json")
	if err := mw.Close(); err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "transcribe",
			fmt.Errorf("close multipart writer: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+inferenceEndpoint, &body)
	if err != nil {
		return nil, upstream.New(upstream.KindInternal, providerName, "transcribe",
			fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

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

	var ir inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "transcribe",
			fmt.Errorf("decode response: %w", err))
	}
	if ir.Error != "" {
		return nil, upstream.New(upstream.KindUpstream5xx, providerName, "transcribe",
			fmt.Errorf("server error: %s", ir.Error))
	}

	text := strings.TrimSpace(ir.Text)
	p.log.Debug("transcription",
		"request_id", reqID, "duration", time.Since(start), "chars", len(text))
	return &stt.Transcript{Text: text}, nil
}

// normaliseToWAV converts request audio to the 16kHz mono WAV whisper.cpp
// expects.
func normaliseToWAV(req stt.Request) ([]byte, error) {
	switch req.Encoding {
	case stt.EncodingWAV:
		info, err := audio.ParseWAV(req.Audio)
		if err != nil {
			return nil, err
		}
		if info.Channels != 1 {
			return nil, fmt.Errorf("whisperhttp: %d-channel WAV not supported, telephone audio is mono", info.Channels)
		}
		pcm := req.Audio[info.DataOffset : info.DataOffset+info.DataLen]
		if info.FormatTag == audio.FormatTagULaw {
			pcm = audio.DecodeULaw(pcm)
		}
		return audio.EncodeWAV(audio.ResampleMono16(pcm, info.SampleRate, whisperRate), whisperRate), nil

	case stt.EncodingPCM16:
		if req.SampleRate <= 0 {
			return nil, errors.New("whisperhttp: sample rate required for raw PCM")
		}
		return audio.EncodeWAV(audio.ResampleMono16(req.Audio, req.SampleRate, whisperRate), whisperRate), nil

	case stt.EncodingULaw:
		if req.SampleRate <= 0 {
			return nil, errors.New("whisperhttp: sample rate required for raw mu-law")
		}
		pcm := audio.DecodeULaw(req.Audio)
		return audio.EncodeWAV(audio.ResampleMono16(pcm, req.SampleRate, whisperRate), whisperRate), nil

	default:
		return nil, fmt.Errorf("whisperhttp: unsupported encoding %q", req.Encoding)
	}
}
