// Package config provides the configuration schema, loader, and provider
// registry for the Havenline relay server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Load] to fields the file leaves unset.
const (
	DefaultPort = 3000

	DefaultRateLimitWindow = 15 * time.Minute
	DefaultRateLimitMax    = 100

	DefaultSessionIdleTTL    = 30 * time.Minute
	DefaultSessionHistoryMax = 20

	DefaultCacheTTL           = 30 * time.Minute
	DefaultClassifierCacheTTL = time.Hour
	DefaultGeocodeCacheTTL    = 24 * time.Hour
	DefaultCacheMax           = 1000

	DefaultSearchDepth      = "advanced"
	DefaultSearchMaxResults = 5
	DefaultSearchTimeout    = 6 * time.Second
	DefaultSearchMinScore   = 0.5
)

// LogLevel controls log verbosity for the relay server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values can be written as "30m" or
// "6s" instead of raw nanoseconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML decodes a duration string. Bare numbers are rejected so a
// config never silently means nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"30s\", got %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the root configuration structure for Havenline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Session   SessionConfig   `yaml:"session"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings for the relay server.
type ServerConfig struct {
	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port"`

	// PublicURL is the externally reachable base URL of this server, the
	// one registered in the telephony console for webhooks and the media
	// stream. Used for startup logging only; handlers emit relative paths.
	PublicURL string `yaml:"public_url"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain
	// HTTP (typically behind a terminating proxy).
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// RateLimitConfig bounds webhook traffic per remote address.
type RateLimitConfig struct {
	// Window is the fixed-window length.
	Window Duration `yaml:"window"`

	// Max is the number of requests allowed per window.
	Max int `yaml:"max"`
}

// SessionConfig tunes the per-call session registry.
type SessionConfig struct {
	// IdleTTL is how long a silent session survives before being reaped.
	IdleTTL Duration `yaml:"idle_ttl"`

	// HistoryMax bounds the per-call turn history.
	HistoryMax int `yaml:"history_max"`
}

// CacheConfig groups the in-memory caches on the answer path.
type CacheConfig struct {
	// Response caches final spoken answers keyed by normalized utterance.
	Response CacheSpec `yaml:"response"`

	// Retrieval caches search-and-extract results keyed by rewritten query.
	Retrieval CacheSpec `yaml:"retrieval"`

	// Classifier caches LLM-assisted intent decisions.
	Classifier CacheSpec `yaml:"classifier"`

	// Geocode caches resolved locations.
	Geocode CacheSpec `yaml:"geocode"`
}

// CacheSpec bounds one cache instance.
type CacheSpec struct {
	TTL Duration `yaml:"ttl"`
	Max int      `yaml:"max"`
}

// SearchConfig tunes the retrieval pipeline's search requests.
type SearchConfig struct {
	// Depth is the provider search depth, "basic" or "advanced".
	Depth string `yaml:"depth"`

	// MaxResults caps the candidate documents per query.
	MaxResults int `yaml:"max_results"`

	// Timeout bounds one search request.
	Timeout Duration `yaml:"timeout"`

	// MinScore drops results below this provider relevance score.
	// Zero selects the default; scores run 0 to 1.
	MinScore float64 `yaml:"min_score"`

	// IncludeDomains restricts results to these domains when non-empty.
	IncludeDomains []string `yaml:"include_domains"`

	// ExcludeDomains removes results from these domains.
	ExcludeDomains []string `yaml:"exclude_domains"`
}

// ProvidersConfig declares which vendor implementation to use for each
// upstream kind. Each entry's Name selects a factory registered in the
// [Registry].
type ProvidersConfig struct {
	Chat    ProviderConfig `yaml:"chat"`
	STT     ProviderConfig `yaml:"stt"`
	TTS     ProviderConfig `yaml:"tts"`
	Search  ProviderConfig `yaml:"search"`
	SMS     ProviderConfig `yaml:"sms"`
	Geocode ProviderConfig `yaml:"geocode"`
}

// ProviderConfig selects the primary vendor for one kind, with optional
// fallbacks tried in declaration order when the primary fails.
type ProviderConfig struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks lists alternative vendors behind the primary. Only chat,
	// stt, and tts honour fallbacks; other kinds ignore them.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered vendor (e.g. "tavily", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the vendor's API, if any.
	// Supports ${ENV_VAR} references resolved at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the vendor's default API endpoint. Self-hosted
	// vendors (whisperhttp, coqui) use it as the server address.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the vendor (e.g. "gpt-4o-mini",
	// "nova-2").
	Model string `yaml:"model"`

	// Options holds vendor-specific values not covered by the standard
	// fields above. String values support ${ENV_VAR} references.
	Options map[string]any `yaml:"options"`
}
