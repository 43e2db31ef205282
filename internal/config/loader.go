package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known vendor names per provider kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"chat":    {"anyllm", "openai", "anthropic", "ollama"},
	"stt":     {"whisperhttp", "deepgram"},
	"tts":     {"elevenlabs", "coqui"},
	"search":  {"tavily"},
	"sms":     {"twilio"},
	"geocode": {"nominatim"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, resolves
// ${ENV_VAR} credential references, and validates the result. Useful in
// tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	expandCredentials(&cfg.Providers)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated with every default value, as if loaded
// from an empty file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero-valued tunables. Credentials and provider names
// have no defaults; absent providers stay absent.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = Duration(DefaultRateLimitWindow)
	}
	if cfg.RateLimit.Max == 0 {
		cfg.RateLimit.Max = DefaultRateLimitMax
	}
	if cfg.Session.IdleTTL <= 0 {
		cfg.Session.IdleTTL = Duration(DefaultSessionIdleTTL)
	}
	if cfg.Session.HistoryMax == 0 {
		cfg.Session.HistoryMax = DefaultSessionHistoryMax
	}

	applyCacheDefaults(&cfg.Cache.Response, DefaultCacheTTL)
	applyCacheDefaults(&cfg.Cache.Retrieval, DefaultCacheTTL)
	applyCacheDefaults(&cfg.Cache.Classifier, DefaultClassifierCacheTTL)
	applyCacheDefaults(&cfg.Cache.Geocode, DefaultGeocodeCacheTTL)

	if cfg.Search.Depth == "" {
		cfg.Search.Depth = DefaultSearchDepth
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = DefaultSearchMaxResults
	}
	if cfg.Search.Timeout <= 0 {
		cfg.Search.Timeout = Duration(DefaultSearchTimeout)
	}
	if cfg.Search.MinScore == 0 {
		cfg.Search.MinScore = DefaultSearchMinScore
	}
}

func applyCacheDefaults(spec *CacheSpec, ttl time.Duration) {
	if spec.TTL <= 0 {
		spec.TTL = Duration(ttl)
	}
	if spec.Max == 0 {
		spec.Max = DefaultCacheMax
	}
}

// envRef matches ${NAME} environment references in credential strings.
var envRef = regexp.MustCompile(`\$\{(\w+)\}`)

// expandCredentials resolves ${ENV_VAR} references in every provider entry
// so keys never have to live in the config file itself. Unset variables
// expand to "", which the vendor constructors reject at startup.
func expandCredentials(p *ProvidersConfig) {
	for _, pc := range []*ProviderConfig{&p.Chat, &p.STT, &p.TTS, &p.Search, &p.SMS, &p.Geocode} {
		expandEntry(&pc.ProviderEntry)
		for i := range pc.Fallbacks {
			expandEntry(&pc.Fallbacks[i])
		}
	}
}

func expandEntry(e *ProviderEntry) {
	e.APIKey = expandEnv(e.APIKey)
	e.BaseURL = expandEnv(e.BaseURL)
	for k, v := range e.Options {
		if s, ok := v.(string); ok {
			e.Options[k] = expandEnv(s)
		}
	}
}

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all hard failures; soft issues are logged as
// warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicURL != "" {
		if u, err := url.Parse(cfg.Server.PublicURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("server.public_url %q must be an http or https URL", cfg.Server.PublicURL))
		}
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Edge limits
	if cfg.RateLimit.Max < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.max %d must not be negative", cfg.RateLimit.Max))
	}
	if cfg.Session.HistoryMax < 0 {
		errs = append(errs, fmt.Errorf("session.history_max %d must not be negative", cfg.Session.HistoryMax))
	}

	// Caches
	for _, c := range []struct {
		name string
		spec CacheSpec
	}{
		{"cache.response", cfg.Cache.Response},
		{"cache.retrieval", cfg.Cache.Retrieval},
		{"cache.classifier", cfg.Cache.Classifier},
		{"cache.geocode", cfg.Cache.Geocode},
	} {
		if c.spec.Max < 0 {
			errs = append(errs, fmt.Errorf("%s.max %d must not be negative", c.name, c.spec.Max))
		}
	}

	// Search
	if cfg.Search.Depth != "basic" && cfg.Search.Depth != "advanced" {
		errs = append(errs, fmt.Errorf("search.depth %q is invalid; valid values: basic, advanced", cfg.Search.Depth))
	}
	if cfg.Search.MaxResults < 1 {
		errs = append(errs, fmt.Errorf("search.max_results %d must be at least 1", cfg.Search.MaxResults))
	}
	if cfg.Search.MinScore < 0 || cfg.Search.MinScore > 1 {
		errs = append(errs, fmt.Errorf("search.min_score %.2f is out of range [0, 1]", cfg.Search.MinScore))
	}

	// Providers
	errs = append(errs, validateProviderKind("chat", cfg.Providers.Chat)...)
	errs = append(errs, validateProviderKind("stt", cfg.Providers.STT)...)
	errs = append(errs, validateProviderKind("tts", cfg.Providers.TTS)...)
	errs = append(errs, validateProviderKind("search", cfg.Providers.Search)...)
	errs = append(errs, validateProviderKind("sms", cfg.Providers.SMS)...)
	errs = append(errs, validateProviderKind("geocode", cfg.Providers.Geocode)...)

	// Availability warnings: every kind is optional, but callers lose the
	// feature it backs.
	if cfg.Providers.Chat.Name == "" {
		slog.Warn("no chat provider configured; replies fall back to canned lines")
	}
	if cfg.Providers.Search.Name == "" {
		slog.Warn("no search provider configured; retrieval is disabled")
	}
	if cfg.Providers.SMS.Name == "" {
		slog.Warn("no sms provider configured; follow-up texts are disabled")
	}
	if (cfg.Providers.STT.Name == "") != (cfg.Providers.TTS.Name == "") {
		slog.Warn("media streaming needs both stt and tts; only one is configured",
			"stt", cfg.Providers.STT.Name, "tts", cfg.Providers.TTS.Name)
	}

	return errors.Join(errs...)
}

// validateProviderKind checks one kind's primary and fallback entries.
func validateProviderKind(kind string, pc ProviderConfig) []error {
	var errs []error
	validateProviderName(kind, pc.Name)
	if len(pc.Fallbacks) > 0 && pc.Name == "" {
		errs = append(errs, fmt.Errorf("providers.%s.fallbacks configured but providers.%s.name is empty", kind, kind))
	}
	for i, fb := range pc.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
