package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/havenline/havenline/internal/config"
	"github.com/havenline/havenline/pkg/provider/chat"
	chatmock "github.com/havenline/havenline/pkg/provider/chat/mock"
	"github.com/havenline/havenline/pkg/provider/search"
	searchmock "github.com/havenline/havenline/pkg/provider/search/mock"
	"github.com/havenline/havenline/pkg/provider/sms"
	smsmock "github.com/havenline/havenline/pkg/provider/sms/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  port: 8080
  public_url: https://relay.example.org
  log_level: info

rate_limit:
  window: 5m
  max: 40

session:
  idle_ttl: 10m
  history_max: 12

cache:
  response:
    ttl: 15m
    max: 500
  geocode:
    ttl: 48h

search:
  depth: basic
  max_results: 3
  timeout: 4s
  min_score: 0.6
  exclude_domains:
    - pinterest.com
    - reddit.com

providers:
  chat:
    name: anyllm
    api_key: sk-test
    model: gpt-4o-mini
    options:
      backend: openai
    fallbacks:
      - name: openai
        api_key: sk-fallback
        model: gpt-4o-mini
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-2
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      voice_id: rachel
  search:
    name: tavily
    api_key: tvly-test
  sms:
    name: twilio
    api_key: tw-auth-token
    options:
      account_sid: AC123
      from: "+15550001111"
  geocode:
    name: nominatim
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.PublicURL != "https://relay.example.org" {
		t.Errorf("server.public_url: got %q", cfg.Server.PublicURL)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server.log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if got := cfg.RateLimit.Window.Std(); got != 5*time.Minute {
		t.Errorf("rate_limit.window: got %v, want 5m", got)
	}
	if cfg.RateLimit.Max != 40 {
		t.Errorf("rate_limit.max: got %d, want 40", cfg.RateLimit.Max)
	}
	if got := cfg.Session.IdleTTL.Std(); got != 10*time.Minute {
		t.Errorf("session.idle_ttl: got %v, want 10m", got)
	}
	if cfg.Session.HistoryMax != 12 {
		t.Errorf("session.history_max: got %d, want 12", cfg.Session.HistoryMax)
	}
	if got := cfg.Cache.Response.TTL.Std(); got != 15*time.Minute {
		t.Errorf("cache.response.ttl: got %v, want 15m", got)
	}
	if cfg.Cache.Response.Max != 500 {
		t.Errorf("cache.response.max: got %d, want 500", cfg.Cache.Response.Max)
	}
	if cfg.Search.Depth != "basic" {
		t.Errorf("search.depth: got %q, want basic", cfg.Search.Depth)
	}
	if cfg.Search.MinScore != 0.6 {
		t.Errorf("search.min_score: got %.2f, want 0.6", cfg.Search.MinScore)
	}
	if len(cfg.Search.ExcludeDomains) != 2 {
		t.Errorf("search.exclude_domains: got %d entries, want 2", len(cfg.Search.ExcludeDomains))
	}
	if cfg.Providers.Chat.Name != "anyllm" {
		t.Errorf("providers.chat.name: got %q, want anyllm", cfg.Providers.Chat.Name)
	}
	if len(cfg.Providers.Chat.Fallbacks) != 1 || cfg.Providers.Chat.Fallbacks[0].Name != "openai" {
		t.Errorf("providers.chat.fallbacks: got %+v, want one openai entry", cfg.Providers.Chat.Fallbacks)
	}
	if got := cfg.Providers.SMS.Options["account_sid"]; got != "AC123" {
		t.Errorf("providers.sms.options.account_sid: got %v, want AC123", got)
	}
}

func TestLoadFromReader_DefaultsFillGaps(t *testing.T) {
	// The sample leaves retrieval/classifier caches and the geocode max
	// unset; defaults must fill them without touching explicit values.
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := cfg.Cache.Retrieval.TTL.Std(); got != config.DefaultCacheTTL {
		t.Errorf("cache.retrieval.ttl: got %v, want default %v", got, config.DefaultCacheTTL)
	}
	if got := cfg.Cache.Classifier.TTL.Std(); got != config.DefaultClassifierCacheTTL {
		t.Errorf("cache.classifier.ttl: got %v, want default %v", got, config.DefaultClassifierCacheTTL)
	}
	if got := cfg.Cache.Geocode.TTL.Std(); got != 48*time.Hour {
		t.Errorf("cache.geocode.ttl: got %v, want explicit 48h", got)
	}
	if cfg.Cache.Geocode.Max != config.DefaultCacheMax {
		t.Errorf("cache.geocode.max: got %d, want default %d", cfg.Cache.Geocode.Max, config.DefaultCacheMax)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	// An empty config should succeed (no required top-level fields) and
	// carry the documented defaults.
	cfg, err := config.LoadFromReader(strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.Server.Port != config.DefaultPort {
		t.Errorf("server.port: got %d, want default %d", cfg.Server.Port, config.DefaultPort)
	}
	if got := cfg.RateLimit.Window.Std(); got != config.DefaultRateLimitWindow {
		t.Errorf("rate_limit.window: got %v, want default %v", got, config.DefaultRateLimitWindow)
	}
	if cfg.Search.Depth != config.DefaultSearchDepth {
		t.Errorf("search.depth: got %q, want default %q", cfg.Search.Depth, config.DefaultSearchDepth)
	}
	if cfg.Search.MinScore != config.DefaultSearchMinScore {
		t.Errorf("search.min_score: got %.2f, want default %.2f", cfg.Search.MinScore, config.DefaultSearchMinScore)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := `
server:
  port: 8080
  listen_addr: ":8080"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_addr") {
		t.Errorf("error should mention the unknown field, got: %v", err)
	}
}

func TestDefault_MatchesDocumentedValues(t *testing.T) {
	cfg := config.Default()

	if cfg.Server.Port != 3000 {
		t.Errorf("port: got %d, want 3000", cfg.Server.Port)
	}
	if got := cfg.Session.IdleTTL.Std(); got != 30*time.Minute {
		t.Errorf("session.idle_ttl: got %v, want 30m", got)
	}
	if cfg.Session.HistoryMax != 20 {
		t.Errorf("session.history_max: got %d, want 20", cfg.Session.HistoryMax)
	}
	if got := cfg.Cache.Geocode.TTL.Std(); got != 24*time.Hour {
		t.Errorf("cache.geocode.ttl: got %v, want 24h", got)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("search.max_results: got %d, want 5", cfg.Search.MaxResults)
	}
	if got := cfg.Search.Timeout.Std(); got != 6*time.Second {
		t.Errorf("search.timeout: got %v, want 6s", got)
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_UnknownChat(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateChat(config.ProviderEntry{Name: "nonexistent"})
	if err == nil {
		t.Fatal("expected error for unknown chat provider")
	}
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownSTT(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownTTS(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownSearch(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateSearch(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownSMS(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateSMS(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_UnknownGeocode(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateGeocode(config.ProviderEntry{Name: "nonexistent"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got: %v", err)
	}
}

// ── Registry with registered factories ───────────────────────────────────────

func TestRegistry_RegisteredChat(t *testing.T) {
	reg := config.NewRegistry()
	want := &chatmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterChat("mock", func(e config.ProviderEntry) (chat.Provider, error) {
		gotEntry = e
		return want, nil
	})
	got, err := reg.CreateChat(config.ProviderEntry{Name: "mock", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
	if gotEntry.Model != "gpt-4o-mini" {
		t.Errorf("factory entry.Model: got %q, want gpt-4o-mini", gotEntry.Model)
	}
}

func TestRegistry_RegisteredSearch(t *testing.T) {
	reg := config.NewRegistry()
	want := &searchmock.Provider{}
	reg.RegisterSearch("mock", func(e config.ProviderEntry) (search.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateSearch(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_RegisteredSMS(t *testing.T) {
	reg := config.NewRegistry()
	want := &smsmock.Provider{}
	reg.RegisterSMS("mock", func(e config.ProviderEntry) (sms.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateSMS(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the expected instance")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterChat("broken", func(e config.ProviderEntry) (chat.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateChat(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_OverwriteKeepsLatest(t *testing.T) {
	reg := config.NewRegistry()
	first := &chatmock.Provider{}
	second := &chatmock.Provider{}
	reg.RegisterChat("mock", func(config.ProviderEntry) (chat.Provider, error) { return first, nil })
	reg.RegisterChat("mock", func(config.ProviderEntry) (chat.Provider, error) { return second, nil })

	got, err := reg.CreateChat(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != second {
		t.Error("later registration should replace the earlier one")
	}
}
