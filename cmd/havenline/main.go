// Command havenline is the main entry point for the Havenline relay server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/havenline/havenline/internal/app"
	"github.com/havenline/havenline/internal/config"
	"github.com/havenline/havenline/internal/observe"
	"github.com/havenline/havenline/internal/resilience"
	"github.com/havenline/havenline/pkg/provider/chat"
	"github.com/havenline/havenline/pkg/provider/chat/anyllm"
	"github.com/havenline/havenline/pkg/provider/chat/openai"
	"github.com/havenline/havenline/pkg/provider/geocode"
	"github.com/havenline/havenline/pkg/provider/geocode/nominatim"
	"github.com/havenline/havenline/pkg/provider/search"
	"github.com/havenline/havenline/pkg/provider/search/tavily"
	"github.com/havenline/havenline/pkg/provider/sms"
	"github.com/havenline/havenline/pkg/provider/sms/twilio"
	"github.com/havenline/havenline/pkg/provider/stt"
	"github.com/havenline/havenline/pkg/provider/stt/deepgram"
	"github.com/havenline/havenline/pkg/provider/stt/whisperhttp"
	"github.com/havenline/havenline/pkg/provider/tts"
	"github.com/havenline/havenline/pkg/provider/tts/coqui"
	"github.com/havenline/havenline/pkg/provider/tts/elevenlabs"
)

// version is stamped by the release build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "havenline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "havenline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("havenline starting",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Metrics ───────────────────────────────────────────────────────────────
	// Registers the global meter provider backed by the Prometheus exporter;
	// the /metrics endpoint serves whatever it collects.
	metricsShutdown, err := observe.InitMetrics(observe.MetricsConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsShutdown(flushCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Chat ──────────────────────────────────────────────────────────────────
	// openai uses the official SDK; anthropic and ollama ride the any-llm-go
	// multi-backend client. "anyllm" exposes the remaining any-llm-go backends
	// (gemini, deepseek, mistral, groq, ...) via options.backend.

	reg.RegisterChat("openai", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterChat("anthropic", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []anyllm.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllm.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllm.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("anthropic", entry.Model, opts...)
	})

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterChat("ollama", func(entry config.ProviderEntry) (chat.Provider, error) {
		var opts []anyllm.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllm.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterChat("anyllm", func(entry config.ProviderEntry) (chat.Provider, error) {
		backend := optString(entry.Options, "backend")
		if backend == "" {
			return nil, fmt.Errorf(`chat provider "anyllm" needs options.backend (e.g. "gemini", "groq")`)
		}
		var opts []anyllm.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllm.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllm.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(backend, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisperhttp", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisperhttp.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisperhttp.WithLanguage(lang))
		}
		return whisperhttp.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice_id"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Search ────────────────────────────────────────────────────────────────

	reg.RegisterSearch("tavily", func(entry config.ProviderEntry) (search.Provider, error) {
		var opts []tavily.Option
		if entry.BaseURL != "" {
			opts = append(opts, tavily.WithBaseURL(entry.BaseURL))
		}
		return tavily.New(entry.APIKey, opts...)
	})

	// ── SMS ───────────────────────────────────────────────────────────────────

	// twilio authenticates with an account SID plus auth token; the token
	// rides the standard api_key field.
	reg.RegisterSMS("twilio", func(entry config.ProviderEntry) (sms.Provider, error) {
		var opts []twilio.Option
		if entry.BaseURL != "" {
			opts = append(opts, twilio.WithBaseURL(entry.BaseURL))
		}
		return twilio.New(
			optString(entry.Options, "account_sid"),
			entry.APIKey,
			optString(entry.Options, "from"),
			opts...,
		)
	})

	// ── Geocode ───────────────────────────────────────────────────────────────

	reg.RegisterGeocode("nominatim", func(entry config.ProviderEntry) (geocode.Provider, error) {
		var opts []nominatim.Option
		if entry.BaseURL != "" {
			opts = append(opts, nominatim.WithBaseURL(entry.BaseURL))
		}
		return nominatim.New(opts...), nil
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. Chat, STT, and TTS entries with fallbacks are wrapped in a
// circuit-breaking failover group; other kinds ignore fallback entries.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if pc := cfg.Providers.Chat; pc.Name != "" {
		p, err := reg.CreateChat(pc.ProviderEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider name — skipping", "kind", "chat", "name", pc.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create chat provider %q: %w", pc.Name, err)
		} else if len(pc.Fallbacks) == 0 {
			ps.Chat = p
			slog.Info("provider created", "kind", "chat", "name", pc.Name)
		} else {
			fb := resilience.NewChatFallback(pc.Name, p)
			for _, alt := range pc.Fallbacks {
				ap, err := reg.CreateChat(alt)
				if err != nil {
					return nil, fmt.Errorf("create chat fallback %q: %w", alt.Name, err)
				}
				fb.AddFallback(alt.Name, ap)
			}
			ps.Chat = fb
			slog.Info("provider created", "kind", "chat", "name", pc.Name, "fallbacks", len(pc.Fallbacks))
		}
	}

	if pc := cfg.Providers.STT; pc.Name != "" {
		p, err := reg.CreateSTT(pc.ProviderEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider name — skipping", "kind", "stt", "name", pc.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", pc.Name, err)
		} else if len(pc.Fallbacks) == 0 {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", pc.Name)
		} else {
			fb := resilience.NewSTTFallback(pc.Name, p)
			for _, alt := range pc.Fallbacks {
				ap, err := reg.CreateSTT(alt)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", alt.Name, err)
				}
				fb.AddFallback(alt.Name, ap)
			}
			ps.STT = fb
			slog.Info("provider created", "kind", "stt", "name", pc.Name, "fallbacks", len(pc.Fallbacks))
		}
	}

	if pc := cfg.Providers.TTS; pc.Name != "" {
		p, err := reg.CreateTTS(pc.ProviderEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider name — skipping", "kind", "tts", "name", pc.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", pc.Name, err)
		} else if len(pc.Fallbacks) == 0 {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", pc.Name)
		} else {
			fb := resilience.NewTTSFallback(pc.Name, p)
			for _, alt := range pc.Fallbacks {
				ap, err := reg.CreateTTS(alt)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", alt.Name, err)
				}
				fb.AddFallback(alt.Name, ap)
			}
			ps.TTS = fb
			slog.Info("provider created", "kind", "tts", "name", pc.Name, "fallbacks", len(pc.Fallbacks))
		}
	}

	if pc := cfg.Providers.Search; pc.Name != "" {
		p, err := reg.CreateSearch(pc.ProviderEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider name — skipping", "kind", "search", "name", pc.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create search provider %q: %w", pc.Name, err)
		} else {
			ps.Search = p
			slog.Info("provider created", "kind", "search", "name", pc.Name)
		}
	}

	if pc := cfg.Providers.SMS; pc.Name != "" {
		p, err := reg.CreateSMS(pc.ProviderEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider name — skipping", "kind", "sms", "name", pc.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create sms provider %q: %w", pc.Name, err)
		} else {
			ps.SMS = p
			slog.Info("provider created", "kind", "sms", "name", pc.Name)
		}
	}

	if pc := cfg.Providers.Geocode; pc.Name != "" {
		p, err := reg.CreateGeocode(pc.ProviderEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider name — skipping", "kind", "geocode", "name", pc.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create geocode provider %q: %w", pc.Name, err)
		} else {
			ps.Geocode = p
			slog.Info("provider created", "kind", "geocode", "name", pc.Name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Havenline — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Chat", cfg.Providers.Chat.Name, cfg.Providers.Chat.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Search", cfg.Providers.Search.Name, cfg.Providers.Search.Model)
	printProvider("SMS", cfg.Providers.SMS.Name, "")
	printProvider("Geocode", cfg.Providers.Geocode.Name, "")
	if cfg.Providers.STT.Name != "" && cfg.Providers.TTS.Name != "" {
		fmt.Printf("║  Media stream    : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Media stream    : %-19s ║\n", "(webhook only)")
	}
	fallbacks := len(cfg.Providers.Chat.Fallbacks) +
		len(cfg.Providers.STT.Fallbacks) +
		len(cfg.Providers.TTS.Fallbacks)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", fallbacks)
	if cfg.Server.PublicURL != "" {
		u := cfg.Server.PublicURL
		if len(u) > 19 {
			u = u[:16] + "…"
		}
		fmt.Printf("║  Public URL      : %-19s ║\n", u)
	}
	fmt.Printf("║  Listen port     : %-19d ║\n", cfg.Server.Port)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
