// Package app wires all Havenline subsystems into a running relay server.
//
// The App struct owns the full lifecycle: New creates and connects the
// pipeline stages, Run serves HTTP until the context ends, and Shutdown
// tears everything down in reverse-init order.
//
// For testing, inject doubles via functional options (WithSessionRegistry,
// WithStats, etc.). When an option is not provided, New creates the real
// subsystem from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/havenline/havenline/internal/audiostore"
	"github.com/havenline/havenline/internal/cache"
	"github.com/havenline/havenline/internal/classify"
	"github.com/havenline/havenline/internal/config"
	"github.com/havenline/havenline/internal/dialog"
	"github.com/havenline/havenline/internal/followup"
	"github.com/havenline/havenline/internal/health"
	"github.com/havenline/havenline/internal/mediastream"
	"github.com/havenline/havenline/internal/observe"
	"github.com/havenline/havenline/internal/ratelimit"
	"github.com/havenline/havenline/internal/retrieval"
	"github.com/havenline/havenline/internal/rewrite"
	"github.com/havenline/havenline/internal/router"
	"github.com/havenline/havenline/internal/session"
	"github.com/havenline/havenline/internal/stats"
	"github.com/havenline/havenline/internal/webhook"
	"github.com/havenline/havenline/pkg/provider/chat"
	"github.com/havenline/havenline/pkg/provider/geocode"
	"github.com/havenline/havenline/pkg/provider/search"
	"github.com/havenline/havenline/pkg/provider/sms"
	"github.com/havenline/havenline/pkg/provider/stt"
	"github.com/havenline/havenline/pkg/provider/tts"
)

// Synthesized clips only need to outlive the speak event or <Play> fetch
// that references them.
const (
	audioTTL = 5 * time.Minute
	audioMax = 256
)

// readHeaderTimeout bounds header parsing on the listener. Request bodies
// and the media websocket carry their own deadlines.
const readHeaderTimeout = 5 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main via the config registry.
type Providers struct {
	Chat    chat.Provider
	STT     stt.Provider
	TTS     tts.Provider
	Search  search.Provider
	SMS     sms.Provider
	Geocode geocode.Provider
}

// App owns all subsystem lifetimes and serves the Havenline relay.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	stats    *stats.Registry
	metrics  *observe.Metrics
	health   *health.Handler
	sessions *session.Registry
	router   *router.Router
	machine  *dialog.Machine
	audio    *audiostore.Store
	stream   *mediastream.Handler
	webhooks *webhook.Server
	server   *http.Server

	// closers run in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionRegistry injects a session registry instead of creating one
// from config.
func WithSessionRegistry(r *session.Registry) Option {
	return func(a *App) { a.sessions = r }
}

// WithStats injects a stats registry instead of creating a fresh one.
func WithStats(reg *stats.Registry) Option {
	return func(a *App) { a.stats = reg }
}

// WithHealth injects a health handler carrying custom readiness checkers.
func WithHealth(h *health.Handler) Option {
	return func(a *App) { a.health = h }
}

// WithMetrics injects metric instruments instead of building them from the
// global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithAudioStore injects the spoken-audio store, letting tests shrink its
// bounds.
func WithAudioStore(s *audiostore.Store) Option {
	return func(a *App) { a.audio = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New is synchronous and does no I/O: every stage is constructed in memory
// and the listener is not opened until Run. Chat and search providers are
// required; SMS, speech, and geocoding degrade gracefully when absent.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if providers.Chat == nil {
		return nil, errors.New("app: a chat provider is required")
	}
	if providers.Search == nil {
		return nil, errors.New("app: a search provider is required")
	}

	// ── 1. Counters, metrics, health ─────────────────────────────────────
	if err := a.initObservability(); err != nil {
		return nil, fmt.Errorf("app: init observability: %w", err)
	}

	// ── 2. Session registry ──────────────────────────────────────────────
	a.initSessions()

	// ── 3. Route pipeline: caches → classify → rewrite → retrieve ────────
	a.initRouter()

	// ── 4. Dialog machine ────────────────────────────────────────────────
	a.initMachine()

	// ── 5. Audio store + media stream ────────────────────────────────────
	a.initMedia()

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initObservability sets up the counter registry and the OTel instruments.
// The health surface is built later, in initHTTP, once the components it
// probes exist.
func (a *App) initObservability() error {
	if a.stats == nil {
		a.stats = stats.New()
	}
	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return err
		}
		a.metrics = m
	}
	return nil
}

// initSessions creates the call-session registry unless one was injected.
func (a *App) initSessions() {
	if a.sessions != nil {
		return
	}
	a.sessions = session.NewRegistry(
		session.WithIdleTTL(a.cfg.Session.IdleTTL.Std()),
		session.WithHistoryMax(a.cfg.Session.HistoryMax),
	)
	a.closers = append(a.closers, func() error { a.sessions.Close(); return nil })
}

// initRouter builds the four caches and the utterance pipeline around them.
func (a *App) initRouter() {
	cfg := a.cfg

	responses := cache.New[*router.Entry](cfg.Cache.Response.TTL.Std(), cfg.Cache.Response.Max)
	retrievals := cache.New[*retrieval.Answer](cfg.Cache.Retrieval.TTL.Std(), cfg.Cache.Retrieval.Max)
	intents := cache.New[classify.Result](cfg.Cache.Classifier.TTL.Std(), cfg.Cache.Classifier.Max)
	locations := cache.New[*geocode.Location](cfg.Cache.Geocode.TTL.Std(), cfg.Cache.Geocode.Max)
	a.closers = append(a.closers,
		func() error { responses.Close(); return nil },
		func() error { retrievals.Close(); return nil },
		func() error { intents.Close(); return nil },
		func() error { locations.Close(); return nil },
	)

	classifier := classify.New(intents, classify.WithChat(a.providers.Chat))

	// A nil geocoder disables location resolution; rewrites still work on
	// the raw location text.
	rewriter := rewrite.New(a.providers.Geocode, locations)

	retriever := retrieval.New(a.providers.Search, retrievals,
		retrieval.WithTimeout(cfg.Search.Timeout.Std()),
		retrieval.WithMinScore(cfg.Search.MinScore),
		retrieval.WithSearchMaxResults(cfg.Search.MaxResults),
		retrieval.WithDepth(search.Depth(cfg.Search.Depth)),
		retrieval.WithIncludeDomains(cfg.Search.IncludeDomains),
		retrieval.WithExcludeDomains(cfg.Search.ExcludeDomains),
		retrieval.WithStats(a.stats),
	)

	followups := followup.New(followup.WithChat(a.providers.Chat))

	a.router = router.New(classifier, rewriter, retriever,
		router.WithFollowups(followups),
		router.WithChat(a.providers.Chat),
		router.WithCache(responses),
		router.WithStats(a.stats),
	)
}

// initMachine builds the dialog state machine over the router and registry.
func (a *App) initMachine() {
	opts := []dialog.Option{
		dialog.WithStats(a.stats),
		dialog.WithSummariser(session.NewChatSummariser(a.providers.Chat)),
	}
	if a.providers.SMS != nil {
		opts = append(opts, dialog.WithSMS(a.providers.SMS))
	}
	a.machine = dialog.New(a.router, a.sessions, opts...)
	a.closers = append(a.closers, func() error { a.machine.Close(); return nil })
}

// initMedia builds the audio store always, and the media-stream handler only
// when both speech providers are configured. Calls still work without them:
// the provider transcribes gathers itself and speaks the TwiML replies.
func (a *App) initMedia() {
	if a.audio == nil {
		a.audio = audiostore.New(audioTTL, audioMax)
		a.closers = append(a.closers, func() error { a.audio.Close(); return nil })
	}

	if a.providers.STT == nil || a.providers.TTS == nil {
		slog.Info("media stream disabled",
			"have_stt", a.providers.STT != nil,
			"have_tts", a.providers.TTS != nil,
		)
		return
	}

	opts := []mediastream.Option{
		mediastream.WithStats(a.stats),
		mediastream.WithMetrics(a.metrics),
	}
	if a.cfg.Server.PublicURL != "" {
		base := strings.TrimRight(a.cfg.Server.PublicURL, "/") + "/audio"
		opts = append(opts, mediastream.WithAudioBase(base))
	}
	a.stream = mediastream.New(a.machine, a.sessions, a.providers.STT, a.providers.TTS, a.audio, opts...)
	a.closers = append(a.closers, func() error { a.stream.Close(); return nil })
}

// initHTTP assembles the health surface, the webhook server, and the
// http.Server around it.
func (a *App) initHTTP() {
	if a.health == nil {
		// Vendor calls are per-turn, so readiness only probes that the
		// in-memory stores still answer: a check that cannot take the
		// registry or store lock within the deadline reports the relay
		// as wedged.
		a.health = health.New(
			health.Checker{Name: "sessions", Check: func(context.Context) error {
				a.sessions.Len()
				return nil
			}},
			health.Checker{Name: "audio_store", Check: func(context.Context) error {
				a.audio.Len()
				return nil
			}},
		)
	}

	if err := a.metrics.TrackActiveCalls(func() int64 { return int64(a.sessions.Len()) }); err != nil {
		slog.Warn("active-calls gauge not registered", "error", err)
	}

	limiter := ratelimit.New(a.cfg.RateLimit.Window.Std(), a.cfg.RateLimit.Max,
		ratelimit.WithStats(a.stats))

	opts := []webhook.Option{
		webhook.WithRouter(a.router),
		webhook.WithAudioStore(a.audio),
		webhook.WithHealth(a.health),
		webhook.WithStats(a.stats),
		webhook.WithLimiter(limiter),
		webhook.WithMetrics(a.metrics),
	}
	if a.stream != nil {
		opts = append(opts, webhook.WithStream(a.stream))
	}
	a.webhooks = webhook.New(a.machine, a.sessions, opts...)

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.webhooks.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Handler returns the assembled HTTP handler. Tests drive it directly
// through httptest instead of binding a port.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the listener and blocks until ctx is cancelled or the listener
// fails. Run does not tear anything down; the caller follows up with
// Shutdown either way.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if t := a.cfg.Server.TLS; t != nil {
			err = a.server.ListenAndServeTLS(t.CertFile, t.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("havenline listening",
		"addr", a.server.Addr,
		"tls", a.cfg.Server.TLS != nil,
		"media_stream", a.stream != nil,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the listener, drains in-flight requests, and tears down all
// subsystems in reverse-init order. It respects the context deadline: if ctx
// expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
