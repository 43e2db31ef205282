// Package webhook mounts the provider-facing HTTP surface: the voice
// webhooks that drive a call turn by turn, the SMS webhook, the status and
// recording callbacks, the media websocket, and the operational endpoints
// (health probes, Prometheus metrics, the stats snapshot, stored audio).
//
// Voice endpoints never answer 5xx while a call is up. Validation failures
// and handler panics degrade to an XML envelope that re-gathers speech, so
// the provider keeps the caller on the line.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/havenline/havenline/internal/audiostore"
	"github.com/havenline/havenline/internal/dialog"
	"github.com/havenline/havenline/internal/health"
	"github.com/havenline/havenline/internal/observe"
	"github.com/havenline/havenline/internal/ratelimit"
	"github.com/havenline/havenline/internal/session"
	"github.com/havenline/havenline/internal/stats"
	"github.com/havenline/havenline/internal/twiml"
)

// Per-endpoint request budgets. The provider retries or drops the call when
// an answer takes longer, so every handler finishes inside its budget.
const (
	budgetVoice     = 6 * time.Second
	budgetProcess   = 12 * time.Second
	budgetInterim   = 1 * time.Second
	budgetStatus    = 3 * time.Second
	budgetRecording = 3 * time.Second
	budgetSMS       = 3 * time.Second
	budgetConsent   = 6 * time.Second
)

// Server builds the HTTP handler tree around the dialog machine.
type Server struct {
	machine  *dialog.Machine
	registry *session.Registry
	router   dialog.Router
	store    *audiostore.Store
	stream   http.Handler
	health   *health.Handler
	stats    *stats.Registry
	limiter  *ratelimit.Limiter
	metrics  *observe.Metrics
	log      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRouter wires the answer router for the SMS webhook. Without it,
// inbound texts get the hotline card.
func WithRouter(r dialog.Router) Option {
	return func(s *Server) {
		s.router = r
	}
}

// WithAudioStore serves synthesized clips at GET /audio/{id}.
func WithAudioStore(store *audiostore.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithStream mounts the media websocket at GET /twilio-stream.
func WithStream(h http.Handler) Option {
	return func(s *Server) {
		s.stream = h
	}
}

// WithHealth mounts the liveness and readiness probes.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithStats serves the counter snapshot at GET /stats and counts edge
// events.
func WithStats(reg *stats.Registry) Option {
	return func(s *Server) {
		s.stats = reg
	}
}

// WithLimiter rate-limits the provider webhooks. Operational endpoints are
// exempt.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithMetrics wraps the handler tree in the request-duration middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates a Server around the dialog machine and session registry.
func New(machine *dialog.Machine, registry *session.Registry, opts ...Option) *Server {
	s := &Server{
		machine:  machine,
		registry: registry,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler assembles the route tree. Provider webhooks run behind the rate
// limiter, a panic recovery specific to their reply format, and their
// request budget; operational endpoints are mounted bare.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.hook(mux, "POST /voice", budgetVoice, s.fallbackRegather, s.handleVoice)
	s.hook(mux, "POST /voice/process", budgetProcess, s.fallbackRegather, s.handleProcess)
	s.hook(mux, "POST /voice/interim", budgetInterim, s.fallbackEmpty, s.handleInterim)
	s.hook(mux, "POST /status", budgetStatus, s.fallbackPlain, s.handleStatus)
	s.hook(mux, "POST /recording", budgetRecording, s.fallbackPlain, s.handleRecording)
	s.hook(mux, "POST /sms", budgetSMS, s.fallbackSMS, s.handleSMS)
	s.hook(mux, "POST /consent", budgetConsent, s.fallbackRegather, s.handleConsent)

	if s.stream != nil {
		mux.Handle("GET /twilio-stream", s.stream)
	}
	if s.store != nil {
		mux.HandleFunc("GET /audio/{id}", s.handleAudio)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.stats != nil {
		mux.HandleFunc("GET /stats", s.handleStats)
	}

	return observe.Middleware(s.metrics)(mux)
}

// hook mounts one provider webhook with its middleware stack.
func (s *Server) hook(mux *http.ServeMux, pattern string, budget time.Duration, fallback func(http.ResponseWriter), fn http.HandlerFunc) {
	var h http.Handler = withBudget(budget, fn)
	h = s.recoverTo(fallback, h)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	mux.Handle(pattern, h)
}

// handleVoice greets a new call and starts listening.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	if callSid == "" {
		s.log.Warn("voice webhook missing CallSid", "remote", r.RemoteAddr)
		s.fallbackRegather(w)
		return
	}
	s.metrics.CallStarted(r.Context())
	out := s.machine.Greet(r.Context(), callSid, r.FormValue("From"))
	s.writeOutcome(w, out)
}

// handleProcess runs one dialog turn on the transcribed speech. An empty
// SpeechResult is the provider reporting silence; the machine re-prompts.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	if callSid == "" {
		s.log.Warn("process webhook missing CallSid", "remote", r.RemoteAddr)
		s.fallbackRegather(w)
		return
	}
	sess, _ := s.registry.GetOrCreate(callSid, r.FormValue("From"))
	start := time.Now()
	out := s.machine.ProcessUtterance(r.Context(), sess, r.FormValue("SpeechResult"))
	s.metrics.ObserveTurn(r.Context(), "webhook", time.Since(start))
	s.writeOutcome(w, out)
}

// handleInterim records partial-speech activity and answers with an empty
// envelope. The provider ignores the body; it only needs a 200.
func (s *Server) handleInterim(w http.ResponseWriter, r *http.Request) {
	if callSid := r.FormValue("CallSid"); callSid != "" {
		if sess, ok := s.registry.Get(callSid); ok {
			s.machine.Interim(sess)
		}
	}
	twiml.Write(w, twiml.NewResponse())
}

// handleStatus applies a call status callback.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	if callSid == "" {
		writeValidationError(w, "CallSid is required")
		return
	}
	s.machine.CallStatus(callSid, r.FormValue("CallStatus"))
	writePlain(w, "ok")
}

// handleRecording acknowledges a recording callback. The URL is validated
// but the recording itself is never fetched; calls stay unrecorded on this
// side.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	recURL := r.FormValue("RecordingUrl")

	var details []string
	if callSid == "" {
		details = append(details, "CallSid is required")
	}
	if recURL == "" {
		details = append(details, "RecordingUrl is required")
	} else if u, err := url.Parse(recURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		details = append(details, "RecordingUrl must be an http or https URL")
	}
	if len(details) > 0 {
		writeValidationError(w, details...)
		return
	}

	s.log.Info("recording available",
		"call_sid", callSid,
		"recording_sid", r.FormValue("RecordingSid"))
	if sess, ok := s.registry.Get(callSid); ok {
		sess.Touch()
	}
	writePlain(w, "ok")
}

// handleSMS answers an inbound text through the router. Texters share the
// voice pipeline's session model under a synthetic call id, so follow-up
// texts keep their context.
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	from := r.FormValue("From")
	body := strings.TrimSpace(r.FormValue("Body"))
	if from == "" || body == "" || s.router == nil {
		s.writeMessage(w, dialog.LineSMSFallback)
		return
	}

	sess, _ := s.registry.GetOrCreate("sms:"+from, from)
	ans, err := s.router.Route(r.Context(), body, sess)
	if err != nil || ans == nil {
		s.log.Warn("sms route failed", "error", err)
		s.writeMessage(w, dialog.LineSMSFallback)
		return
	}

	reply := ans.SMS
	if reply == "" {
		reply = ans.Voice
	}
	if reply == "" {
		reply = dialog.LineSMSFallback
	}
	s.writeMessage(w, reply)
}

// handleConsent resolves the end-of-call consent question.
func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	if callSid == "" {
		s.fallbackRegather(w)
		return
	}
	sess, ok := s.registry.Get(callSid)
	if !ok {
		// The session is already gone; end cleanly.
		twiml.Write(w, twiml.NewResponse(twiml.Say{Text: dialog.LineGoodbye}, twiml.Hangup{}))
		return
	}
	out := s.machine.ConsentAnswer(r.Context(), sess, r.FormValue("SpeechResult"))
	s.writeOutcome(w, out)
}

// handleAudio serves one stored clip for the provider's Play fetch.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(entry.Data)
}

// handleStats serves the counter snapshot.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(s.stats.Snapshot())
}

// writeOutcome renders a dialog outcome as the provider envelope: say the
// reply, then either hang up or listen again. The trailing redirect re-posts
// to the action when the gather times out on silence, which drives the
// machine's re-prompt escalation.
func (s *Server) writeOutcome(w http.ResponseWriter, out *dialog.Outcome) {
	if out.Hangup {
		verbs := make([]any, 0, 2)
		if out.Speak != "" {
			verbs = append(verbs, twiml.Say{Text: out.Speak})
		}
		verbs = append(verbs, twiml.Hangup{})
		twiml.Write(w, twiml.NewResponse(verbs...))
		return
	}

	action := out.Action
	if action == "" {
		action = dialog.ActionProcess
	}
	gather := twiml.GatherSpeech(action)
	if out.Speak != "" {
		gather.Verbs = []any{twiml.Say{Text: out.Speak}}
	}
	twiml.Write(w, twiml.NewResponse(
		gather,
		twiml.Redirect{Method: "POST", URL: action},
	))
}

// writeMessage renders a messaging reply envelope.
func (s *Server) writeMessage(w http.ResponseWriter, body string) {
	twiml.Write(w, twiml.NewResponse(twiml.Message{Body: body}))
}

// fallbackRegather is the degraded voice reply: apologize and listen again.
func (s *Server) fallbackRegather(w http.ResponseWriter) {
	gather := twiml.GatherSpeech(dialog.ActionProcess)
	gather.Verbs = []any{twiml.Say{Text: dialog.LineTrouble}}
	twiml.Write(w, twiml.NewResponse(gather))
}

// fallbackEmpty answers with the empty envelope.
func (s *Server) fallbackEmpty(w http.ResponseWriter) {
	twiml.Write(w, twiml.NewResponse())
}

// fallbackPlain acknowledges a callback the provider does not parse.
func (s *Server) fallbackPlain(w http.ResponseWriter) {
	writePlain(w, "ok")
}

// fallbackSMS answers an inbound text with the hotline card.
func (s *Server) fallbackSMS(w http.ResponseWriter) {
	s.writeMessage(w, dialog.LineSMSFallback)
}

// recoverTo converts a handler panic into the endpoint's degraded reply.
// Dropping the request with a 5xx would drop the call.
func (s *Server) recoverTo(fallback func(http.ResponseWriter), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.inc(stats.WebhookPanics)
				s.log.Error("webhook panic",
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()))
				fallback(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withBudget binds the endpoint's request budget to the context.
func withBudget(d time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) inc(name string) {
	if s.stats != nil {
		s.stats.Inc(name)
	}
}

func writePlain(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

// writeValidationError answers a malformed callback. Only the non-voice
// endpoints use it; voice endpoints degrade to XML instead.
func writeValidationError(w http.ResponseWriter, details ...string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   "validation failed",
		"details": details,
	})
}
