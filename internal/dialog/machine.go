// Package dialog drives the per-call conversation: the state machine that
// turns routed answers into spoken turns, the consent branch for SMS
// follow-ups, idle re-prompts, and end-of-call teardown. It also owns every
// canonical user-visible line (lines.go) and the fuzzy phrase matching that
// absorbs transcription noise (phrases.go).
package dialog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/havenline/havenline/internal/session"
	"github.com/havenline/havenline/internal/stats"
	"github.com/havenline/havenline/pkg/provider/sms"
	"github.com/havenline/havenline/pkg/upstream"
)

// Gather action paths. The webhook mux mounts its handlers on the same
// constants, so a reply's next hop always matches a real route.
const (
	ActionProcess = "/voice/process"
	ActionConsent = "/consent"
)

const (
	defaultRouterTimeout = 10 * time.Second
	defaultMaxReprompts  = 2
	smsSendTimeout       = 15 * time.Second
)

// Answer is one routed reply for a single utterance. The router produces it;
// the machine decides what to store, send, and say.
type Answer struct {
	// Voice is the complete spoken reply.
	Voice string
	// SMS is the text form backing a later send, or "".
	SMS string
	// SendSMS asks the machine to enqueue the send now (consent granted).
	SendSMS bool
	// AskSMS asks the machine to wait for a yes/no on texting the details.
	// The spoken question is already part of Voice.
	AskSMS bool
	// EndRequested reports that the classifier read the utterance as a
	// goodbye the phrase list missed. The machine runs its consent branch
	// and discards Voice.
	EndRequested bool
	// Source names the branch that produced the answer, for logging.
	Source string
}

// Router resolves one utterance into an Answer.
type Router interface {
	Route(ctx context.Context, utterance string, sess *session.CallSession) (*Answer, error)
}

// Outcome tells the transport layer what to do after speaking.
type Outcome struct {
	// Speak is the text to say.
	Speak string
	// Action is the path the next speech capture posts to, or "" when the
	// turn ends without listening again.
	Action string
	// Hangup ends the call after speaking.
	Hangup bool
}

// Machine is the per-call dialog engine. One Machine serves all calls;
// per-call state lives in the session. Safe for concurrent use.
type Machine struct {
	router   Router
	registry *session.Registry
	sms      sms.Provider
	summ     session.Summariser
	stats    *stats.Registry
	log      *slog.Logger

	routerTimeout time.Duration
	maxReprompts  int

	wg sync.WaitGroup
}

// Option configures a Machine.
type Option func(*Machine)

// WithSMS enables SMS sends. Nil leaves them logged and skipped.
func WithSMS(p sms.Provider) Option {
	return func(m *Machine) {
		m.sms = p
	}
}

// WithSummariser enables the end-of-call conversation summary used when no
// SMS body was stored during the call.
func WithSummariser(s session.Summariser) Option {
	return func(m *Machine) {
		m.summ = s
	}
}

// WithStats counts calls, turns, and sends in reg.
func WithStats(reg *stats.Registry) Option {
	return func(m *Machine) {
		m.stats = reg
	}
}

// WithRouterTimeout bounds one routed turn. Defaults to 10s; the webhook
// budget above it is 12s.
func WithRouterTimeout(d time.Duration) Option {
	return func(m *Machine) {
		m.routerTimeout = d
	}
}

// WithMaxReprompts sets how many consecutive silences are re-prompted before
// the call is ended. Defaults to 2.
func WithMaxReprompts(n int) Option {
	return func(m *Machine) {
		m.maxReprompts = n
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		m.log = l
	}
}

// New returns a Machine driving sessions from registry through router.
func New(router Router, registry *session.Registry, opts ...Option) *Machine {
	m := &Machine{
		router:        router,
		registry:      registry,
		log:           slog.Default(),
		routerTimeout: defaultRouterTimeout,
		maxReprompts:  defaultMaxReprompts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Greet opens the call: it creates or revives the session and returns the
// greeting with a speech capture.
func (m *Machine) Greet(ctx context.Context, callSid, caller string) *Outcome {
	sess, created := m.registry.GetOrCreate(callSid, caller)
	if created {
		m.inc(stats.CallsStarted)
		m.log.Info("call started", "call_sid", callSid, "caller", redactNumber(caller))
	}
	sess.Touch()
	if sess.State() == session.StateGreeting {
		sess.SetState(session.StateAwaitingUtterance)
	}
	return &Outcome{Speak: LineGreeting, Action: ActionProcess}
}

// ProcessUtterance runs one full dialog turn for an utterance delivered by
// the provider. Turns for the same call are strictly serialized; ctx carries
// the transport's budget.
func (m *Machine) ProcessUtterance(ctx context.Context, sess *session.CallSession, utterance string) *Outcome {
	if err := sess.BeginTurn(ctx); err != nil {
		return &Outcome{Speak: LineSlow, Action: ActionProcess}
	}
	defer sess.EndTurn()

	sess.Touch()
	utterance = strings.TrimSpace(utterance)

	switch sess.State() {
	case session.StateEnding, session.StateEnded:
		return &Outcome{Speak: LineGoodbye, Hangup: true}
	case session.StateAwaitingConsent:
		// The provider posted the consent answer to the regular action.
		return m.consentLocked(sess, utterance)
	}

	if utterance == "" {
		return m.reprompt(sess)
	}
	sess.ResetReprompts()
	m.inc(stats.TurnsProcessed)

	if IsEndPhrase(utterance) {
		sess.SetState(session.StateAwaitingConsent)
		return &Outcome{Speak: LineConsentAsk, Action: ActionConsent}
	}

	if sess.TakePendingSMSAsk() {
		if out := m.answerSMSAsk(sess, utterance); out != nil {
			return out
		}
		// Not a yes/no: treat the utterance as a fresh request.
	}

	sess.SetState(session.StateProcessing)
	sess.AddTurn(session.RoleUser, utterance)

	rctx, cancel := context.WithTimeout(ctx, m.routerTimeout)
	ans, err := m.router.Route(rctx, utterance, sess)
	cancel()

	sess.SetState(session.StateAwaitingUtterance)
	if err != nil {
		speak := LineTrouble
		if errors.Is(err, context.DeadlineExceeded) || upstream.IsKind(err, upstream.KindTimeout) {
			speak = LineSlow
		}
		m.log.Warn("turn failed", "call_sid", sess.ID, "error", err)
		return &Outcome{Speak: speak, Action: ActionProcess}
	}

	if ans.EndRequested {
		sess.SetState(session.StateAwaitingConsent)
		return &Outcome{Speak: LineConsentAsk, Action: ActionConsent}
	}

	sess.AddTurn(session.RoleAssistant, ans.Voice)
	if ans.SMS != "" {
		sess.SetLastSMS(ans.SMS)
	}
	if ans.SendSMS && ans.SMS != "" {
		m.enqueueSMS(sess, ans.SMS)
	}
	if ans.AskSMS {
		sess.SetPendingSMSAsk(true)
	}
	m.log.Info("turn answered", "call_sid", sess.ID, "source", ans.Source)
	return &Outcome{Speak: ans.Voice, Action: ActionProcess}
}

// Interim records partial-speech activity so the idle clock does not fire
// while the caller is mid-sentence.
func (m *Machine) Interim(sess *session.CallSession) {
	sess.Touch()
}

// ConsentAnswer resolves the end-of-call consent question.
func (m *Machine) ConsentAnswer(ctx context.Context, sess *session.CallSession, utterance string) *Outcome {
	if err := sess.BeginTurn(ctx); err != nil {
		return &Outcome{Speak: LineConsentRepeat, Action: ActionConsent}
	}
	defer sess.EndTurn()
	sess.Touch()
	return m.consentLocked(sess, strings.TrimSpace(utterance))
}

// consentLocked handles a consent answer. Caller holds the turn slot.
func (m *Machine) consentLocked(sess *session.CallSession, utterance string) *Outcome {
	switch ParseYesNo(utterance) {
	case VerdictYes:
		sess.SetConsent(session.ConsentGranted)
		sess.SetState(session.StateEnding)
		if sess.ClaimSMSSend() {
			m.enqueueFinalSMS(sess)
		}
		return &Outcome{Speak: LineConsentYes, Hangup: true}
	case VerdictNo:
		sess.SetConsent(session.ConsentDenied)
		sess.SetState(session.StateEnding)
		return &Outcome{Speak: LineConsentNo, Hangup: true}
	default:
		return &Outcome{Speak: LineConsentRepeat, Action: ActionConsent}
	}
}

// Reprompt nudges an idle caller. The second value reports that the idle
// budget is spent and the call should end after speaking. Media transports
// call this from their own idle timer; webhook calls reach the same logic
// through an empty SpeechResult.
func (m *Machine) Reprompt(sess *session.CallSession) (string, bool) {
	n := sess.IncReprompt()
	if n > m.maxReprompts {
		sess.SetState(session.StateEnding)
		return LineGoodbye, true
	}
	return LineReprompt, false
}

func (m *Machine) reprompt(sess *session.CallSession) *Outcome {
	line, done := m.Reprompt(sess)
	if done {
		return &Outcome{Speak: line, Hangup: true}
	}
	return &Outcome{Speak: line, Action: ActionProcess}
}

// answerSMSAsk resolves a pending mid-call text offer. A non-answer returns
// nil and the utterance flows on to the router.
func (m *Machine) answerSMSAsk(sess *session.CallSession, utterance string) *Outcome {
	switch ParseYesNo(utterance) {
	case VerdictYes:
		sess.SetConsent(session.ConsentGranted)
		if body := sess.LastSMS(); body != "" {
			m.enqueueSMS(sess, body)
			return &Outcome{Speak: LineSMSSent, Action: ActionProcess}
		}
		return &Outcome{Speak: LineSMSDeclined, Action: ActionProcess}
	case VerdictNo:
		sess.SetConsent(session.ConsentDenied)
		return &Outcome{Speak: LineSMSDeclined, Action: ActionProcess}
	default:
		return nil
	}
}

// CallStatus applies a provider status callback. Terminal statuses tear the
// session down.
func (m *Machine) CallStatus(callSid, status string) {
	switch status {
	case "completed", "busy", "failed", "no-answer", "canceled":
		if sess, ok := m.registry.Get(callSid); ok {
			m.EndCall(sess)
		}
	default:
		if sess, ok := m.registry.Get(callSid); ok {
			sess.Touch()
		}
	}
}

// EndCall moves the session to Ended and tears it down in the background:
// optional summary, consent-gated SMS, then context cancellation and
// registry removal once those upstream calls have finished.
func (m *Machine) EndCall(sess *session.CallSession) {
	if sess.State() == session.StateEnded {
		return
	}
	sess.SetState(session.StateEnded)
	m.inc(stats.CallsEnded)
	m.log.Info("call ended", "call_sid", sess.ID, "consent", sess.Consent().String())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.finish(sess)
	}()
}

// Close waits for background teardown work (summaries, SMS sends) to finish.
func (m *Machine) Close() {
	m.wg.Wait()
}

// finish completes teardown for one ended call. It runs detached from any
// request context: the sends it makes must outlive the webhook that
// triggered them, and the session is only deleted after they complete.
func (m *Machine) finish(sess *session.CallSession) {
	ctx, cancel := context.WithTimeout(context.Background(), smsSendTimeout)
	defer cancel()

	if sess.Consent() == session.ConsentGranted && sess.ClaimSMSSend() {
		m.sendSMS(ctx, sess, m.finalBody(ctx, sess))
	}

	sess.End()
	m.registry.Delete(sess.ID)
}

// finalBody picks the text for the end-of-call send: the stored answer if
// one exists, else a generated conversation summary, else the hotline card.
func (m *Machine) finalBody(ctx context.Context, sess *session.CallSession) string {
	if body := sess.LastSMS(); body != "" {
		return body
	}
	if m.summ != nil {
		if summary, err := m.summ.Summarise(ctx, sess.History()); err == nil && summary != "" {
			return summary
		} else if err != nil {
			m.log.Warn("summary failed", "call_sid", sess.ID, "error", err)
		}
	}
	return LineSMSFallback
}

// enqueueFinalSMS sends the end-of-call text without blocking the consent
// webhook. The send is detached from the request context: the provider
// hangs up immediately after this reply.
func (m *Machine) enqueueFinalSMS(sess *session.CallSession) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), smsSendTimeout)
		defer cancel()
		m.sendSMS(ctx, sess, m.finalBody(ctx, sess))
	}()
}

// enqueueSMS sends a mid-call text in the background, tied to the session
// context so a hangup aborts it.
func (m *Machine) enqueueSMS(sess *session.CallSession, body string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(sess.Context(), smsSendTimeout)
		defer cancel()
		m.sendSMS(ctx, sess, body)
	}()
}

func (m *Machine) sendSMS(ctx context.Context, sess *session.CallSession, body string) {
	if m.sms == nil || sess.Caller == "" || body == "" {
		m.log.Info("sms skipped", "call_sid", sess.ID,
			"have_provider", m.sms != nil, "have_caller", sess.Caller != "")
		return
	}
	receipt, err := m.sms.Send(ctx, sess.Caller, body)
	if err != nil {
		m.inc(stats.SMSFailed)
		m.log.Warn("sms send failed", "call_sid", sess.ID, "error", err)
		return
	}
	m.inc(stats.SMSSent)
	m.log.Info("sms sent", "call_sid", sess.ID, "sms_id", receipt.ID, "status", receipt.Status)
}

func (m *Machine) inc(name string) {
	if m.stats != nil {
		m.stats.Inc(name)
	}
}

// redactNumber keeps the last four digits of a phone number for logs.
func redactNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return "…" + number[len(number)-4:]
}
