// Package router resolves one caller utterance into one spoken answer. It
// chains the turn's decision points in a fixed order: pending location
// confirmation, follow-up on the previous search, safety exits, then the
// classified branch where retrieval and the full classifier run concurrently
// and the confidence band picks between retrieval-only, chat grounded on the
// retrieved results, and plain chat. Any branch failure degrades to chat
// without context rather than an audible error.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/havenline/havenline/internal/cache"
	"github.com/havenline/havenline/internal/classify"
	"github.com/havenline/havenline/internal/dialog"
	"github.com/havenline/havenline/internal/followup"
	"github.com/havenline/havenline/internal/retrieval"
	"github.com/havenline/havenline/internal/rewrite"
	"github.com/havenline/havenline/internal/session"
	"github.com/havenline/havenline/internal/stats"
	"github.com/havenline/havenline/pkg/provider/chat"
)

// Answer sources, recorded for logging and turn stats.
const (
	SourceRetrieval  = "retrieval"
	SourceLLM        = "llm"
	SourceLLMContext = "llm_context"
	SourceFallback   = "llm_fallback"
	SourceFollowUp   = "followup"
	SourceCanned     = "canned"
	SourceCache      = "cache"
)

// Confidence bands. High takes retrieval verbatim; everything down to the
// non-factual floor keeps retrieval as grounding for the chat model.
const (
	confidenceHigh = 0.7
	confidenceMin  = 0.3
)

const (
	defaultChatTimeout = 8 * time.Second
	chatMaxTokens      = 150
	chatTemperature    = 0.4
)

// systemPrompt frames every conversational completion.
const systemPrompt = `You are Havenline, a caring phone assistant for people affected by domestic violence. Reply in one or two short spoken sentences. Never read out web addresses. If the caller seems to be in immediate danger, remind them to call 911. The National Domestic Violence Hotline is 1-800-799-7233.`

// contextPreamble introduces retrieved results when the model answers a
// medium-confidence turn.
const contextPreamble = "Ground your answer in these search results when they are relevant:"

// Entry is one cached routed turn: the answer plus the retrieval context
// that backed it, so a cache hit can re-seed follow-up state for a new
// session.
type Entry struct {
	Answer   dialog.Answer
	Intent   classify.Intent
	Query    string
	Location string
	Results  []retrieval.Result
}

// Router resolves utterances. Safe for concurrent use.
type Router struct {
	classifier *classify.Classifier
	rewriter   *rewrite.Rewriter
	retriever  *retrieval.Retriever
	followups  *followup.Engine
	chat       chat.Provider
	responses  *cache.Cache[*Entry]
	stats      *stats.Registry
	log        *slog.Logger

	chatTimeout time.Duration
	now         func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithFollowups enables follow-up handling on live query contexts.
func WithFollowups(e *followup.Engine) Option {
	return func(r *Router) {
		r.followups = e
	}
}

// WithChat enables the conversational branches. Without it, turns that
// would reach the model fall back to the canned trouble line.
func WithChat(p chat.Provider) Option {
	return func(r *Router) {
		r.chat = p
	}
}

// WithCache stores final answers per (utterance, last location).
func WithCache(c *cache.Cache[*Entry]) Option {
	return func(r *Router) {
		r.responses = c
	}
}

// WithStats counts chat calls and fallbacks in reg.
func WithStats(reg *stats.Registry) Option {
	return func(r *Router) {
		r.stats = reg
	}
}

// WithChatTimeout bounds one completion call. Defaults to 8s.
func WithChatTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.chatTimeout = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		r.log = l
	}
}

// New returns a Router over the three always-present stages. Follow-ups,
// chat, caching, and stats are optional.
func New(cls *classify.Classifier, rw *rewrite.Rewriter, rt *retrieval.Retriever, opts ...Option) *Router {
	r := &Router{
		classifier:  cls,
		rewriter:    rw,
		retriever:   rt,
		log:         slog.Default(),
		chatTimeout: defaultChatTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ dialog.Router = (*Router)(nil)

// Route resolves one utterance for one session. The returned error is
// reserved for turns where even the chat fallback failed; the dialog layer
// maps it to a canned line.
func (r *Router) Route(ctx context.Context, utterance string, sess *session.CallSession) (*dialog.Answer, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return &dialog.Answer{Voice: dialog.LineDidNotCatch, Source: SourceCanned}, nil
	}

	if pc := sess.TakePendingConfirm(); pc != nil {
		if ans, err := r.resolveConfirm(ctx, pc, utterance, sess); ans != nil || err != nil {
			return ans, err
		}
		// Neither yes nor no: the utterance is a fresh request.
	}

	if r.followups != nil {
		reply, err := r.followups.Respond(ctx, utterance, sess)
		switch {
		case errors.Is(err, followup.ErrNoContext):
		case err != nil:
			r.log.Warn("follow-up check failed", "call_sid", sess.ID, "error", err)
		case reply != nil:
			return followUpAnswer(reply), nil
		}
	}

	// Cheap pattern pass for the exits that must not wait on upstreams.
	pattern := r.classifier.Pattern(utterance)
	if pattern.Intent == classify.IntentEmergencyHelp {
		return &dialog.Answer{Voice: dialog.LineEmergency, Source: SourceCanned}, nil
	}

	if pattern.Intent.LocationSeeking() && rewrite.ExtractLocationText(utterance) == "" {
		if prev := sess.LastLocation(); prev != "" {
			sess.SetPendingConfirm(&session.PendingConfirm{Intent: pattern.Intent, Location: prev})
			return &dialog.Answer{Voice: dialog.ConfirmPrevious(prev), Source: SourceCanned}, nil
		}
		return &dialog.Answer{Voice: dialog.LineAskCity, Source: SourceCanned}, nil
	}

	key := cacheKey(utterance, sess.LastLocation())
	if r.responses != nil {
		if ent, ok := r.responses.Get(key); ok {
			r.seed(sess, ent)
			ans := ent.Answer
			ans.Source = SourceCache
			return &ans, nil
		}
	}

	ans, ent, err := r.resolve(ctx, utterance, pattern, sess)
	if err != nil {
		return nil, err
	}
	if ent != nil {
		r.seed(sess, ent)
		if r.responses != nil {
			r.responses.Put(key, ent)
		}
	}
	return ans, nil
}

// resolve runs the classified branch. It returns a non-nil Entry only for
// answers worth caching and re-seeding.
func (r *Router) resolve(ctx context.Context, utterance string, pattern classify.Result, sess *session.CallSession) (*dialog.Answer, *Entry, error) {
	runSearch := pattern.Intent.LocationSeeking() || pattern.Intent == classify.IntentGeneralInformation

	var (
		cls      classify.Result
		retrieve *retrieval.Answer
		query    rewrite.Query
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.classifier.Classify(gctx, utterance)
		if err != nil {
			return fmt.Errorf("classify: %w", err)
		}
		cls = res
		return nil
	})
	if runSearch {
		g.Go(func() error {
			q, err := r.rewriter.Rewrite(gctx, utterance, pattern.Intent, sess.LastLocation())
			if err != nil {
				return fmt.Errorf("rewrite: %w", err)
			}
			a, err := r.retriever.Retrieve(gctx, q.Text, displayLocation(q), retrieval.Opts{Noun: nounFor(pattern.Intent)})
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}
			query, retrieve = q, a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Warn("routed branch failed", "call_sid", sess.ID, "error", err)
		ans, ferr := r.fallback(ctx, utterance)
		return ans, nil, ferr
	}

	switch cls.Intent {
	case classify.IntentOffTopic:
		return &dialog.Answer{Voice: dialog.LineRefocus, Source: SourceCanned}, nil, nil
	case classify.IntentEmergencyHelp:
		return &dialog.Answer{Voice: dialog.LineEmergency, Source: SourceCanned}, nil, nil
	case classify.IntentEndConversation:
		if cls.Confidence >= confidenceHigh {
			return &dialog.Answer{EndRequested: true, Source: SourceCanned}, nil, nil
		}
	}

	switch {
	case cls.Confidence >= confidenceHigh:
		if retrieve == nil {
			// The full classifier promoted an intent the pattern pass
			// missed; run its search now.
			q, a, err := r.retrieveNow(ctx, utterance, cls.Intent, sess)
			if err != nil {
				r.log.Warn("late retrieval failed", "call_sid", sess.ID, "error", err)
				ans, ferr := r.fallback(ctx, utterance)
				return ans, nil, ferr
			}
			query, retrieve = q, a
		}
		return r.retrievalAnswer(cls.Intent, query, retrieve)

	case cls.Confidence >= confidenceMin && retrieve != nil:
		voice, err := r.chatWithContext(ctx, utterance, retrieve)
		if err != nil {
			r.log.Warn("grounded chat failed", "call_sid", sess.ID, "error", err)
			ans, ferr := r.fallback(ctx, utterance)
			return ans, nil, ferr
		}
		ans := &dialog.Answer{Voice: voice, SMS: retrieve.SMS, Source: SourceLLMContext}
		ent := &Entry{
			Answer:   *ans,
			Intent:   cls.Intent,
			Query:    query.Text,
			Location: retrieve.Location,
			Results:  retrieve.Results,
		}
		return ans, ent, nil

	default:
		voice, err := r.chatPlain(ctx, utterance)
		if err != nil {
			return nil, nil, fmt.Errorf("router: chat: %w", err)
		}
		return &dialog.Answer{Voice: voice, Source: SourceLLM}, nil, nil
	}
}

// retrievalAnswer shapes a high-confidence retrieval into the final answer.
func (r *Router) retrievalAnswer(intent classify.Intent, query rewrite.Query, a *retrieval.Answer) (*dialog.Answer, *Entry, error) {
	ans := &dialog.Answer{Voice: a.Voice, SMS: a.SMS, Source: SourceRetrieval}
	if a.Empty() {
		return ans, nil, nil
	}
	ent := &Entry{
		Answer:   *ans,
		Intent:   intent,
		Query:    query.Text,
		Location: a.Location,
		Results:  a.Results,
	}
	return ans, ent, nil
}

// retrieveNow runs rewrite+retrieve synchronously for a confirmed or
// late-classified intent.
func (r *Router) retrieveNow(ctx context.Context, utterance string, intent classify.Intent, sess *session.CallSession) (rewrite.Query, *retrieval.Answer, error) {
	q, err := r.rewriter.Rewrite(ctx, utterance, intent, sess.LastLocation())
	if err != nil {
		return rewrite.Query{}, nil, fmt.Errorf("rewrite: %w", err)
	}
	a, err := r.retriever.Retrieve(ctx, q.Text, displayLocation(q), retrieval.Opts{Noun: nounFor(intent)})
	if err != nil {
		return rewrite.Query{}, nil, fmt.Errorf("retrieve: %w", err)
	}
	return q, a, nil
}

// resolveConfirm answers a pending location confirmation. A nil, nil return
// means the utterance was neither yes nor no and should route normally.
func (r *Router) resolveConfirm(ctx context.Context, pc *session.PendingConfirm, utterance string, sess *session.CallSession) (*dialog.Answer, error) {
	switch dialog.ParseYesNo(utterance) {
	case dialog.VerdictYes:
		q, err := r.rewriter.Rewrite(ctx, "", pc.Intent, pc.Location)
		if err == nil {
			var a *retrieval.Answer
			a, err = r.retriever.Retrieve(ctx, q.Text, displayLocationOr(q, pc.Location), retrieval.Opts{Noun: nounFor(pc.Intent)})
			if err == nil {
				ans, ent, _ := r.retrievalAnswer(pc.Intent, q, a)
				if ent != nil {
					r.seed(sess, ent)
				}
				return ans, nil
			}
		}
		r.log.Warn("confirmed search failed", "call_sid", sess.ID, "error", err)
		return r.fallback(ctx, utterance)
	case dialog.VerdictNo:
		return &dialog.Answer{Voice: dialog.LineAskOtherCity, Source: SourceCanned}, nil
	default:
		return nil, nil
	}
}

// fallback answers with chat and no retrieval context. It is the terminal
// degradation for every upstream failure on the turn.
func (r *Router) fallback(ctx context.Context, utterance string) (*dialog.Answer, error) {
	r.inc(stats.RouterFallback)
	voice, err := r.chatPlain(ctx, utterance)
	if err != nil {
		return nil, fmt.Errorf("router: fallback chat: %w", err)
	}
	return &dialog.Answer{Voice: voice, Source: SourceFallback}, nil
}

// chatPlain completes the utterance with the base system prompt only.
func (r *Router) chatPlain(ctx context.Context, utterance string) (string, error) {
	return r.complete(ctx, chat.UserMessage(systemPrompt, utterance))
}

// chatWithContext completes the utterance grounded on retrieved results.
func (r *Router) chatWithContext(ctx context.Context, utterance string, a *retrieval.Answer) (string, error) {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\n")
	b.WriteString(contextPreamble)
	if a.Summary != "" {
		b.WriteString("\nSummary: ")
		b.WriteString(a.Summary)
	}
	for i, res := range a.Results {
		fmt.Fprintf(&b, "\n%d. %s: %s", i+1, res.Title, trim(res.Content, 300))
	}
	return r.complete(ctx, chat.UserMessage(b.String(), utterance))
}

func (r *Router) complete(ctx context.Context, req chat.Request) (string, error) {
	if r.chat == nil {
		return "", errors.New("router: no chat provider")
	}
	req.MaxTokens = chatMaxTokens
	req.Temperature = chatTemperature

	cctx, cancel := context.WithTimeout(ctx, r.chatTimeout)
	defer cancel()

	r.inc(stats.ChatCount)
	resp, err := r.chat.Complete(cctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return "", errors.New("router: empty completion")
	}
	r.inc(stats.ChatSuccess)
	return strings.TrimSpace(resp.Text), nil
}

// seed stores the retrieval context on the session so the next utterance can
// be answered as a follow-up.
func (r *Router) seed(sess *session.CallSession, ent *Entry) {
	if len(ent.Results) == 0 {
		return
	}
	sess.SetQueryContext(&session.QueryContext{
		Intent:    ent.Intent,
		Query:     ent.Query,
		Location:  ent.Location,
		Results:   ent.Results,
		SMS:       ent.Answer.SMS,
		Timestamp: r.now(),
	})
	if ent.Location != "" {
		sess.SetLastLocation(ent.Location)
	}
}

func (r *Router) inc(name string) {
	if r.stats != nil {
		r.stats.Inc(name)
	}
}

// followUpAnswer maps a follow-up reply onto the dialog answer shape. The
// send question is part of the reply's voice, so AskSMS only arms the
// machine's yes/no branch.
func followUpAnswer(reply *followup.Reply) *dialog.Answer {
	ans := &dialog.Answer{
		Voice:   reply.Voice,
		SMS:     reply.SMSBody,
		SendSMS: reply.SendSMS,
		Source:  SourceFollowUp,
	}
	switch reply.Type {
	case followup.ReplySendDetails:
		ans.AskSMS = !reply.SendSMS
	case followup.ReplySpecificResult, followup.ReplyDetailedInfo:
		ans.AskSMS = true
	}
	return ans
}

// nounFor names the result type for the spoken shapes.
func nounFor(intent classify.Intent) string {
	switch intent {
	case classify.IntentLegalServices:
		return "legal aid services"
	case classify.IntentCounselingServices:
		return "counseling services"
	case classify.IntentOtherResources, classify.IntentGeneralInformation:
		return "resources"
	default:
		return "shelters"
	}
}

// displayLocation is the spoken location for a rewritten query, "" when the
// query is unscoped.
func displayLocation(q rewrite.Query) string {
	if q.Location == nil {
		return ""
	}
	return q.Location.Display
}

// displayLocationOr falls back to the confirmed location text when
// re-resolution came up empty.
func displayLocationOr(q rewrite.Query, fallback string) string {
	if d := displayLocation(q); d != "" {
		return d
	}
	return fallback
}

// cacheKey joins utterance and session location with an unprintable
// separator, mirroring the retrieval cache's key shape.
func cacheKey(utterance, location string) string {
	return strings.ToLower(utterance) + "\x1f" + strings.ToLower(location)
}

// trim bounds content snippets handed to the chat model.
func trim(s string, max int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}
