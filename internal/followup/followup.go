// Package followup answers utterances that refer back to the caller's
// previous search instead of asking something new: "tell me more about the
// second one", "what's the address", "text that to me".
//
// The engine borrows the session's QueryContext. A follow-up is only
// recognized while that context is live; once it expires the engine reports
// [ErrNoContext] no matter what the utterance says. Recognition is cue-word
// driven with an optional single yes/no chat assist for cue-less phrasings.
package followup

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/havenline/havenline/internal/retrieval"
	"github.com/havenline/havenline/internal/session"
	"github.com/havenline/havenline/pkg/provider/chat"
)

// ErrNoContext reports that the session has no live follow-up context.
var ErrNoContext = errors.New("followup: no context")

const (
	defaultAssistTimeout = 2 * time.Second
	assistMaxTokens      = 4
)

// assistSystemPrompt drives the yes/no recognition assist.
const assistSystemPrompt = `You decide whether a caller's utterance is a follow-up question about the results of their previous search, rather than a new request. Answer with exactly one word: yes or no.`

// ReplyType names the follow-up reply shapes.
type ReplyType string

const (
	ReplySendDetails    ReplyType = "send_details"
	ReplyLocationInfo   ReplyType = "location_info"
	ReplyPhoneInfo      ReplyType = "phone_info"
	ReplySpecificResult ReplyType = "specific_result"
	ReplyDetailedInfo   ReplyType = "detailed_info"
	ReplyGeneralFollow  ReplyType = "general_follow_up"
)

// Reply is one formatted follow-up answer.
type Reply struct {
	Type ReplyType
	// Voice is the complete spoken reply.
	Voice string
	// SMSBody is the stored SMS text backing a send-details reply.
	SMSBody string
	// SendSMS reports that consent is already granted and SMSBody should be
	// enqueued now. When false the dialog asks for consent first.
	SendSMS bool
	// FocusTitle is the matched result's title, or "" for aggregate replies.
	FocusTitle string
}

// Engine recognizes and answers follow-ups. Safe for concurrent use.
type Engine struct {
	chat          chat.Provider
	assistTimeout time.Duration
	now           func() time.Time
	log           *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithChat enables the yes/no recognition assist for utterances without a
// cue word. Nil disables it.
func WithChat(p chat.Provider) Option {
	return func(e *Engine) {
		e.chat = p
	}
}

// WithAssistTimeout bounds the recognition assist call. Defaults to 2s.
func WithAssistTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.assistTimeout = d
		}
	}
}

// WithClock replaces the time source used for context refresh.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates a follow-up engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		assistTimeout: defaultAssistTimeout,
		now:           time.Now,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Respond answers utterance as a follow-up to sess's previous search.
//
// It returns ErrNoContext when the session has no live QueryContext, and
// (nil, nil) when the context is live but the utterance is not a follow-up.
// On a recognized follow-up it refreshes the context's lifetime and records
// the focused result before returning the reply.
func (e *Engine) Respond(ctx context.Context, utterance string, sess *session.CallSession) (*Reply, error) {
	qc := sess.QueryContext()
	if qc == nil {
		return nil, ErrNoContext
	}

	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "" {
		return nil, nil
	}

	if !hasCue(normalized) && !e.assistSaysFollowUp(ctx, normalized, qc) {
		return nil, nil
	}

	reply := e.build(utterance, normalized, qc, sess.Consent())

	qc.Refresh(e.now())
	if reply.FocusTitle != "" {
		qc.FocusResultTitle = reply.FocusTitle
	}

	e.log.Debug("follow-up answered",
		"call_sid", sess.ID,
		"type", reply.Type,
		"focus", reply.FocusTitle)
	return reply, nil
}

// build selects the reply type and formats it. normalized is the lowercased
// utterance; the raw form is kept for capitalized-phrase focus extraction.
func (e *Engine) build(raw, normalized string, qc *session.QueryContext, consent session.Consent) *Reply {
	focus := extractFocus(raw, normalized, qc)

	switch {
	case sendCueRe.MatchString(normalized):
		return sendDetailsReply(qc, consent)
	case phoneCueRe.MatchString(normalized):
		return phoneInfoReply(qc, focus)
	case locationCueRe.MatchString(normalized):
		return locationInfoReply(qc, focus)
	case focus.ok():
		return specificResultReply(qc, focus)
	case detailCueRe.MatchString(normalized):
		return detailedInfoReply(qc)
	default:
		return generalFollowUpReply(qc)
	}
}

// assistSaysFollowUp runs the single yes/no chat assist. Any failure counts
// as "no"; recognition then falls back to the cue set alone.
func (e *Engine) assistSaysFollowUp(ctx context.Context, normalized string, qc *session.QueryContext) bool {
	if e.chat == nil {
		return false
	}

	actx, cancel := context.WithTimeout(ctx, e.assistTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString("Previous search: ")
	sb.WriteString(qc.Query)
	sb.WriteString("\nResults: ")
	for i, r := range qc.Results {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(r.Title)
	}
	sb.WriteString("\nUtterance: ")
	sb.WriteString(normalized)

	req := chat.UserMessage(assistSystemPrompt, sb.String())
	req.MaxTokens = assistMaxTokens
	req.Temperature = 0

	resp, err := e.chat.Complete(actx, req)
	if err != nil {
		e.log.Debug("follow-up assist failed", "err", err)
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(resp.Text)), "yes")
}

// sendDetailsReply promises the stored SMS. With consent already granted the
// send can go out immediately; otherwise the dialog asks first.
func sendDetailsReply(qc *session.QueryContext, consent session.Consent) *Reply {
	if consent == session.ConsentGranted {
		return &Reply{
			Type:    ReplySendDetails,
			Voice:   "I'll text you the complete details right away. Is there anything else I can help you with?",
			SMSBody: qc.SMS,
			SendSMS: true,
		}
	}
	return &Reply{
		Type:    ReplySendDetails,
		Voice:   "I can text you the complete details. Would it be okay to send a text message to this number?",
		SMSBody: qc.SMS,
	}
}

func phoneInfoReply(qc *session.QueryContext, focus focusMatch) *Reply {
	if focus.ok() {
		r := qc.Results[focus.index]
		if len(r.Phones) > 0 {
			return &Reply{
				Type:       ReplyPhoneInfo,
				Voice:      "The phone number for " + r.Title + " is " + r.Phones[0] + ". Can I help you with anything else?",
				FocusTitle: r.Title,
			}
		}
		return &Reply{
			Type:       ReplyPhoneInfo,
			Voice:      "I'm sorry, I don't have a phone number for " + r.Title + ". I can text you the full details if you'd like.",
			FocusTitle: r.Title,
		}
	}

	var parts []string
	for _, r := range qc.Results {
		if len(r.Phones) > 0 {
			parts = append(parts, r.Title+", "+r.Phones[0])
		}
	}
	if len(parts) == 0 {
		return &Reply{
			Type:  ReplyPhoneInfo,
			Voice: "I'm sorry, I don't have phone numbers for these results. I can text you the full details if you'd like.",
		}
	}
	return &Reply{
		Type:  ReplyPhoneInfo,
		Voice: "Here are the phone numbers I have: " + strings.Join(parts, ". ") + ". Can I help you with anything else?",
	}
}

func locationInfoReply(qc *session.QueryContext, focus focusMatch) *Reply {
	if focus.ok() {
		r := qc.Results[focus.index]
		if len(r.Addresses) > 0 {
			return &Reply{
				Type:       ReplyLocationInfo,
				Voice:      "The address for " + r.Title + " is " + r.Addresses[0] + ". Can I help you with anything else?",
				FocusTitle: r.Title,
			}
		}
		return &Reply{
			Type:       ReplyLocationInfo,
			Voice:      "I'm sorry, I don't have a street address for " + r.Title + ". I can text you the full details if you'd like.",
			FocusTitle: r.Title,
		}
	}

	var parts []string
	for _, r := range qc.Results {
		if len(r.Addresses) > 0 {
			parts = append(parts, r.Title+" at "+r.Addresses[0])
		}
	}
	if len(parts) == 0 {
		return &Reply{
			Type:  ReplyLocationInfo,
			Voice: "I'm sorry, I don't have street addresses for these results. I can text you the full details if you'd like.",
		}
	}
	return &Reply{
		Type:  ReplyLocationInfo,
		Voice: "Here are the locations I have: " + strings.Join(parts, ". ") + ". Can I help you with anything else?",
	}
}

func specificResultReply(qc *session.QueryContext, focus focusMatch) *Reply {
	r := qc.Results[focus.index]
	return &Reply{
		Type:       ReplySpecificResult,
		Voice:      "Here's what I found about " + r.Title + ": " + capabilitySummary(r.Content) + ". Would you like me to send you the complete details?",
		FocusTitle: r.Title,
	}
}

func detailedInfoReply(qc *session.QueryContext) *Reply {
	ordinalWords := []string{"First", "Second", "Third"}
	n := len(qc.Results)
	if n > 3 {
		n = 3
	}

	var sb strings.Builder
	sb.WriteString("Here's more about what I found. ")
	for i := 0; i < n; i++ {
		r := qc.Results[i]
		sb.WriteString(ordinalWords[i])
		sb.WriteString(", ")
		sb.WriteString(r.Title)
		sb.WriteString(": ")
		sb.WriteString(capabilitySummary(r.Content))
		sb.WriteString(". ")
	}
	sb.WriteString("Would you like me to send you the complete details?")
	return &Reply{Type: ReplyDetailedInfo, Voice: sb.String()}
}

func generalFollowUpReply(qc *session.QueryContext) *Reply {
	return &Reply{
		Type:  ReplyGeneralFollow,
		Voice: "From your last search I have: " + joinTitles(qc.Results) + ". Which one would you like to hear more about?",
	}
}

// joinTitles renders 1-3 titles for speech.
func joinTitles(results []retrieval.Result) string {
	titles := make([]string, 0, len(results))
	for _, r := range results {
		titles = append(titles, r.Title)
	}
	switch len(titles) {
	case 0:
		return ""
	case 1:
		return titles[0]
	case 2:
		return titles[0] + " and " + titles[1]
	default:
		return strings.Join(titles[:len(titles)-1], ", ") + ", and " + titles[len(titles)-1]
	}
}

