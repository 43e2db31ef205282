// Package classify maps caller utterances onto a fixed intent set with a
// confidence score. Classification is a weighted regex/keyword table; an
// optional chat-model assist refines ambiguous utterances (very low score or
// deictic references). Results are cached so repeated utterances across a
// call never rescore.
package classify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/havenline/havenline/internal/cache"
	"github.com/havenline/havenline/pkg/provider/chat"
)

const (
	// ambiguousBelow is the confidence under which the chat assist runs.
	ambiguousBelow = 0.3

	defaultAssistTimeout = 3 * time.Second
	assistMaxTokens      = 16
)

// assistSystemPrompt pins the chat model to a bare enum label. Branch-only
// intents are not offered; they never make sense for a fresh utterance.
const assistSystemPrompt = `You classify one caller utterance from a domestic violence support line.
Reply with exactly one label and nothing else:
find_shelter, legal_services, counseling_services, emergency_help,
general_information, other_resources, end_conversation, off_topic.`

// Result is a classification outcome.
type Result struct {
	Intent     Intent
	Confidence float64
	// Matches lists the table patterns that fired, as "category:label"
	// pairs, plus "assist:<intent>" when the chat model overrode the
	// table.
	Matches []string
}

// Classifier scores utterances. Safe for concurrent use.
type Classifier struct {
	cache         *cache.Cache[Result]
	chat          chat.Provider
	assistTimeout time.Duration
	log           *slog.Logger
}

// Option is a functional option for configuring a Classifier.
type Option func(*Classifier)

// WithChat enables the chat-model assist for ambiguous utterances. Without
// it the table result is always final.
func WithChat(p chat.Provider) Option {
	return func(c *Classifier) {
		c.chat = p
	}
}

// WithAssistTimeout bounds one assist call. Defaults to 3s; the assist is
// advisory and must never eat the turn budget.
func WithAssistTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.assistTimeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Classifier. results may be nil, in which case every call
// rescores (tests use this to avoid cache interference).
func New(results *cache.Cache[Result], opts ...Option) *Classifier {
	c := &Classifier{
		cache:         results,
		assistTimeout: defaultAssistTimeout,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Pattern scores one utterance with the weighted table alone: no cache, no
// chat assist, no I/O. The router uses it to pick safety exits and to choose
// a provisional search branch while the full Classify runs.
func (c *Classifier) Pattern(utterance string) Result {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "" {
		return Result{Intent: IntentGeneralInformation, Confidence: 0}
	}
	intent, confidence, matches := scoreTable(normalized)
	return Result{Intent: intent, Confidence: confidence, Matches: matches}
}

// Classify scores one utterance. The error is non-nil only for context
// cancellation while waiting on the cache; scoring itself cannot fail and
// assist failures silently keep the table result.
func (c *Classifier) Classify(ctx context.Context, utterance string) (Result, error) {
	normalized := strings.ToLower(strings.TrimSpace(utterance))
	if normalized == "" {
		return Result{Intent: IntentGeneralInformation, Confidence: 0}, nil
	}

	if c.cache == nil {
		return c.classify(ctx, normalized), nil
	}
	return c.cache.GetOrCompute(ctx, normalized, func(ctx context.Context) (Result, error) {
		return c.classify(ctx, normalized), nil
	})
}

func (c *Classifier) classify(ctx context.Context, normalized string) Result {
	intent, confidence, matches := scoreTable(normalized)
	res := Result{Intent: intent, Confidence: confidence, Matches: matches}

	if c.chat == nil {
		return res
	}
	if confidence >= ambiguousBelow && !deicticRe.MatchString(normalized) {
		return res
	}

	assisted, ok := c.assist(ctx, normalized)
	if !ok || assisted == res.Intent {
		return res
	}
	// The assist replaces the intent only. Confidence stays with the table
	// score: an assist pick on a near-zero score must still route through
	// the conservative band.
	res.Intent = assisted
	res.Matches = append(res.Matches, "assist:"+string(assisted))
	return res
}

// assist asks the chat model to pick an intent. Any failure, and any reply
// that is not a bare enum label, reports ok=false.
func (c *Classifier) assist(ctx context.Context, normalized string) (Intent, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.assistTimeout)
	defer cancel()

	req := chat.UserMessage(assistSystemPrompt, normalized)
	req.MaxTokens = assistMaxTokens
	req.Temperature = 0

	resp, err := c.chat.Complete(ctx, req)
	if err != nil {
		c.log.Debug("classify assist failed", "err", err)
		return "", false
	}
	in, ok := ParseIntent(resp.Text)
	if !ok {
		c.log.Debug("classify assist returned non-enum", "reply", resp.Text)
		return "", false
	}
	return in, true
}
