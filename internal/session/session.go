// Package session holds per-call state for the voice relay: the
// [CallSession] record with its dialog state, consent flag, bounded turn
// history and follow-up context, plus the [Registry] that owns all live
// sessions and reaps idle ones.
//
// A session's mutex guards field access only and is never held across I/O.
// Whole turns are serialized separately through [CallSession.BeginTurn] so
// that utterances for one call are processed strictly in order.
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/havenline/havenline/internal/classify"
)

// defaultHistoryMax bounds the per-call turn history.
const defaultHistoryMax = 20

// State is the dialog position of one call.
type State int

// Dialog states, in the order a healthy call passes through them.
const (
	StateGreeting State = iota
	StateAwaitingUtterance
	StateProcessing
	StateAwaitingConsent
	StateEnding
	StateEnded
)

var stateNames = map[State]string{
	StateGreeting:          "greeting",
	StateAwaitingUtterance: "awaiting_utterance",
	StateProcessing:        "processing",
	StateAwaitingConsent:   "awaiting_consent",
	StateEnding:            "ending",
	StateEnded:             "ended",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Consent is the tri-state SMS consent flag. Text is only ever sent on
// [ConsentGranted]; unknown is never treated as granted.
type Consent int

const (
	ConsentUnknown Consent = iota
	ConsentGranted
	ConsentDenied
)

func (c Consent) String() string {
	switch c {
	case ConsentGranted:
		return "granted"
	case ConsentDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Role identifies the author of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance or reply in the call history.
type Turn struct {
	Role Role
	Text string
	At   time.Time
}

// PendingConfirm marks a turn that is waiting for the caller to confirm or
// decline reusing their previous search location.
type PendingConfirm struct {
	// Intent is the location-seeking intent that triggered the prompt.
	Intent classify.Intent
	// Location is the previous search location offered for reuse.
	Location string
}

// CallSession is the live state of one phone call. Created by the
// [Registry] on the first webhook for a new call id.
type CallSession struct {
	// ID is the provider's opaque call identifier.
	ID string
	// Caller is the caller's E.164 number, or "" when withheld.
	Caller string

	// turn serializes whole dialog turns, including their upstream I/O.
	turn chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time

	mu             sync.Mutex
	state          State
	consent        Consent
	startedAt      time.Time
	lastActivityAt time.Time
	history        []Turn
	historyMax     int
	queryContext   *QueryContext
	lastLocation   string
	lastSMS        string
	reprompts      int
	pendingConfirm *PendingConfirm
	pendingSMSAsk  bool
	smsClaimed     bool
}

// newCallSession is only called by the Registry, which owns the session map.
func newCallSession(id, caller string, historyMax int, now func() time.Time) *CallSession {
	if historyMax <= 0 {
		historyMax = defaultHistoryMax
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := now()
	return &CallSession{
		ID:             id,
		Caller:         caller,
		turn:           make(chan struct{}, 1),
		ctx:            ctx,
		cancel:         cancel,
		now:            now,
		state:          StateGreeting,
		startedAt:      t,
		lastActivityAt: t,
		historyMax:     historyMax,
	}
}

// Context is the call-scoped context. It is cancelled when the call ends or
// the session is deleted, aborting any in-flight upstream work for the call.
func (s *CallSession) Context() context.Context { return s.ctx }

// BeginTurn acquires the session's turn slot, waiting until any earlier turn
// for the same call has finished. Returns ctx.Err() if ctx expires first.
// Callers must release the slot with EndTurn.
func (s *CallSession) BeginTurn(ctx context.Context) error {
	select {
	case s.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndTurn releases the slot taken by BeginTurn.
func (s *CallSession) EndTurn() { <-s.turn }

// Touch records call activity now.
func (s *CallSession) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = s.now()
}

// State returns the current dialog state.
func (s *CallSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session to st. Legality of the transition is the
// dialog machine's responsibility, not the session's.
func (s *CallSession) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.lastActivityAt = s.now()
}

// Consent returns the SMS consent flag.
func (s *CallSession) Consent() Consent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consent
}

// SetConsent records the caller's SMS consent decision.
func (s *CallSession) SetConsent(c Consent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent = c
}

// StartedAt returns the session creation time.
func (s *CallSession) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// LastActivityAt returns the time of the most recent call activity.
func (s *CallSession) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// AddTurn appends one turn to the history, dropping the oldest turns beyond
// the configured bound.
func (s *CallSession) AddTurn(role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, Turn{Role: role, Text: text, At: s.now()})
	if len(s.history) > s.historyMax {
		trimmed := make([]Turn, s.historyMax)
		copy(trimmed, s.history[len(s.history)-s.historyMax:])
		s.history = trimmed
	}
	s.lastActivityAt = s.now()
}

// History returns a copy of the turn history, oldest first.
func (s *CallSession) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// QueryContext returns the live follow-up context, or nil when none exists
// or the stored one has expired. Expired contexts are dropped.
func (s *CallSession) QueryContext() *QueryContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryContext == nil {
		return nil
	}
	if s.queryContext.Expired(s.now()) {
		s.queryContext = nil
		return nil
	}
	return s.queryContext
}

// SetQueryContext replaces the follow-up context. The previous context, if
// any, is discarded whole; contexts are never merged.
func (s *CallSession) SetQueryContext(qc *QueryContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryContext = qc
	s.lastActivityAt = s.now()
}

// LastLocation returns the display location of the most recent located
// search, or "".
func (s *CallSession) LastLocation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLocation
}

// SetLastLocation records the display location of a successful search.
func (s *CallSession) SetLastLocation(loc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLocation = loc
}

// LastSMS returns the most recent SMS-ready answer body, or "".
func (s *CallSession) LastSMS() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSMS
}

// SetLastSMS stores the SMS-ready body of the most recent answer. A
// consent-granted call end sends exactly this text.
func (s *CallSession) SetLastSMS(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSMS = body
}

// IncReprompt counts one idle re-prompt and returns the consecutive total.
func (s *CallSession) IncReprompt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reprompts++
	return s.reprompts
}

// ResetReprompts clears the consecutive re-prompt count. Called whenever a
// real utterance arrives.
func (s *CallSession) ResetReprompts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reprompts = 0
}

// PendingConfirm returns the pending location confirmation, or nil.
func (s *CallSession) PendingConfirm() *PendingConfirm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingConfirm
}

// SetPendingConfirm marks the session as waiting on a location
// confirmation. Pass nil to clear.
func (s *CallSession) SetPendingConfirm(pc *PendingConfirm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingConfirm = pc
}

// TakePendingConfirm returns the pending confirmation and clears it.
func (s *CallSession) TakePendingConfirm() *PendingConfirm {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc := s.pendingConfirm
	s.pendingConfirm = nil
	return pc
}

// SetPendingSMSAsk marks the session as waiting on a yes/no answer to a
// mid-call offer to text the stored details.
func (s *CallSession) SetPendingSMSAsk(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingSMSAsk = v
}

// TakePendingSMSAsk returns the pending text-offer flag and clears it.
func (s *CallSession) TakePendingSMSAsk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.pendingSMSAsk
	s.pendingSMSAsk = false
	return v
}

// ClaimSMSSend reports whether the caller is the first to claim the
// end-of-call SMS send. Consent handling and call teardown both try; only
// the first proceeds, so the summary is never sent twice.
func (s *CallSession) ClaimSMSSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.smsClaimed {
		return false
	}
	s.smsClaimed = true
	return true
}

// End cancels the session context, aborting in-flight upstream calls.
// Idempotent. The registry still holds the record until Delete.
func (s *CallSession) End() {
	s.cancel()
}
