package followup_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/havenline/havenline/internal/classify"
	"github.com/havenline/havenline/internal/followup"
	"github.com/havenline/havenline/internal/retrieval"
	"github.com/havenline/havenline/internal/session"
	"github.com/havenline/havenline/pkg/provider/chat"
	chatmock "github.com/havenline/havenline/pkg/provider/chat/mock"
)

func newSession(t *testing.T) *session.CallSession {
	t.Helper()
	reg := session.NewRegistry(session.WithReapInterval(0))
	t.Cleanup(reg.Close)
	s, _ := reg.GetOrCreate("CA-followup", "+15125550100")
	return s
}

func liveContext() *session.QueryContext {
	return &session.QueryContext{
		Intent:   classify.IntentFindShelter,
		Query:    "domestic violence shelter near Austin, Texas",
		Location: "Austin, Texas",
		Results: []retrieval.Result{
			{
				Title:          "Safe Haven",
				URL:            "https://safehaven.org",
				Content:        "Emergency shelter and 24/7 hotline for survivors of domestic violence.",
				Score:          0.9,
				Phones:         []string{"512-555-0100"},
				Addresses:      []string{"123 Main Street, Austin, TX 78701"},
				HasContactInfo: true,
			},
			{
				Title:   "Hope Center",
				URL:     "https://hopecenter.org",
				Content: "Counseling services and support groups.",
				Score:   0.8,
			},
			{
				Title:          "Genesis Dallas Shelter",
				URL:            "https://genesisdallas.org",
				Content:        "Shelter and legal assistance in Dallas, TX.",
				Score:          0.7,
				Phones:         []string{"214-555-0100"},
				HasContactInfo: true,
			},
		},
		SMS:       "1. Safe Haven\n   Phone: 512-555-0100\n\nNational DV Hotline: 1-800-799-7233",
		Timestamp: time.Now(),
	}
}

func TestRespond_NoContext(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	e := followup.New()

	reply, err := e.Respond(context.Background(), "tell me more about that", sess)
	if !errors.Is(err, followup.ErrNoContext) {
		t.Fatalf("err = %v, want ErrNoContext", err)
	}
	if reply != nil {
		t.Errorf("reply = %+v, want nil", reply)
	}
}

func TestRespond_ExpiredContextIsAbsent(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	qc := liveContext()
	qc.Timestamp = time.Now().Add(-6 * time.Minute)
	sess.SetQueryContext(qc)
	e := followup.New()

	reply, err := e.Respond(context.Background(), "tell me more about the second one", sess)
	if !errors.Is(err, followup.ErrNoContext) {
		t.Fatalf("err = %v, want ErrNoContext after expiry", err)
	}
	if reply != nil {
		t.Errorf("reply = %+v, want nil", reply)
	}
}

func TestRespond_NotAFollowUp(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	sess.SetQueryContext(liveContext())
	e := followup.New()

	reply, err := e.Respond(context.Background(), "find a shelter in houston", sess)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if reply != nil {
		t.Errorf("reply = %+v, want nil for a fresh query", reply)
	}
}

func TestRespond_OrdinalFocusesSecondResult(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	qc := liveContext()
	sess.SetQueryContext(qc)

	refreshAt := time.Now().Add(time.Minute)
	e := followup.New(followup.WithClock(func() time.Time { return refreshAt }))

	reply, err := e.Respond(context.Background(), "tell me more about the second one", sess)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply == nil {
		t.Fatal("reply = nil, want specific_result")
	}
	if reply.Type != followup.ReplySpecificResult {
		t.Errorf("Type = %q, want specific_result", reply.Type)
	}
	want := "Here's what I found about Hope Center: they offer counseling services and support groups. Would you like me to send you the complete details?"
	if reply.Voice != want {
		t.Errorf("Voice = %q, want %q", reply.Voice, want)
	}
	if reply.FocusTitle != "Hope Center" {
		t.Errorf("FocusTitle = %q", reply.FocusTitle)
	}
	if qc.FocusResultTitle != "Hope Center" {
		t.Errorf("context focus = %q, want Hope Center", qc.FocusResultTitle)
	}
	if !qc.Timestamp.Equal(refreshAt) {
		t.Errorf("context timestamp = %v, want refreshed to %v", qc.Timestamp, refreshAt)
	}
}

func TestRespond_PhoneInfoForOrdinal(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	sess.SetQueryContext(liveContext())
	e := followup.New()

	reply, err := e.Respond(context.Background(), "what's the phone number for the first one", sess)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply == nil || reply.Type != followup.ReplyPhoneInfo {
		t.Fatalf("reply = %+v, want phone_info", reply)
	}
	want := "The phone number for Safe Haven is 512-555-0100. Can I help you with anything else?"
	if reply.Voice != want {
		t.Errorf("Voice = %q, want %q", reply.Voice, want)
	}
}

func TestRespond_AssistRecognizesCuelessLocationAsk(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	sess.SetQueryContext(liveContext())
	assist := &chatmock.Provider{CompleteResponse: &chat.Response{Text: "yes"}}
	e := followup.New(followup.WithChat(assist))

	reply, err := e.Respond(context.Background(), "where are they located", sess)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply == nil || reply.Type != followup.ReplyLocationInfo {
		t.Fatalf("reply = %+v, want location_info", reply)
	}
	want := "Here are the locations I have: Safe Haven at 123 Main Street, Austin, TX 78701. Can I help you with anything else?"
	if reply.Voice != want {
		t.Errorf("Voice = %q, want %q", reply.Voice, want)
	}

	calls := assist.Calls()
	if len(calls) != 1 {
		t.Fatalf("assist calls = %d, want 1", len(calls))
	}
	if got := calls[0].Req.Messages[0].Content; !strings.Contains(got, "domestic violence shelter near Austin, Texas") {
		t.Errorf("assist prompt missing previous query: %q", got)
	}
}

func TestRespond_AssistSaysNo(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	sess.SetQueryContext(liveContext())
	assist := &chatmock.Provider{CompleteResponse: &chat.Response{Text: "no"}}
	e := followup.New(followup.WithChat(assist))

	reply, err := e.Respond(context.Background(), "where are they located", sess)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply != nil {
		t.Errorf("reply = %+v, want nil when assist declines", reply)
	}
}

func TestRespond_SendDetailsConsent(t *testing.T) {
	t.Parallel()

	t.Run("consent unknown asks first", func(t *testing.T) {
		t.Parallel()
		sess := newSession(t)
		qc := liveContext()
		sess.SetQueryContext(qc)
		e := followup.New()

		reply, err := e.Respond(context.Background(), "can you text me the details", sess)
		if err != nil {
			t.Fatalf("Respond: %v", err)
		}
		if reply == nil || reply.Type != followup.ReplySendDetails {
			t.Fatalf("reply = %+v, want send_details", reply)
		}
		if reply.SendSMS {
			t.Error("SendSMS = true with consent unknown")
		}
		if reply.SMSBody != qc.SMS {
			t.Errorf("SMSBody = %q, want stored SMS", reply.SMSBody)
		}
		want := "I can text you the complete details. Would it be okay to send a text message to this number?"
		if reply.Voice != want {
			t.Errorf("Voice = %q, want %q", reply.Voice, want)
		}
	})

	t.Run("consent granted sends now", func(t *testing.T) {
		t.Parallel()
		sess := newSession(t)
		sess.SetQueryContext(liveContext())
		sess.SetConsent(session.ConsentGranted)
		e := followup.New()

		reply, err := e.Respond(context.Background(), "send that to me", sess)
		if err != nil {
			t.Fatalf("Respond: %v", err)
		}
		if reply == nil || reply.Type != followup.ReplySendDetails {
			t.Fatalf("reply = %+v, want send_details", reply)
		}
		if !reply.SendSMS {
			t.Error("SendSMS = false with consent granted")
		}
	})
}

func TestRespond_CapitalizedPhraseFocus(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	sess.SetQueryContext(liveContext())
	e := followup.New()

	reply, err := e.Respond(context.Background(), "What about Hope Center", sess)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply == nil || reply.Type != followup.ReplySpecificResult {
		t.Fatalf("reply = %+v, want specific_result", reply)
	}
	if reply.FocusTitle != "Hope Center" {
		t.Errorf("FocusTitle = %q, want Hope Center", reply.FocusTitle)
	}
}

func TestRespond_LocationMentionFocus(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	sess.SetQueryContext(liveContext())
	e := followup.New()

	reply, err := e.Respond(context.Background(), "what about the one in Dallas", sess)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply == nil || reply.Type != followup.ReplySpecificResult {
		t.Fatalf("reply = %+v, want specific_result", reply)
	}
	want := "Here's what I found about Genesis Dallas Shelter: they offer emergency shelter and legal assistance. Would you like me to send you the complete details?"
	if reply.Voice != want {
		t.Errorf("Voice = %q, want %q", reply.Voice, want)
	}
}

func TestRespond_DemonstrativeUsesPriorFocus(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	qc := liveContext()
	sess.SetQueryContext(qc)
	e := followup.New()

	if _, err := e.Respond(context.Background(), "tell me more about the second one", sess); err != nil {
		t.Fatalf("first Respond: %v", err)
	}

	reply, err := e.Respond(context.Background(), "what's the address of that one", sess)
	if err != nil {
		t.Fatalf("second Respond: %v", err)
	}
	if reply == nil || reply.Type != followup.ReplyLocationInfo {
		t.Fatalf("reply = %+v, want location_info", reply)
	}
	want := "I'm sorry, I don't have a street address for Hope Center. I can text you the full details if you'd like."
	if reply.Voice != want {
		t.Errorf("Voice = %q, want %q", reply.Voice, want)
	}
}

func TestRespond_DetailedInfoWalksResults(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	sess.SetQueryContext(liveContext())
	e := followup.New()

	reply, err := e.Respond(context.Background(), "can you give me more details", sess)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply == nil || reply.Type != followup.ReplyDetailedInfo {
		t.Fatalf("reply = %+v, want detailed_info", reply)
	}
	want := "Here's more about what I found. " +
		"First, Safe Haven: they offer emergency shelter and a 24/7 hotline. " +
		"Second, Hope Center: they offer counseling services and support groups. " +
		"Third, Genesis Dallas Shelter: they offer emergency shelter and legal assistance. " +
		"Would you like me to send you the complete details?"
	if reply.Voice != want {
		t.Errorf("Voice = %q, want %q", reply.Voice, want)
	}
}

func TestRespond_GeneralFollowUpListsTitles(t *testing.T) {
	t.Parallel()
	sess := newSession(t)
	sess.SetQueryContext(liveContext())
	e := followup.New()

	reply, err := e.Respond(context.Background(), "what was that", sess)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply == nil || reply.Type != followup.ReplyGeneralFollow {
		t.Fatalf("reply = %+v, want general_follow_up", reply)
	}
	want := "From your last search I have: Safe Haven, Hope Center, and Genesis Dallas Shelter. Which one would you like to hear more about?"
	if reply.Voice != want {
		t.Errorf("Voice = %q, want %q", reply.Voice, want)
	}
}
