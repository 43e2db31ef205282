package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/havenline/havenline/pkg/provider/chat"
	chatmock "github.com/havenline/havenline/pkg/provider/chat/mock"
)

func TestChatFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &chatmock.Provider{
		CompleteResponse: &chat.Response{Text: "hello from primary"},
	}
	secondary := &chatmock.Provider{
		CompleteResponse: &chat.Response{Text: "hello from secondary"},
	}

	fb := NewChatFallback("primary", primary)
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), chat.UserMessage("", "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello from primary" {
		t.Fatalf("text = %q, want 'hello from primary'", resp.Text)
	}
	if len(primary.Calls()) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.Calls()))
	}
	if len(secondary.Calls()) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.Calls()))
	}
}

func TestChatFallback_Complete_Failover(t *testing.T) {
	primary := &chatmock.Provider{
		CompleteErr: errors.New("primary down"),
	}
	secondary := &chatmock.Provider{
		CompleteResponse: &chat.Response{Text: "hello from secondary"},
	}

	fb := NewChatFallback("primary", primary)
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), chat.UserMessage("", "hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hello from secondary" {
		t.Fatalf("text = %q, want 'hello from secondary'", resp.Text)
	}
	if len(secondary.Calls()) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.Calls()))
	}
}

func TestChatFallback_Complete_AllFail(t *testing.T) {
	primary := &chatmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &chatmock.Provider{CompleteErr: errors.New("secondary down")}

	fb := NewChatFallback("primary", primary)
	fb.AddFallback("secondary", secondary)

	_, err := fb.Complete(context.Background(), chat.UserMessage("", "hi"))
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestChatFallback_Complete_RequestReachesFallback(t *testing.T) {
	primary := &chatmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &chatmock.Provider{
		CompleteResponse: &chat.Response{Text: "ok"},
	}

	fb := NewChatFallback("primary", primary)
	fb.AddFallback("secondary", secondary)

	req := chat.UserMessage("be brief", "where is the nearest shelter?")
	if _, err := fb.Complete(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := secondary.Calls()
	if len(calls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(calls))
	}
	if calls[0].Req.System != "be brief" {
		t.Fatalf("system = %q, want 'be brief'", calls[0].Req.System)
	}
	if len(calls[0].Req.Messages) != 1 || calls[0].Req.Messages[0].Content != "where is the nearest shelter?" {
		t.Fatalf("messages = %+v, want the original user turn", calls[0].Req.Messages)
	}
}
