package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/havenline/havenline/pkg/provider/chat"
)

// summarisationPrompt is the system prompt for end-of-call summaries. The
// summary is operational, for counsellor review; it must never editorialize.
const summarisationPrompt = `Summarise this support call transcript in 2-3 sentences.
Preserve: what the caller was looking for, locations mentioned, resources provided,
and whether SMS follow-up was requested. Do not include opinions or advice.`

// Summariser produces a concise summary of a call's turn history.
type Summariser interface {
	// Summarise condenses the given turns into a short summary string.
	Summarise(ctx context.Context, turns []Turn) (string, error)
}

// ChatSummariser summarises calls with a chat completion.
type ChatSummariser struct {
	chat chat.Provider
}

// NewChatSummariser creates a ChatSummariser backed by the given provider.
func NewChatSummariser(provider chat.Provider) *ChatSummariser {
	return &ChatSummariser{chat: provider}
}

// Summarise formats the turn history into a transcript and asks the model
// for a summary. An empty history summarises to "".
func (s *ChatSummariser) Summarise(ctx context.Context, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "[%s]: %s\n", t.Role, t.Text)
	}

	resp, err := s.chat.Complete(ctx, chat.Request{
		System: summarisationPrompt,
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: sb.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise call: %w", err)
	}
	return resp.Text, nil
}

var _ Summariser = (*ChatSummariser)(nil)
