package chat

// Role identifies the author of a Message.
type Role string

// Roles understood by every backend.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn inside a completion request.
type Message struct {
	Role    Role
	Content string
}

// Request describes one chat completion. System is kept separate from
// Messages because most backends treat the system prompt specially;
// adapters prepend it as the first message where the wire format wants
// a flat list.
type Request struct {
	// System is the system prompt. Empty means none.
	System string
	// Messages is the conversation so far, oldest first. Must contain at
	// least one user message.
	Messages []Message
	// MaxTokens caps the completion length. Zero lets the adapter default
	// apply.
	MaxTokens int
	// Temperature in [0, 2]. Negative means backend default.
	Temperature float64
}

// Usage reports token accounting as the backend measured it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a completed chat turn.
type Response struct {
	// Text is the assistant reply with surrounding whitespace trimmed.
	Text string
	// Usage is zero-valued when the backend does not report it.
	Usage Usage
}

// UserMessage is shorthand for a Request with a single user turn, which is
// the common case everywhere outside call summarisation.
func UserMessage(system, user string) Request {
	return Request{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: user}},
	}
}
