// Package types defines the chat-completion wire format exchanged with the
// upstream model API. The shapes follow OpenAI's Chat Completion API.
package types //nolint:revive // package name is intentional

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single role/content pair in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a user-role message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// ChatRequest is the outbound body sent to the upstream chat-completion API.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Model    string        `json:"model"`
}

// CloneMessages returns a copy of msgs with room for extra appended entries.
func CloneMessages(msgs []ChatMessage, extra int) []ChatMessage {
	out := make([]ChatMessage, len(msgs), len(msgs)+extra)
	copy(out, msgs)
	return out
}
