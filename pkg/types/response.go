package types //nolint:revive // package name is intentional

// ChatResponse is the upstream chat-completion response.
type ChatResponse struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// ResponseMessage is the message of a choice. Content is nil when the
// upstream omitted it or sent null.
type ResponseMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// Text returns the message content and whether it was present.
func (m ResponseMessage) Text() (string, bool) {
	if m.Content == nil {
		return "", false
	}
	return *m.Content, true
}

// Usage contains token usage statistics for the request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FirstMessage returns the message of the first choice, if any.
func (r *ChatResponse) FirstMessage() (ResponseMessage, bool) {
	if r == nil || len(r.Choices) == 0 {
		return ResponseMessage{}, false
	}
	return r.Choices[0].Message, true
}
