package llm

import "time"

// Role identifies who wrote a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// CompletionRequest is one chat completion. Model, MaxTokens and a nil
// Temperature fall back to the client's defaults. SystemPrompt, when set,
// is sent ahead of Messages.
type CompletionRequest struct {
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`

	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	// JSONMode requests a single JSON object as the reply.
	JSONMode bool `json:"json_mode,omitempty"`
}

// UserPrompt is a request made of one user message.
func UserPrompt(content string) CompletionRequest {
	return CompletionRequest{Messages: []Message{User(content)}}
}

// Temperature returns t as the pointer CompletionRequest expects.
func Temperature(t float64) *float64 {
	return &t
}

// TokenUsage counts the tokens a call consumed.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// CompletionResponse is the reply to a CompletionRequest.
type CompletionResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason"`
	Usage        TokenUsage    `json:"usage"`
	Duration     time.Duration `json:"duration"`
}

// StreamChunk carries part of a streamed reply. The last chunk has Done
// set and, when the provider reports it, Usage. A non-nil Error ends the
// stream.
type StreamChunk struct {
	Content string      `json:"content,omitempty"`
	Usage   *TokenUsage `json:"usage,omitempty"`
	Done    bool        `json:"done"`
	Error   error       `json:"-"`
}
