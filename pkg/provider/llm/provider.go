// Package llm defines the Provider interface for the text models that
// translate utterances and improvise the simulated peer's replies.
//
// A provider wraps a remote or local model API (Gemini, OpenAI, Anthropic, a
// local Ollama instance) behind a single request/response call so the
// translation service does not couple to any specific SDK.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Role values for [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a conversation sent to the model.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message drives the
	// response.
	Messages []Message

	// SystemPrompt is an optional instruction sent ahead of Messages.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero means the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response. It
	// returns promptly with ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// UserPrompt builds a single-message request, the shape used by one-shot
// translation and reply prompts.
func UserPrompt(prompt string) CompletionRequest {
	return CompletionRequest{Messages: []Message{{Role: RoleUser, Content: prompt}}}
}
