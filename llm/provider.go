// Package llm provides the provider abstraction for chat completions.
//
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific error shapes
//
// Retry policy lives in Client, not in providers: a provider call is one
// attempt against the backing API.
package llm

import (
	"context"
)

// Message represents a chat message with role and content.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// Usage contains token usage statistics for one completion.
type Usage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// Completion is a single completion returned by a provider.
type Completion struct {
	Content string
	Usage   *Usage
}

// Provider defines the abstract interface for LLM providers.
// Implementations must be safe for concurrent use: recursive fan-out calls
// Complete from multiple goroutines.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the model this provider targets.
	Model() string

	// Complete sends one chat completion request. One call is one attempt;
	// the caller owns retries.
	Complete(ctx context.Context, messages []Message) (Completion, error)
}
