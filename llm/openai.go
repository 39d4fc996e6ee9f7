// OpenAI-compatible provider implementation using the go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for the Chat Completions API
//
// A custom base URL makes this the transport for any OpenAI-compatible
// endpoint (self-hosted gateways, deepseek-style APIs), which is how the
// request's api_base option is honored.

package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider interface for OpenAI-compatible APIs.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature *float64
}

// NewOpenAIProvider creates a new OpenAI-compatible provider. baseURL may be
// empty, in which case the library default endpoint is used.
func NewOpenAIProvider(apiKey, baseURL, model string, maxTokens int, temperature *float64) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: convertToOpenAIMessages(messages),
	}
	if p.maxTokens > 0 {
		req.MaxTokens = p.maxTokens
	}
	if p.temperature != nil {
		req.Temperature = float32(*p.temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion failed: %w", err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	usage := &Usage{
		PromptTokens:     uint32(resp.Usage.PromptTokens),
		CompletionTokens: uint32(resp.Usage.CompletionTokens),
		TotalTokens:      uint32(resp.Usage.TotalTokens),
	}

	return Completion{Content: content, Usage: usage}, nil
}

// convertToOpenAIMessages converts our Message to openai.ChatCompletionMessage.
func convertToOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		result[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return result
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
