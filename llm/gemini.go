// Google Gemini Provider implementation using official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation
// - Request/response format for Gemini API
// - System instruction handling via config

package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature *float64
	initErr     error // Stores client initialization error for deferred reporting
}

// NewGeminiProvider creates a new Gemini provider.
// If client initialization fails, the error is stored and returned on first use.
func NewGeminiProvider(apiKey, model string, maxTokens int, temperature *float64) *GeminiProvider {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		// Store initialization error to return on first use - preserves constructor signature
		return &GeminiProvider{
			client:      nil,
			model:       model,
			maxTokens:   int32(maxTokens),
			temperature: temperature,
			initErr:     fmt.Errorf("failed to initialize Gemini client: %w", err),
		}
	}

	return &GeminiProvider{
		client:      client,
		model:       model,
		maxTokens:   int32(maxTokens),
		temperature: temperature,
		initErr:     nil,
	}
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the current model.
func (p *GeminiProvider) Model() string {
	return p.model
}

// Complete sends a chat completion request.
func (p *GeminiProvider) Complete(ctx context.Context, messages []Message) (Completion, error) {
	if p.initErr != nil {
		return Completion{}, p.initErr
	}
	if p.client == nil {
		return Completion{}, fmt.Errorf("gemini client not initialized")
	}

	contents, systemInstruction := convertToGeminiMessages(messages)

	config := &genai.GenerateContentConfig{}
	if p.maxTokens > 0 {
		config.MaxOutputTokens = p.maxTokens
	}
	if p.temperature != nil {
		config.Temperature = genai.Ptr(float32(*p.temperature))
	}

	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	response, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion failed: %w", err)
	}

	content := response.Text()
	if content == "" {
		return Completion{}, fmt.Errorf("empty response from Gemini")
	}

	var usage *Usage
	if response.UsageMetadata != nil {
		usage = &Usage{
			PromptTokens:     uint32(response.UsageMetadata.PromptTokenCount),
			CompletionTokens: uint32(response.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      uint32(response.UsageMetadata.TotalTokenCount),
		}
	}

	return Completion{Content: content, Usage: usage}, nil
}

// convertToGeminiMessages converts our Message to Gemini format.
// Extracts system message and returns it separately.
func convertToGeminiMessages(messages []Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var systemInstruction string

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemInstruction = msg.Content
		case "user":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}

	return contents, systemInstruction
}

// Verify GeminiProvider implements Provider
var _ Provider = (*GeminiProvider)(nil)
