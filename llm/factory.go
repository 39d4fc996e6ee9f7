// LLM Provider Factory - routes model identifiers to the right backend.
//
// Quick Start:
//
//	// Routed by model name prefix
//	p, err := llm.NewProvider(llm.ProviderOptions{APIKey: key, Model: "claude-haiku-4-20250514"})
//
//	// Any OpenAI-compatible endpoint via explicit base URL
//	p, err := llm.NewProvider(llm.ProviderOptions{
//	    APIKey:  key,
//	    Model:   "deepseek-v3.2",
//	    APIBase: "https://api.deepseek.com/v1",
//	})

package llm

import (
	"fmt"
	"strings"
)

// ProviderType represents supported LLM backends.
type ProviderType int

const (
	// ProviderOpenAI is any OpenAI-compatible backend (GPT models, gateways).
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic backend (Claude models).
	ProviderAnthropic
	// ProviderGemini is the Google Gemini backend.
	ProviderGemini
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// DetectProviderType routes a model identifier to a backend by prefix.
// An explicit base URL always wins: any model name served from a custom
// endpoint goes through the OpenAI-compatible path.
func DetectProviderType(model, apiBase string) ProviderType {
	if apiBase != "" {
		return ProviderOpenAI
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(lower, "gemini"):
		return ProviderGemini
	default:
		return ProviderOpenAI
	}
}

// ProviderOptions configures provider construction.
type ProviderOptions struct {
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature *float64
}

// NewProvider creates a provider for the given options, routing by model name.
func NewProvider(opts ProviderOptions) (Provider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	switch DetectProviderType(model, opts.APIBase) {
	case ProviderAnthropic:
		return NewAnthropicProvider(opts.APIKey, model, opts.MaxTokens, opts.Temperature), nil
	case ProviderGemini:
		return NewGeminiProvider(opts.APIKey, model, opts.MaxTokens, opts.Temperature), nil
	default:
		return NewOpenAIProvider(opts.APIKey, opts.APIBase, model, opts.MaxTokens, opts.Temperature), nil
	}
}

// DefaultModel is used when a request names no model at all.
const DefaultModel = ModelOpenAIGPT4oMini

// OpenAI model identifiers
const (
	// ModelOpenAIGPT5 is GPT-5: flagship model.
	ModelOpenAIGPT5 = "gpt-5"
	// ModelOpenAIGPT4o is GPT-4o.
	ModelOpenAIGPT4o = "gpt-4o"
	// ModelOpenAIGPT4oMini is GPT-4o-mini: fast and cheap, a good recursion workhorse.
	ModelOpenAIGPT4oMini = "gpt-4o-mini"
)

// Anthropic model identifiers
const (
	// ModelAnthropicClaudeSonnet4 is Claude Sonnet 4: balanced performance.
	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"
	// ModelAnthropicClaudeHaiku4 is Claude Haiku 4: fast and efficient.
	ModelAnthropicClaudeHaiku4 = "claude-haiku-4-20250514"
)

// Gemini model identifiers
const (
	// ModelGeminiFlash2 is Gemini 2.0 Flash.
	ModelGeminiFlash2 = "gemini-2.0-flash"
)
