package agent

import (
	"context"
	"fmt"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// LLMProvider is one reasoning engine backend.
type LLMProvider interface {
	// Call sends the conversation and returns the model's next turn.
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name used in logs and metrics.
	Provider() string
}

// LLMRequest is one model turn. Messages never contain the system prompt;
// providers place SystemPrompt where their API expects it.
type LLMRequest struct {
	Model        string
	Messages     []AgentMessage
	Tools        []ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse is the model's turn: text, the tools it wants called, or both.
type LLMResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      *TokenUsage
}

// NewProvider returns the backend registered under name.
func NewProvider(name, apiKey string) (LLMProvider, error) {
	switch name {
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey), nil
	}
	return nil, fmt.Errorf("unsupported provider: %q", name)
}

// DefaultModel returns the model used when none is configured for the provider.
func DefaultModel(provider string) string {
	if provider == ProviderOpenAI {
		return "gpt-4-turbo"
	}
	return "claude-sonnet-4-20250514"
}
