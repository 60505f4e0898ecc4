package agent

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/harun/chainscout/pkg/toolserver"
)

// DefaultInstruction is the system prompt used when none is configured.
const DefaultInstruction = "You are an AI assistant that can query blockchain data using Blockscout. " +
	"Use the available tools to answer user questions about transactions, addresses, blocks, and tokens. " +
	"Be precise and refer to the tool outputs. When asked for a specific field from an event log, " +
	"provide only that value if found, otherwise state it's not found."

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage record.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// AgentMessage represents a message in the conversation
type AgentMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
}

// ToolSpec is a tool as presented to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ToolSpecsFromDescriptors converts discovered tools into model tool specs.
// Schemas that are missing or not JSON objects become an empty object schema.
func ToolSpecsFromDescriptors(descriptors []toolserver.ToolDescriptor) []ToolSpec {
	specs := make([]ToolSpec, 0, len(descriptors))
	for _, d := range descriptors {
		schema := map[string]interface{}{}
		if len(d.InputSchema) > 0 {
			if err := json.Unmarshal(d.InputSchema, &schema); err != nil || schema == nil {
				schema = map[string]interface{}{}
			}
		}
		if _, ok := schema["type"]; !ok {
			schema["type"] = "object"
		}
		if _, ok := schema["properties"]; !ok {
			schema["properties"] = map[string]interface{}{}
		}
		specs = append(specs, ToolSpec{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		})
	}
	return specs
}

// requiredFields extracts the "required" list from a JSON schema map.
func requiredFields(schema map[string]interface{}) []string {
	var out []string
	switch req := schema["required"].(type) {
	case []string:
		out = append(out, req...)
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// IsRetryableError checks if a reasoning engine error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.StatusCode)
	}

	errMsg := strings.ToLower(err.Error())

	// Network errors
	for _, marker := range []string{"econnreset", "etimedout", "connection reset", "unexpected eof"} {
		if strings.Contains(errMsg, marker) {
			return true
		}
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504", "529"} {
		if strings.Contains(errMsg, code) {
			return true
		}
	}

	return false
}

func retryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}
