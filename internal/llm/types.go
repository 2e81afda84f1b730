// Package llm provides LLM client implementations.
package llm

import (
	"fmt"
	"time"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string `json:"id,omitempty"` // Provider-assigned ID for tool_result correlation
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is the unified response from any LLM provider.
// All fields use proper Go types — wire format conversion happens
// at the provider boundary (openrouter.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}

// StreamCallback receives incremental text tokens during a streaming
// response.
type StreamCallback func(token string)

// APIError is a classified HTTP-level failure from an LLM provider.
// StatusCode carries the upstream HTTP status so callers can
// distinguish rate limiting (429) from other failures.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm API error %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether the error indicates the caller should
// slow down and retry later.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}
