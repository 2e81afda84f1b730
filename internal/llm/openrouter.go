package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MaartenKnaepen/home-agent/internal/config"
	"github.com/MaartenKnaepen/home-agent/internal/httpkit"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouterClient talks to an OpenAI-compatible chat completions API
// (OpenRouter by default, but any /chat/completions endpoint works).
type OpenRouterClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenRouterClient creates a client for an OpenAI-compatible endpoint.
func NewOpenRouterClient(baseURL, apiKey string, logger *slog.Logger) *OpenRouterClient {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Model responses can take significant time before sending headers
	// (reasoning models, long prompts). Use a generous response header
	// timeout and no overall client timeout; ctx controls cancellation.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenRouterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger.With("provider", "openrouter"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// OpenAI-compatible request/response types. Tool call arguments are a
// JSON-encoded string on the wire; conversion to map[string]any happens
// here at the provider boundary.

type orRequest struct {
	Model    string           `json:"model"`
	Messages []orMessage      `json:"messages"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
}

type orMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []orToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type orToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type orResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      orMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type orStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	body, err := c.send(ctx, model, messages, tools, false)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp orResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	result := &ChatResponse{
		Model:        resp.Model,
		CreatedAt:    time.Unix(resp.Created, 0),
		Message:      fromWireMessage(resp.Choices[0].Message),
		Done:         true,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// ChatStream sends a streaming chat request, delivering tokens to the
// callback as they arrive. Tool calls are not supported on the
// streaming path; use Chat for tool-enabled turns.
func (c *OpenRouterClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	if callback == nil {
		return c.Chat(ctx, model, messages, tools)
	}

	body, err := c.send(ctx, model, messages, tools, true)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var contentBuilder strings.Builder
	resp := &ChatResponse{Done: true}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk orStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // Skip malformed events
		}
		if chunk.Model != "" {
			resp.Model = chunk.Model
		}
		if chunk.Usage != nil {
			resp.InputTokens = chunk.Usage.PromptTokens
			resp.OutputTokens = chunk.Usage.CompletionTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				contentBuilder.WriteString(choice.Delta.Content)
				callback(choice.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	resp.Message = Message{Role: "assistant", Content: contentBuilder.String()}
	return resp, nil
}

// Ping verifies the API key by listing models.
func (c *OpenRouterClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from API: %d", resp.StatusCode)
	}
	return nil
}

// send performs the HTTP POST and returns the response body on 2xx.
// Non-2xx statuses become *APIError so callers can classify them.
func (c *OpenRouterClient) send(ctx context.Context, model string, messages []Message, tools []map[string]any, stream bool) (io.ReadCloser, error) {
	req := orRequest{
		Model:    model,
		Messages: toWireMessages(messages),
		Tools:    tools,
		Stream:   stream,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(messages),
		"tools", len(tools),
		"stream", stream,
	)
	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: errBody}
	}

	return resp.Body, nil
}

// toWireMessages converts internal messages to the OpenAI wire format,
// serializing tool call arguments to JSON strings.
func toWireMessages(messages []Message) []orMessage {
	result := make([]orMessage, 0, len(messages))
	for _, msg := range messages {
		wire := orMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Function.Arguments
			if args == nil {
				args = map[string]any{}
			}
			encoded, err := json.Marshal(args)
			if err != nil {
				encoded = []byte("{}")
			}
			wtc := orToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Function.Name
			wtc.Function.Arguments = string(encoded)
			wire.ToolCalls = append(wire.ToolCalls, wtc)
		}
		result = append(result, wire)
	}
	return result
}

// fromWireMessage converts an OpenAI wire message to the internal form,
// parsing tool call argument strings into maps. Unparseable arguments
// are preserved under "_raw" rather than dropped.
func fromWireMessage(wire orMessage) Message {
	msg := Message{
		Role:       wire.Role,
		Content:    wire.Content,
		ToolCallID: wire.ToolCallID,
	}
	for _, wtc := range wire.ToolCalls {
		var args map[string]any
		if wtc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(wtc.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": wtc.Function.Arguments}
			}
		}
		tc := ToolCall{ID: wtc.ID}
		tc.Function.Name = wtc.Function.Name
		tc.Function.Arguments = args
		msg.ToolCalls = append(msg.ToolCalls, tc)
	}
	return msg
}
