package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenRouterClient_Chat(t *testing.T) {
	var gotAuth string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "test-model",
			"created": 1756500000,
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hello"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	c := NewOpenRouterClient(srv.URL, "sk-test", nil)

	resp, err := c.Chat(context.Background(), "test-model", []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq["model"] != "test-model" {
		t.Errorf("request model = %v", gotReq["model"])
	}
	if resp.Message.Content != "hello" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOpenRouterClient_ToolCallArgumentsParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":   "call-1",
						"type": "function",
						"function": map[string]any{
							"name":      "search_media",
							"arguments": `{"query":"dune"}`,
						},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	c := NewOpenRouterClient(srv.URL, "k", nil)

	resp, err := c.Chat(context.Background(), "test-model", nil, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call-1" || tc.Function.Name != "search_media" {
		t.Errorf("tool call = %+v", tc)
	}
	if tc.Function.Arguments["query"] != "dune" {
		t.Errorf("arguments = %v, want parsed map", tc.Function.Arguments)
	}
}

func TestOpenRouterClient_UnparseableArgumentsPreserved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":       "call-1",
						"function": map[string]any{"name": "x", "arguments": `{broken`},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	c := NewOpenRouterClient(srv.URL, "k", nil)

	resp, err := c.Chat(context.Background(), "test-model", nil, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	args := resp.Message.ToolCalls[0].Function.Arguments
	if args["_raw"] != `{broken` {
		t.Errorf("arguments = %v, want raw fallback", args)
	}
}

func TestOpenRouterClient_RateLimitClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenRouterClient(srv.URL, "k", nil)

	_, err := c.Chat(context.Background(), "m", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if !apiErr.IsRateLimited() {
		t.Errorf("status = %d, want 429 classification", apiErr.StatusCode)
	}
}

func TestOpenRouterClient_ServerErrorNotRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewOpenRouterClient(srv.URL, "k", nil)

	_, err := c.Chat(context.Background(), "m", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.IsRateLimited() {
		t.Error("502 must not classify as rate limited")
	}
}

func TestOpenRouterClient_ToolCallRoundTripOnWire(t *testing.T) {
	var gotReq orRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "m",
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := NewOpenRouterClient(srv.URL, "k", nil)

	tc := ToolCall{ID: "call-1"}
	tc.Function.Name = "search_media"
	tc.Function.Arguments = map[string]any{"query": "dune"}

	messages := []Message{
		{Role: "assistant", ToolCalls: []ToolCall{tc}},
		{Role: "tool", Content: "Found it", ToolCallID: "call-1"},
	}
	if _, err := c.Chat(context.Background(), "m", messages, nil); err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(gotReq.Messages) != 2 {
		t.Fatalf("wire messages = %d", len(gotReq.Messages))
	}
	wire := gotReq.Messages[0].ToolCalls[0]
	if wire.Type != "function" || wire.Function.Name != "search_media" {
		t.Errorf("wire tool call = %+v", wire)
	}
	// Arguments serialize to a JSON string on the wire.
	var args map[string]any
	if err := json.Unmarshal([]byte(wire.Function.Arguments), &args); err != nil || args["query"] != "dune" {
		t.Errorf("wire arguments = %q", wire.Function.Arguments)
	}
	if gotReq.Messages[1].ToolCallID != "call-1" {
		t.Errorf("tool result message = %+v", gotReq.Messages[1])
	}
}

func TestOpenRouterClient_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, token := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"model\":\"m\",\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", token)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenRouterClient(srv.URL, "k", nil)

	var tokens []string
	resp, err := c.ChatStream(context.Background(), "m", nil, nil, func(token string) {
		tokens = append(tokens, token)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if resp.Message.Content != "Hello" {
		t.Errorf("assembled content = %q", resp.Message.Content)
	}
	if len(tokens) != 2 {
		t.Errorf("tokens = %v", tokens)
	}
}

func TestOpenRouterClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	good := NewOpenRouterClient(srv.URL, "good-key", nil)
	if err := good.Ping(context.Background()); err != nil {
		t.Errorf("ping with valid key: %v", err)
	}

	bad := NewOpenRouterClient(srv.URL, "bad-key", nil)
	if err := bad.Ping(context.Background()); err == nil {
		t.Error("ping with invalid key should fail")
	}
}
