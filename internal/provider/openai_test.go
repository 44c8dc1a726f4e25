package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"chathub/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAgent() domain.Agent {
	temp := 0.4
	return domain.Agent{
		ID:          "agent-1",
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Temperature: &temp,
		MaxTokens:   512,
	}
}

func TestOpenAIComplete(t *testing.T) {
	var gotReq map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{
			"model": "gpt-4o-mini-2024",
			"choices": [{"message": {"content": "hello back"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	res, err := p.Complete(context.Background(), domain.CompletionRequest{
		Agent:  testAgent(),
		APIKey: "sk-secret",
		Messages: []domain.ChatMessage{
			domain.TextMessage("system", "be brief"),
			domain.TextMessage("user", "hello"),
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Content != "hello back" || res.FinishReason != "stop" {
		t.Fatalf("result: %+v", res)
	}
	if res.Usage.TotalTokens != 16 {
		t.Fatalf("usage: %+v", res.Usage)
	}
	if res.Model != "gpt-4o-mini-2024" {
		t.Fatalf("model: %q", res.Model)
	}

	if gotAuth != "Bearer sk-secret" {
		t.Fatalf("auth header: %q", gotAuth)
	}
	if gotReq["model"] != "gpt-4o-mini" {
		t.Fatalf("model in request: %v", gotReq["model"])
	}
	if gotReq["temperature"] != 0.4 {
		t.Fatalf("temperature: %v", gotReq["temperature"])
	}
	if gotReq["max_tokens"] != float64(512) {
		t.Fatalf("max_tokens: %v", gotReq["max_tokens"])
	}
	msgs := gotReq["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "be brief" {
		t.Fatalf("system turn: %v", first)
	}
}

func TestOpenAICompleteMultimodal(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"choices": [{"message": {"content": "a cat"}, "finish_reason": "stop"}]}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := p.Complete(context.Background(), domain.CompletionRequest{
		Agent:  testAgent(),
		APIKey: "sk-secret",
		Messages: []domain.ChatMessage{{
			Role: "user",
			Blocks: []domain.ContentBlock{
				{Type: domain.BlockText, Text: "what is this?"},
				{Type: domain.BlockImage, ImageURL: "https://example.com/cat.png"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	msgs := gotReq["messages"].([]any)
	content, ok := msgs[0].(map[string]any)["content"].([]any)
	if !ok {
		t.Fatalf("multimodal turn should carry part array, got %T", msgs[0].(map[string]any)["content"])
	}
	if len(content) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(content))
	}
	img := content[1].(map[string]any)
	if img["type"] != "image_url" {
		t.Fatalf("second part: %v", img)
	}
}

func TestOpenAICompleteToolCalls(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "mcp_search_lookup", "arguments": "{\"query\": \"weather\"}"}}]
				},
				"finish_reason": "tool_calls"
			}]
		}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	res, err := p.Complete(context.Background(), domain.CompletionRequest{
		Agent:    testAgent(),
		APIKey:   "sk-secret",
		Messages: []domain.ChatMessage{domain.TextMessage("user", "weather?")},
		Tools: []domain.ToolDefinition{{
			Name:        "mcp_search_lookup",
			Description: "look things up",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !res.HasToolCalls() {
		t.Fatalf("expected tool calls, got %+v", res)
	}
	tc := res.ToolCalls[0]
	if tc.Name != "mcp_search_lookup" || tc.Arguments["query"] != "weather" {
		t.Fatalf("tool call: %+v", tc)
	}

	tools := gotReq["tools"].([]any)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	if fn["name"] != "mcp_search_lookup" {
		t.Fatalf("tool schema: %v", fn)
	}
}

func TestOpenAICompleteToolResultTurn(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		fmt.Fprint(w, `{"choices": [{"message": {"content": "sunny"}, "finish_reason": "stop"}]}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := p.Complete(context.Background(), domain.CompletionRequest{
		Agent:  testAgent(),
		APIKey: "sk-secret",
		Messages: []domain.ChatMessage{
			domain.TextMessage("user", "weather?"),
			{
				Role:      "assistant",
				ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "mcp_search_lookup", Arguments: map[string]any{"query": "weather"}}},
			},
			{
				Role:       "tool",
				Blocks:     []domain.ContentBlock{{Type: domain.BlockText, Text: `{"result": "sunny"}`}},
				ToolCallID: "call_1",
				ToolName:   "mcp_search_lookup",
			},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	msgs := gotReq["messages"].([]any)
	assistant := msgs[1].(map[string]any)
	if assistant["tool_calls"] == nil {
		t.Fatalf("assistant turn should replay tool calls: %v", assistant)
	}
	toolTurn := msgs[2].(map[string]any)
	if toolTurn["tool_call_id"] != "call_1" {
		t.Fatalf("tool turn: %v", toolTurn)
	}
}

func TestOpenAICompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := p.Complete(context.Background(), domain.CompletionRequest{
		Agent:    testAgent(),
		APIKey:   "sk-secret",
		Messages: []domain.ChatMessage{domain.TextMessage("user", "hi")},
	})
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestRegistryResolve(t *testing.T) {
	p := NewOpenAI(OpenAIConfig{Logger: testLogger()})
	reg := NewRegistry(testLogger(), p)

	got, err := reg.Resolve("openai")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Name() != "openai" {
		t.Fatalf("resolved %q", got.Name())
	}

	if _, err := reg.Resolve("anthropic"); !errors.Is(err, domain.ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}
