// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jllopis/conclave/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := New()
	if p.Model() != DefaultModel {
		t.Errorf("expected model %s, got %s", DefaultModel, p.Model())
	}
}

func TestWithModel(t *testing.T) {
	p := New(WithModel("gpt-4-turbo"))
	if p.model != "gpt-4-turbo" {
		t.Errorf("expected model gpt-4-turbo, got %s", p.model)
	}
	if New(WithModel("")).model != DefaultModel {
		t.Error("empty model should keep the default")
	}
}

func TestBuildParamsSampling(t *testing.T) {
	p := New(WithAPIKey("test-key"))
	params := p.buildParams(llm.ChatRequest{
		Messages:    llm.SystemAndUser("sys", "hi"),
		Temperature: 0.7,
		MaxTokens:   300,
	})
	if params.Model != DefaultModel {
		t.Errorf("expected default model, got %s", params.Model)
	}
	if params.MaxCompletionTokens.Value != 300 {
		t.Errorf("expected max tokens 300, got %v", params.MaxCompletionTokens.Value)
	}
	if params.Temperature.Value != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", params.Temperature.Value)
	}
	if len(params.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(params.Messages))
	}
}

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  llm.Message
	}{
		{name: "system message", msg: llm.Message{Role: llm.RoleSystem, Content: "You are helpful"}},
		{name: "user message", msg: llm.Message{Role: llm.RoleUser, Content: "Hello"}},
		{name: "assistant message", msg: llm.Message{Role: llm.RoleAssistant, Content: "Hi there"}},
		{
			name: "assistant tool call",
			msg: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
				ID: "call_1", Type: llm.ToolTypeFunction,
				Function: llm.FunctionCall{Name: "vault_search", Arguments: `{"q":"x"}`},
			}}},
		},
		{name: "tool message", msg: llm.Message{Role: llm.RoleTool, Content: "result", ToolCallID: "call_123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = convertMessage(tt.msg)
		})
	}
}

func TestChatAgainstFakeServer(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Ask yourself why."}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7}
		}`))
	}))
	defer srv.Close()

	p := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages:  llm.SystemAndUser("sys", "why?"),
		MaxTokens: 50,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "Ask yourself why." || resp.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if body["max_completion_tokens"] != float64(50) {
		t.Errorf("expected max_completion_tokens in request body, got %v", body["max_completion_tokens"])
	}
}
