package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAdapterSendsToolsAndDefaults(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if err := json.NewDecoder(request.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writer.Header().Set("Content-Type", "application/json")
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message":       map[string]any{"content": "done", "role": "assistant"},
					"finish_reason": "stop",
				},
			},
		}
		if err := json.NewEncoder(writer).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer server.Close()

	adapter := Adapter{
		Client:        Client{HTTPBaseURL: server.URL, APIKey: "test"},
		DefaultModel:  "gpt-4o-mini",
		DefaultTokens: 256,
		DefaultTemp:   1,
	}

	parameters := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	resp, err := adapter.Chat(context.Background(), Turn{
		Messages: []Message{
			{Role: RoleSystem, Content: "system"},
			{Role: RoleUser, Content: "user"},
		},
		Tools: []Tool{NewFunctionTool("get_files_info", "Lists files", parameters)},
	})
	if err != nil {
		t.Fatalf("adapter chat: %v", err)
	}
	if resp.Content != "done" {
		t.Fatalf("unexpected response %q", resp.Content)
	}

	if received["model"] != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %v", received["model"])
	}
	if received["max_completion_tokens"] != float64(256) {
		t.Fatalf("expected default tokens, got %v", received["max_completion_tokens"])
	}
	if _, present := received["temperature"]; present {
		t.Fatalf("temperature 1 should be omitted, got %v", received["temperature"])
	}
	if received["tool_choice"] != "auto" {
		t.Fatalf("expected tool_choice auto, got %v", received["tool_choice"])
	}
	tools, ok := received["tools"].([]any)
	if !ok || len(tools) != 1 {
		t.Fatalf("expected one tool, got %v", received["tools"])
	}
	function := tools[0].(map[string]any)["function"].(map[string]any)
	if function["name"] != "get_files_info" {
		t.Fatalf("unexpected tool definition %v", function)
	}
}

func TestAdapterForwardsExplicitTemperature(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		_ = json.NewDecoder(request.Body).Decode(&received)
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	adapter := Adapter{Client: Client{HTTPBaseURL: server.URL, APIKey: "test"}, DefaultModel: "m"}
	if _, err := adapter.Chat(context.Background(), Turn{Messages: []Message{{Role: RoleUser, Content: "hi"}}, Temperature: 0.2}); err != nil {
		t.Fatalf("adapter chat: %v", err)
	}
	if received["temperature"] != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", received["temperature"])
	}
	if _, present := received["tools"]; present {
		t.Fatalf("tools should be omitted when none are offered")
	}
}
