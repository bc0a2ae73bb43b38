package llm

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestCreateChatCompletionIntegration(t *testing.T) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set")
	}

	model := strings.TrimSpace(os.Getenv("DIRECTORIUM_INTEGRATION_MODEL"))
	if model == "" {
		model = "gpt-4o-mini"
	}

	client := Client{
		HTTPBaseURL: "https://api.openai.com/v1",
		APIKey:      apiKey,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	response, err := client.CreateChatCompletion(ctx, ChatCompletionRequest{
		Model: model,
		Messages: []Message{
			{Role: RoleSystem, Content: "You respond with the single word pong."},
			{Role: RoleUser, Content: "ping"},
		},
		MaxCompletionTokens: 16,
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion integration call failed: %v", err)
	}
	if !strings.Contains(strings.ToLower(response.Content), "pong") {
		t.Fatalf("expected response to mention pong, got %q", response.Content)
	}
}
