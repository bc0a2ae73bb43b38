package llm

import (
	"context"
	"strings"
)

// Adapter fills model defaults into chat requests for the agent loop.
type Adapter struct {
	Client        Client
	DefaultModel  string
	DefaultTemp   float64
	DefaultTokens int
}

// Turn is one model call: the conversation so far and the tools on offer.
type Turn struct {
	Model       string
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature float64
}

func (a Adapter) Chat(ctx context.Context, turn Turn) (Message, error) {
	model := turn.Model
	if strings.TrimSpace(model) == "" {
		model = a.DefaultModel
	}
	if strings.TrimSpace(model) == "" {
		model = a.Client.ModelIdentifier
	}

	cr := ChatCompletionRequest{
		Model:               model,
		Messages:            turn.Messages,
		MaxCompletionTokens: chooseInt(turn.MaxTokens, chooseInt(a.DefaultTokens, a.Client.MaxTokensResponse)),
		Tools:               turn.Tools,
	}
	if len(turn.Tools) > 0 {
		cr.ToolChoice = "auto"
	}

	// Many current models only accept the default temperature (1); 0 and 1 leave it to the server.
	resolvedTemp := chooseFloat(turn.Temperature, chooseFloat(a.DefaultTemp, a.Client.Temperature))
	if resolvedTemp != 0 && resolvedTemp != 1 {
		cr.Temperature = &resolvedTemp
	}

	return a.Client.CreateChatCompletion(ctx, cr)
}

func chooseInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func chooseFloat(a, b float64) float64 {
	if a > 0 {
		return a
	}
	return b
}
