// Package agent runs the conversation loop between the model and the workspace tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/directorium/internal/llm"
)

const DefaultMaxTurns = 16

var (
	ErrTurnLimit    = errors.New("agent reached the turn limit without a final answer")
	ErrEmptyMessage = errors.New("user message is empty")
)

// Chatter sends one turn to the model.
type Chatter interface {
	Chat(ctx context.Context, turn llm.Turn) (llm.Message, error)
}

// Toolset lists and executes tools.
type Toolset interface {
	Definitions() []llm.Tool
	Call(ctx context.Context, name string, argumentsJSON string) string
}

// History loads and extends conversation threads.
type History interface {
	Messages(ctx context.Context, threadID string) ([]llm.Message, error)
	Append(ctx context.Context, threadID string, messages ...llm.Message) error
}

// Observer is told about tool activity while a response is produced. Nil callbacks are skipped.
type Observer struct {
	OnToolCall   func(call llm.ToolCall)
	OnToolResult func(call llm.ToolCall, result string)
}

type Config struct {
	Model        string
	SystemPrompt string
	MaxTurns     int
	MaxTokens    int
	Temperature  float64
}

type Agent struct {
	chatter Chatter
	tools   Toolset
	history History
	config  Config
	logger  *zap.Logger
}

func New(chatter Chatter, tools Toolset, history History, config Config, logger *zap.Logger) *Agent {
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{chatter: chatter, tools: tools, history: history, config: config, logger: logger}
}

// Respond appends userMessage to the thread and loops model, tools, model until the model
// answers without tool calls. Every exchange is persisted as soon as it is complete so the
// stored thread always pairs tool calls with their results.
func (a *Agent) Respond(ctx context.Context, threadID string, userMessage string, observer Observer) (string, error) {
	if strings.TrimSpace(userMessage) == "" {
		return "", ErrEmptyMessage
	}
	conversation, err := a.history.Messages(ctx, threadID)
	if err != nil {
		return "", err
	}

	var pending []llm.Message
	if !hasSystemMessage(conversation) && strings.TrimSpace(a.config.SystemPrompt) != "" {
		system := llm.Message{Role: llm.RoleSystem, Content: a.config.SystemPrompt}
		conversation = append([]llm.Message{system}, conversation...)
		if len(conversation) == 1 {
			pending = append(pending, system)
		}
	}
	user := llm.Message{Role: llm.RoleUser, Content: userMessage}
	conversation = append(conversation, user)
	pending = append(pending, user)
	if err := a.history.Append(ctx, threadID, pending...); err != nil {
		return "", err
	}

	definitions := a.tools.Definitions()
	for turn := 1; turn <= a.config.MaxTurns; turn++ {
		reply, err := a.chatter.Chat(ctx, llm.Turn{
			Model:       a.config.Model,
			Messages:    conversation,
			Tools:       definitions,
			MaxTokens:   a.config.MaxTokens,
			Temperature: a.config.Temperature,
		})
		if err != nil {
			return "", fmt.Errorf("model turn %d: %w", turn, err)
		}
		reply.Role = llm.RoleAssistant

		if len(reply.ToolCalls) == 0 {
			if err := a.history.Append(ctx, threadID, reply); err != nil {
				return "", err
			}
			a.logger.Debug("agent answered", zap.String("thread", threadID), zap.Int("turns", turn))
			return reply.Content, nil
		}

		exchange := []llm.Message{reply}
		for _, call := range reply.ToolCalls {
			if observer.OnToolCall != nil {
				observer.OnToolCall(call)
			}
			result := a.tools.Call(ctx, call.Function.Name, call.Function.Arguments)
			a.logger.Info("tool called", zap.String("thread", threadID), zap.String("tool", call.Function.Name))
			if observer.OnToolResult != nil {
				observer.OnToolResult(call, result)
			}
			exchange = append(exchange, llm.Message{
				Role:       llm.RoleTool,
				Name:       call.Function.Name,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
		conversation = append(conversation, exchange...)
		if err := a.history.Append(ctx, threadID, exchange...); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w (%d turns)", ErrTurnLimit, a.config.MaxTurns)
}

func hasSystemMessage(messages []llm.Message) bool {
	for _, message := range messages {
		if message.Role == llm.RoleSystem {
			return true
		}
	}
	return false
}
