package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"

	toolTypeFunction = "function"
)

type Client struct {
	HTTPBaseURL       string
	APIKey            string
	ModelIdentifier   string
	MaxTokensResponse int
	Temperature       float64
	HTTPClient        *http.Client
}

// Message is one chat message in either direction. Assistant messages may carry
// tool calls; tool messages answer one call by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool advertises one callable function to the model.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// NewFunctionTool wraps a function definition as a tool.
func NewFunctionTool(name string, description string, parameters json.RawMessage) Tool {
	return Tool{Type: toolTypeFunction, Function: FunctionDefinition{Name: name, Description: description, Parameters: parameters}}
}

type ChatCompletionRequest struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
	Temperature         *float64  `json:"temperature,omitempty"`
	Tools               []Tool    `json:"tools,omitempty"`
	ToolChoice          string    `json:"tool_choice,omitempty"`
}

type chatMessageResponse struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Refusal   json.RawMessage `json:"refusal,omitempty"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
}

type chatCompletionChoice struct {
	Message      chatMessageResponse `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type ChatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
}

func truncateForLog(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}

// CreateChatCompletion posts the request and returns the first choice's message.
// A message with tool calls may have empty content; a message without tool calls must not.
func (c Client) CreateChatCompletion(ctx context.Context, requestPayload ChatCompletionRequest) (Message, error) {
	requestBytes, marshalErr := json.Marshal(requestPayload)
	if marshalErr != nil {
		return Message{}, marshalErr
	}
	httpRequest, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.HTTPBaseURL, "/")+"/chat/completions", bytes.NewReader(requestBytes))
	if buildErr != nil {
		return Message{}, buildErr
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+c.APIKey)

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	httpResponse, httpErr := httpClient.Do(httpRequest)
	if httpErr != nil {
		return Message{}, httpErr
	}
	defer func(closer io.ReadCloser) { _ = closer.Close() }(httpResponse.Body)

	bodyBytes, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return Message{}, readErr
	}
	bodyPreview := truncateForLog(string(bodyBytes), 512)

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return Message{}, fmt.Errorf("llm http error %d: %s", httpResponse.StatusCode, bodyPreview)
	}

	var completion ChatCompletionResponse
	if decodeErr := json.Unmarshal(bodyBytes, &completion); decodeErr != nil {
		return Message{}, fmt.Errorf("decode chat completion: %w (body=%s)", decodeErr, bodyPreview)
	}
	if len(completion.Choices) == 0 {
		return Message{}, fmt.Errorf("chat completion returned no choices (status=%d body=%s)", httpResponse.StatusCode, bodyPreview)
	}

	choice := completion.Choices[0]
	content, extractErr := extractMessageContent(choice.Message)
	if extractErr != nil {
		return Message{}, fmt.Errorf("chat completion parse error: %w (body=%s)", extractErr, bodyPreview)
	}

	message := Message{Role: RoleAssistant, Content: strings.TrimSpace(content), ToolCalls: choice.Message.ToolCalls}
	if len(message.ToolCalls) > 0 || message.Content != "" {
		return message, nil
	}
	if refusal := decodeRefusal(choice.Message.Refusal); refusal != "" {
		return Message{}, fmt.Errorf("chat completion refusal: %s (status=%d body=%s)", refusal, httpResponse.StatusCode, bodyPreview)
	}
	if strings.EqualFold(strings.TrimSpace(choice.FinishReason), "length") {
		return Message{}, fmt.Errorf("chat completion hit the token limit with an empty message (status=%d body=%s)", httpResponse.StatusCode, bodyPreview)
	}
	return Message{}, fmt.Errorf("chat completion returned empty message (status=%d body=%s)", httpResponse.StatusCode, bodyPreview)
}

func extractMessageContent(message chatMessageResponse) (string, error) {
	if len(message.Content) == 0 || string(message.Content) == "null" {
		if len(message.ToolCalls) > 0 {
			return "", nil
		}
		refusal := decodeRefusal(message.Refusal)
		if refusal != "" {
			return "", fmt.Errorf("chat completion refusal: %s", refusal)
		}
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(message.Content, &asString); err == nil {
		return asString, nil
	}

	if text, ok := extractRichText(message.Content); ok {
		return text, nil
	}

	refusal := decodeRefusal(message.Refusal)
	if refusal != "" {
		return "", fmt.Errorf("chat completion refusal: %s", refusal)
	}

	return "", fmt.Errorf("unsupported message content: %s", truncateForLog(string(message.Content), 240))
}

func extractRichText(raw json.RawMessage) (string, bool) {
	fragments := gatherTextFragments(raw)
	if len(fragments) == 0 {
		return "", false
	}
	combined := strings.TrimSpace(strings.Join(fragments, "\n"))
	if combined == "" {
		return "", false
	}
	return combined, true
}

func gatherTextFragments(raw json.RawMessage) []string {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return flattenText(data)
}

func flattenText(value any) []string {
	switch v := value.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	case []any:
		var collected []string
		for _, item := range v {
			collected = append(collected, flattenText(item)...)
		}
		return collected
	case map[string]any:
		if text, ok := v["text"]; ok {
			return flattenText(text)
		}
		if content, ok := v["content"]; ok {
			return flattenText(content)
		}
		if valuePart, ok := v["value"]; ok {
			return flattenText(valuePart)
		}
		return nil
	default:
		return nil
	}
}

func decodeRefusal(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var refusalString string
	if err := json.Unmarshal(raw, &refusalString); err == nil {
		return strings.TrimSpace(refusalString)
	}
	if text, ok := extractRichText(raw); ok {
		return text
	}
	return strings.TrimSpace(truncateForLog(string(raw), 200))
}
