// Package anthropic provides the Anthropic Claude implementation of the
// llm.LLMClient interface.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ensemble/pkg/llm"
	"ensemble/pkg/llmerrors"
)

// Client wraps the Anthropic API client (raw client; middleware is applied
// at a higher level).
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient creates a Claude client for the given model.
func NewClient(apiKey, model string) llm.LLMClient {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// splitSystem extracts system messages into a single system prompt and
// merges consecutive same-role messages so the remainder alternates
// user/assistant as the Anthropic API requires.
func splitSystem(messages []llm.CompletionMessage) (string, []llm.CompletionMessage, error) {
	var systemParts []string
	var rest []llm.CompletionMessage

	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		role := msg.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		if n := len(rest); n > 0 && rest[n-1].Role == role {
			rest[n-1].Content += "\n\n" + msg.Content
			continue
		}
		rest = append(rest, llm.CompletionMessage{Role: role, Content: msg.Content})
	}

	if len(rest) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if rest[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got %s", rest[0].Role)
	}

	return strings.Join(systemParts, "\n\n"), rest, nil
}

// Complete implements llm.LLMClient.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	systemPrompt, messages, err := splitSystem(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Wrap(llmerrors.ErrorTypeBadPrompt, err, "message conversion error")
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	for i := range messages {
		msg := &messages[i]
		params.Messages = append(params.Messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt, Type: "text"}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var text strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		StopReason: string(resp.StopReason),
	}, nil
}

// GetModelName returns the model identity for this client.
func (c *Client) GetModelName() string {
	return string(c.model)
}
