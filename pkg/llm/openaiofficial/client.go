// Package openaiofficial provides the OpenAI implementation of the
// llm.LLMClient interface using the official OpenAI Go package.
package openaiofficial

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"ensemble/pkg/llm"
	"ensemble/pkg/llmerrors"
)

// Client wraps the official OpenAI Go client (raw client; middleware is
// applied at a higher level).
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates an OpenAI client for the given model.
func NewClient(apiKey, model string) llm.LLMClient {
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete implements llm.LLMClient.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(msg.Content))
		default:
			msgs = append(msgs, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            msgs,
		MaxCompletionTokens: openai.Int(int64(in.MaxTokens)),
		Temperature:         openai.Float(float64(in.Temperature)),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "received empty response from OpenAI API")
	}

	choice := &resp.Choices[0]
	if choice.Message.Content == "" {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "OpenAI response contained no text content")
	}

	return llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
	}, nil
}

// GetModelName returns the model identity for this client.
func (c *Client) GetModelName() string {
	return c.model
}
