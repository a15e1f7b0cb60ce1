// Package ollamaclient provides the Ollama implementation of the
// llm.LLMClient interface for locally hosted models.
package ollamaclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"ensemble/pkg/llm"
	"ensemble/pkg/llmerrors"
)

// DefaultHostURL is used when no Ollama host is configured.
const DefaultHostURL = "http://localhost:11434"

// Client wraps the Ollama API client (raw client; middleware is applied at
// a higher level).
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates an Ollama client for the given model. hostURL should be
// the Ollama server URL (e.g. "http://localhost:11434").
func NewClient(hostURL, model string) llm.LLMClient {
	if hostURL == "" {
		hostURL = DefaultHostURL
	}
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		parsedURL, _ = url.Parse(DefaultHostURL)
	}

	return &Client{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}
}

// Complete implements llm.LLMClient.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream := false // Complete is synchronous
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if response.Message.Content == "" {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "received empty response from Ollama")
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
	}, nil
}

// GetModelName returns the model identity for this client.
func (c *Client) GetModelName() string {
	return c.model
}

// stopReason normalizes Ollama's done_reason.
func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}
