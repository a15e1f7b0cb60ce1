// Package gemini provides the Google Gemini implementation of the
// llm.LLMClient interface.
package gemini

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"ensemble/pkg/llm"
	"ensemble/pkg/llmerrors"
)

// Client wraps the Google GenAI client (raw client; middleware is applied
// at a higher level).
type Client struct {
	mu     sync.Mutex
	client *genai.Client // created lazily; genai.NewClient requires a context
	apiKey string
	model  string
}

// NewClient creates a Gemini client for the given model.
func NewClient(apiKey, model string) llm.LLMClient {
	return &Client{
		apiKey: apiKey,
		model:  model,
	}
}

func (c *Client) ensureClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.ErrorTypeAuth, err, "failed to create Gemini client")
	}
	c.client = client
	return client, nil
}

// convertMessages maps completion messages to Gemini contents, pulling
// system messages out into a single system instruction.
func convertMessages(messages []llm.CompletionMessage) ([]*genai.Content, string) {
	var contents []*genai.Content
	system := ""
	for i := range messages {
		msg := &messages[i]
		if msg.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		role := genai.RoleUser
		if msg.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return contents, system
}

// Complete implements llm.LLMClient.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	client, err := c.ensureClient(ctx)
	if err != nil {
		return llm.CompletionResponse{}, err
	}

	contents, system := convertMessages(in.Messages)
	if len(contents) == 0 {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeBadPrompt, "must have at least one non-system message")
	}

	temperature := in.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens), //nolint:gosec // bounded by config validation
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	result, err := client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.Classify(err)
	}
	if result == nil || result.Text() == "" {
		return llm.CompletionResponse{}, llmerrors.New(llmerrors.ErrorTypeEmptyResponse, "received empty response from Gemini API")
	}

	return llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: stopReason(result),
	}, nil
}

// GetModelName returns the model identity for this client.
func (c *Client) GetModelName() string {
	return c.model
}

func stopReason(result *genai.GenerateContentResponse) string {
	if len(result.Candidates) == 0 {
		return "unknown"
	}
	switch result.Candidates[0].FinishReason {
	case genai.FinishReasonStop:
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	default:
		return fmt.Sprintf("%v", result.Candidates[0].FinishReason)
	}
}
