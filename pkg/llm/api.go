// Package llm provides the client interface and middleware chaining for
// upstream language model interactions.
package llm

import (
	"context"
	"fmt"
)

// CompletionRole represents the role of a message in a completion request.
type CompletionRole string

const (
	// RoleSystem provides instructions or context.
	RoleSystem CompletionRole = "system"
	// RoleUser carries input from the user (or the engine on its behalf).
	RoleUser CompletionRole = "user"
	// RoleAssistant carries prior model output.
	RoleAssistant CompletionRole = "assistant"
)

// Default generation parameters.
const (
	DefaultMaxTokens   = 4096
	TemperatureDefault = 0.3
)

// CompletionMessage is one message in a completion request.
type CompletionMessage struct {
	Role    CompletionRole
	Content string
}

// CompletionRequest is a request to generate a completion.
type CompletionRequest struct {
	Messages    []CompletionMessage
	MaxTokens   int
	Temperature float32
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content    string
	StopReason string
}

// LLMClient is the interface for language model interactions.
type LLMClient interface { //nolint:revive // Conventional name kept for clarity at call sites
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the upstream model identity for this client.
	GetModelName() string
}

// NewCompletionRequest creates a request with default generation parameters.
func NewCompletionRequest(messages []CompletionMessage) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: TemperatureDefault,
	}
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// ClientConfig holds construction parameters for a provider client.
type ClientConfig struct {
	APIKey    string
	ModelName string
	HostURL   string // Only used by local providers (Ollama)
}

// Validate checks the configuration for a hosted provider.
func (c *ClientConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	if c.ModelName == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}
