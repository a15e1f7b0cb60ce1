package embed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaModel is a small local embedding model.
const DefaultOllamaModel = "nomic-embed-text"

// OllamaProvider computes embeddings with a local Ollama server. Useful for
// deployments that must not send query text to a hosted provider.
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider creates an Ollama-backed embedding provider.
// hostURL should be the Ollama server URL (e.g. "http://localhost:11434").
func NewOllamaProvider(hostURL, model string) *OllamaProvider {
	parsed, err := url.Parse(hostURL)
	if err != nil || hostURL == "" {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaProvider{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Embed implements Provider.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{
		Model: p.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embedding request failed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollama embedding response contained no vectors")
	}
	return resp.Embeddings[0], nil
}
