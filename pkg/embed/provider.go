// Package embed provides embedding providers for the semantic cache.
// A provider may be unavailable; callers treat an empty vector or an error
// as "no embedding" and degrade to exact-match lookups only.
package embed

import "context"

// Provider computes a fixed-length vector for a piece of text.
type Provider interface {
	// Embed returns the embedding for text. Implementations return an
	// error (or an empty vector) when the upstream is unavailable; they
	// must never block indefinitely beyond the context deadline.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Disabled is a Provider that always reports no embedding, forcing the
// cache onto its exact-match path.
type Disabled struct{}

// Embed returns an empty vector.
func (Disabled) Embed(context.Context, string) ([]float32, error) {
	return nil, nil
}
