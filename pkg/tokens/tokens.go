// Package tokens provides tiktoken-based token accounting for specialist
// prompts and completions.
package tokens

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// Counter provides token counting for a model family. All supported
// providers are approximated with the GPT-4 encoding, which is close enough
// for budget accounting.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter creates a token counter for the given model name.
func NewCounter(model string) (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &Counter{codec: codec}, nil
}

// Count returns the number of tokens in the given text. Falls back to a
// character-based estimate (4 chars per token) if the codec is unavailable.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		return estimate(text)
	}
	count, err := c.codec.Count(text)
	if err != nil {
		return estimate(text)
	}
	return count
}

// CountMessages returns the total token count across the given message
// contents.
func (c *Counter) CountMessages(contents []string) int {
	total := 0
	for _, content := range contents {
		total += c.Count(content)
	}
	return total
}

// WithinLimit reports whether text fits in the given token budget.
func (c *Counter) WithinLimit(text string, limit int) bool {
	return c.Count(text) <= limit
}

// Truncate trims text to roughly fit the given token budget. Truncation is
// by characters, not exact token boundaries.
func (c *Counter) Truncate(text string, limit int) string {
	current := c.Count(text)
	if current <= limit {
		return text
	}

	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}

	return strings.TrimSpace(text[:charLimit]) + "..."
}

func estimate(text string) int {
	return len(text) / 4
}
