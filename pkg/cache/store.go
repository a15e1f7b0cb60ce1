// Package cache provides a similarity-aware response cache for specialist
// queries, with an exact-hash fast path and an embedding cosine-similarity
// fallback, backed by a pluggable store.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one cached specialist response.
type Entry struct {
	// Embedding is the query vector. May be empty if the embedding
	// provider was unavailable at store time; such entries are only
	// reachable through the exact-match path.
	Embedding  []float32       `json:"embedding,omitempty"`
	Query      string          `json:"query"`
	Response   json.RawMessage `json:"response"`
	Specialist string          `json:"specialist"`
	Model      string          `json:"model"`
	CreatedAt  time.Time       `json:"created_at"`
	HitCount   int             `json:"hit_count"`
	TTLSeconds int             `json:"ttl_seconds"`
}

// clone returns a deep copy of the entry. Stores hand out copies so no two
// callers ever share a live *Entry across goroutines.
func (e *Entry) clone() *Entry {
	cp := *e
	if e.Embedding != nil {
		cp.Embedding = append([]float32(nil), e.Embedding...)
	}
	return &cp
}

// Store is the backend abstraction behind the semantic cache. Implementations
// must tolerate concurrent access from unrelated turns, and every read
// returns a private copy the caller may mutate. A missing key is reported as
// (nil, nil), not an error.
type Store interface {
	// Get returns the entry for key, or nil if absent or expired.
	Get(ctx context.Context, key string) (*Entry, error)

	// SetWithTTL stores the entry under key with the given time to live.
	SetWithTTL(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// ScanPrefix returns all live entries whose key starts with prefix.
	ScanPrefix(ctx context.Context, prefix string) (map[string]*Entry, error)

	// DeletePattern removes all entries whose key starts with prefix.
	DeletePattern(ctx context.Context, prefix string) error

	// Size returns the number of live entries.
	Size(ctx context.Context) (int, error)

	// Entries returns every live entry. Intended for diagnostics.
	Entries(ctx context.Context) (map[string]*Entry, error)
}
