package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLazyExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	entry := &Entry{Query: "q", Specialist: "research"}
	require.NoError(t, store.SetWithTTL(ctx, "cache:exact:research:abc", entry, time.Hour))

	got, err := store.Get(ctx, "cache:exact:research:abc")
	require.NoError(t, err)
	assert.NotNil(t, got)

	now = now.Add(61 * time.Minute)
	got, err = store.Get(ctx, "cache:exact:research:abc")
	require.NoError(t, err)
	assert.Nil(t, got, "expired entries are purged on access")

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestMemoryStoreHandsOutCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := &Entry{Query: "q", Embedding: []float32{1, 0}, HitCount: 1}
	require.NoError(t, store.SetWithTTL(ctx, "cache:exact:research:abc", original, time.Hour))

	original.HitCount = 99
	original.Embedding[0] = 0

	first, err := store.Get(ctx, "cache:exact:research:abc")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.HitCount, "mutating the caller's entry after Set leaves the store untouched")
	assert.Equal(t, []float32{1, 0}, first.Embedding)

	first.HitCount = 42
	first.Embedding[0] = 0

	second, err := store.Get(ctx, "cache:exact:research:abc")
	require.NoError(t, err)
	assert.Equal(t, 1, second.HitCount, "mutating a read result never leaks into the store")
	assert.Equal(t, []float32{1, 0}, second.Embedding)

	scanned, err := store.ScanPrefix(ctx, "cache:exact:")
	require.NoError(t, err)
	require.Len(t, scanned, 1)
	for _, entry := range scanned {
		entry.HitCount = 7
	}
	third, err := store.Get(ctx, "cache:exact:research:abc")
	require.NoError(t, err)
	assert.Equal(t, 1, third.HitCount, "scan results are copies too")
}

func TestMemoryStoreScanPrefix(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "cache:sem:research:1", &Entry{Query: "a"}, 0))
	require.NoError(t, store.SetWithTTL(ctx, "cache:sem:research:2", &Entry{Query: "b"}, 0))
	require.NoError(t, store.SetWithTTL(ctx, "cache:sem:planner:1", &Entry{Query: "c"}, 0))

	got, err := store.ScanPrefix(ctx, "cache:sem:research:")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryStoreDeletePattern(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "cache:exact:research:1", &Entry{}, 0))
	require.NoError(t, store.SetWithTTL(ctx, "cache:sem:research:1", &Entry{}, 0))
	require.NoError(t, store.SetWithTTL(ctx, "cache:exact:planner:1", &Entry{}, 0))

	require.NoError(t, store.DeletePattern(ctx, "cache:exact:research:"))

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}
