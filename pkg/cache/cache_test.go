package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns a fixed vector per query; unknown queries get nil.
type stubEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors[text], nil
}

// failingStore errors on every operation, for never-fail semantics.
type failingStore struct{}

func (failingStore) Get(context.Context, string) (*Entry, error) {
	return nil, fmt.Errorf("backend down")
}

func (failingStore) SetWithTTL(context.Context, string, *Entry, time.Duration) error {
	return fmt.Errorf("backend down")
}

func (failingStore) ScanPrefix(context.Context, string) (map[string]*Entry, error) {
	return nil, fmt.Errorf("backend down")
}

func (failingStore) DeletePattern(context.Context, string) error {
	return fmt.Errorf("backend down")
}

func (failingStore) Size(context.Context) (int, error) { return 0, fmt.Errorf("backend down") }

func (failingStore) Entries(context.Context) (map[string]*Entry, error) {
	return nil, fmt.Errorf("backend down")
}

func rawResponse(t *testing.T, content string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	return raw
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.NonCacheable = []string{"builder"}
	return cfg
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{0.3, 0.5, 0.2}

	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9, "sim(a,a) == 1")
	assert.Equal(t, 0.0, CosineSimilarity(nil, a), "empty vector")
	assert.Equal(t, 0.0, CosineSimilarity(a, []float32{1, 0}), "length mismatch")
	assert.Equal(t, 0.0, CosineSimilarity(a, []float32{0, 0, 0}), "zero magnitude")

	b := []float32{0.1, 0.9, 0.4}
	assert.InDelta(t, CosineSimilarity(a, b), CosineSimilarity(b, a), 1e-12, "symmetric")
}

func TestExactRoundTrip(t *testing.T) {
	c := New(NewMemoryStore(), &stubEmbedder{}, nil, enabledConfig())
	ctx := context.Background()

	response := rawResponse(t, "the answer")
	c.Set(ctx, "research", "What is the plan?", response, "model-a")

	got, ok := c.Get(ctx, "research", "What is the plan?")
	require.True(t, ok)
	assert.JSONEq(t, string(response), string(got))
}

func TestExactMatchNormalizesQuery(t *testing.T) {
	c := New(NewMemoryStore(), &stubEmbedder{}, nil, enabledConfig())
	ctx := context.Background()

	c.Set(ctx, "research", "What is the plan?", rawResponse(t, "r"), "model-a")

	_, ok := c.Get(ctx, "research", "  WHAT IS THE PLAN?  ")
	assert.True(t, ok, "trim+lowercase normalization should make these the same key")
}

func TestNonCacheableAlwaysMisses(t *testing.T) {
	c := New(NewMemoryStore(), &stubEmbedder{}, nil, enabledConfig())
	ctx := context.Background()

	c.Set(ctx, "builder", "run the build", rawResponse(t, "r"), "model-a")

	_, ok := c.Get(ctx, "builder", "run the build")
	assert.False(t, ok, "non-cacheable specialists never consume entries")
}

func TestDisabledCacheMisses(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false
	c := New(NewMemoryStore(), &stubEmbedder{}, nil, cfg)
	ctx := context.Background()

	c.Set(ctx, "research", "q", rawResponse(t, "r"), "model-a")
	_, ok := c.Get(ctx, "research", "q")
	assert.False(t, ok)
}

func TestSimilarityThreshold(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"original query": {1, 0},
		"near duplicate": {0.99, 0.14}, // cos ~ 0.99
		"related only":   {0.94, 0.34}, // cos ~ 0.94
	}}
	c := New(NewMemoryStore(), embedder, nil, enabledConfig())
	ctx := context.Background()

	response := rawResponse(t, "cached result")
	c.Set(ctx, "research", "original query", response, "model-a")

	got, ok := c.Get(ctx, "research", "near duplicate")
	require.True(t, ok, "similarity 0.99 >= threshold 0.95 is a hit")
	assert.JSONEq(t, string(response), string(got))

	_, ok = c.Get(ctx, "research", "related only")
	assert.False(t, ok, "similarity 0.94 < threshold 0.95 is a miss")
}

func TestSimilarityScopedPerSpecialist(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"original query": {1, 0},
		"near duplicate": {0.99, 0.14},
	}}
	c := New(NewMemoryStore(), embedder, nil, enabledConfig())
	ctx := context.Background()

	c.Set(ctx, "research", "original query", rawResponse(t, "r"), "model-a")

	_, ok := c.Get(ctx, "planner", "near duplicate")
	assert.False(t, ok, "entries never leak across specialists")
}

func TestEmbedderFailureDegradesToExactOnly(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, &stubEmbedder{err: fmt.Errorf("embedder offline")}, nil, enabledConfig())
	ctx := context.Background()

	c.Set(ctx, "research", "q", rawResponse(t, "r"), "model-a")

	_, ok := c.Get(ctx, "research", "q")
	assert.True(t, ok, "exact path works without embeddings")

	_, ok = c.Get(ctx, "research", "different q")
	assert.False(t, ok, "fuzzy path degrades to a miss")
}

func TestBackendFailureIsAMiss(t *testing.T) {
	c := New(failingStore{}, &stubEmbedder{}, nil, enabledConfig())
	ctx := context.Background()

	// Neither call may panic or error out.
	c.Set(ctx, "research", "q", rawResponse(t, "r"), "model-a")
	_, ok := c.Get(ctx, "research", "q")
	assert.False(t, ok)
}

func TestHitRefreshesEntry(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, &stubEmbedder{}, nil, enabledConfig())
	ctx := context.Background()

	c.Set(ctx, "research", "q", rawResponse(t, "r"), "model-a")
	_, ok := c.Get(ctx, "research", "q")
	require.True(t, ok)

	entry, err := store.Get(ctx, exactKey("research", "q"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.HitCount)
}

func TestConcurrentLookupsAndStores(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, &stubEmbedder{}, nil, enabledConfig())
	ctx := context.Background()

	c.Set(ctx, "research", "q", rawResponse(t, "r"), "model-a")

	// Repeated hits on one key mutate its hit counter while unrelated
	// turns write; run under the race detector.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if i%2 == 0 {
					_, ok := c.Get(ctx, "research", "q")
					assert.True(t, ok)
				} else {
					c.Set(ctx, "planner", fmt.Sprintf("q-%d-%d", i, j), rawResponse(t, "p"), "model-b")
				}
			}
		}(i)
	}
	wg.Wait()

	entry, err := store.Get(ctx, exactKey("research", "q"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Positive(t, entry.HitCount)
}

func TestTTLClasses(t *testing.T) {
	cfg := enabledConfig()
	cfg.TTLBySpecialist = map[string]time.Duration{
		"research": 24 * time.Hour,
		"security": time.Hour,
	}
	c := New(NewMemoryStore(), &stubEmbedder{}, nil, cfg)

	assert.Equal(t, 24*time.Hour, c.ttlFor("research"))
	assert.Equal(t, time.Hour, c.ttlFor("security"))
	assert.Equal(t, cfg.DefaultTTL, c.ttlFor("reviewer"))
}

func TestClearScopedToSpecialist(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, &stubEmbedder{}, nil, enabledConfig())
	ctx := context.Background()

	c.Set(ctx, "research", "q1", rawResponse(t, "r1"), "model-a")
	c.Set(ctx, "planner", "q2", rawResponse(t, "r2"), "model-a")

	require.NoError(t, c.Clear(ctx, "research"))

	_, ok := c.Get(ctx, "research", "q1")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "planner", "q2")
	assert.True(t, ok)

	require.NoError(t, c.Clear(ctx, ""))
	_, ok = c.Get(ctx, "planner", "q2")
	assert.False(t, ok)
}
