package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ensemble/pkg/embed"
	"ensemble/pkg/logx"
	"ensemble/pkg/metrics"
)

// Key namespaces. Exact keys address literally-repeated queries by hash;
// similarity keys are scanned per specialist and compared by embedding.
const (
	keyNamespace     = "cache:"
	exactKeyPrefix   = keyNamespace + "exact:"
	similarKeyPrefix = keyNamespace + "sem:"
)

// Lookup outcome labels for metrics.
const (
	OutcomeHitExact   = "hit_exact"
	OutcomeHitSimilar = "hit_similar"
	OutcomeMiss       = "miss"
)

// DefaultSimilarityThreshold is the minimum cosine similarity for a fuzzy hit.
const DefaultSimilarityThreshold = 0.95

// Config controls cache behavior.
type Config struct {
	Enabled             bool
	SimilarityThreshold float64
	DefaultTTL          time.Duration
	// TTLBySpecialist overrides DefaultTTL per specialist: longer for
	// research/planning work, shorter for design/security reviews.
	TTLBySpecialist map[string]time.Duration
	// NonCacheable lists specialists whose work has side effects; they
	// never produce or consume cache entries.
	NonCacheable []string
}

// DefaultConfig returns an enabled cache config with standard TTL classes.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		SimilarityThreshold: DefaultSimilarityThreshold,
		DefaultTTL:          6 * time.Hour,
	}
}

// SemanticCache maps a (specialist, query) pair to a previously computed
// response. All backend and embedding failures degrade to a miss; the cache
// never causes a request to fail.
type SemanticCache struct {
	store        Store
	embedder     embed.Provider
	recorder     metrics.Recorder
	logger       *logx.Logger
	config       Config
	nonCacheable map[string]bool
}

// New creates a semantic cache over the given store and embedding provider.
func New(store Store, embedder embed.Provider, recorder metrics.Recorder, config Config) *SemanticCache {
	if embedder == nil {
		embedder = embed.Disabled{}
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 6 * time.Hour
	}

	nonCacheable := make(map[string]bool, len(config.NonCacheable))
	for _, name := range config.NonCacheable {
		nonCacheable[name] = true
	}

	return &SemanticCache{
		store:        store,
		embedder:     embedder,
		recorder:     recorder,
		logger:       logx.NewLogger("cache"),
		config:       config,
		nonCacheable: nonCacheable,
	}
}

// exactKey hashes the normalized query, namespaced per specialist.
func exactKey(specialist, query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%s%s:%x", exactKeyPrefix, specialist, sum)
}

// similarPrefix is the scan namespace for one specialist's fuzzy entries.
func similarPrefix(specialist string) string {
	return similarKeyPrefix + specialist + ":"
}

func (c *SemanticCache) bypass(specialist string) bool {
	return !c.config.Enabled || c.nonCacheable[specialist]
}

// Get looks up a cached response for the query. The exact-hash path is tried
// first; on miss, stored entries for the specialist are scanned by embedding
// cosine similarity against the configured threshold. Returns (nil, false)
// on any miss, including backend failures.
func (c *SemanticCache) Get(ctx context.Context, specialist, query string) (json.RawMessage, bool) {
	if c.bypass(specialist) {
		return nil, false
	}

	start := time.Now()
	outcome := OutcomeMiss
	defer func() {
		c.recorder.ObserveCacheLookup(specialist, outcome, time.Since(start))
	}()

	// Exact-match fast path: no embedding computation needed.
	key := exactKey(specialist, query)
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed for %s, treating as miss: %v", specialist, err)
		return nil, false
	}
	if entry != nil {
		c.touch(ctx, key, entry)
		outcome = OutcomeHitExact
		return entry.Response, true
	}

	// Fuzzy path: embed the query and scan the specialist's entries.
	vector, err := c.embedder.Embed(ctx, query)
	if err != nil || len(vector) == 0 {
		if err != nil {
			c.logger.Debug("embedding unavailable for %s, exact-only lookup: %v", specialist, err)
		}
		return nil, false
	}

	candidates, err := c.store.ScanPrefix(ctx, similarPrefix(specialist))
	if err != nil {
		c.logger.Warn("cache scan failed for %s, treating as miss: %v", specialist, err)
		return nil, false
	}

	var bestKey string
	var bestEntry *Entry
	bestScore := -1.0
	for candidateKey, candidate := range candidates {
		score := CosineSimilarity(vector, candidate.Embedding)
		if score > bestScore {
			bestKey, bestEntry, bestScore = candidateKey, candidate, score
		}
	}

	if bestEntry == nil || bestScore < c.config.SimilarityThreshold {
		return nil, false
	}

	c.touch(ctx, bestKey, bestEntry)
	outcome = OutcomeHitSimilar
	return bestEntry.Response, true
}

// touch increments the entry's hit counter and refreshes its TTL.
// Best-effort: a failed rewrite leaves the original entry in place.
func (c *SemanticCache) touch(ctx context.Context, key string, entry *Entry) {
	entry.HitCount++
	ttl := time.Duration(entry.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	if err := c.store.SetWithTTL(ctx, key, entry, ttl); err != nil {
		c.logger.Warn("failed to refresh cache entry %s: %v", key, err)
	}
}

// Set stores a specialist response under both the exact-match key and a
// fresh similarity key, so future literal and fuzzy lookups both find it.
// The two writes run concurrently and fail independently; neither failure
// propagates.
func (c *SemanticCache) Set(ctx context.Context, specialist, query string, response json.RawMessage, model string) {
	if c.bypass(specialist) {
		return
	}

	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Debug("embedding unavailable, storing exact-only entry for %s: %v", specialist, err)
		vector = nil
	}

	ttl := c.ttlFor(specialist)
	entry := &Entry{
		Embedding:  vector,
		Query:      query,
		Response:   response,
		Specialist: specialist,
		Model:      model,
		CreatedAt:  time.Now().UTC(),
		TTLSeconds: int(ttl / time.Second),
	}

	keys := []string{
		exactKey(specialist, query),
		similarPrefix(specialist) + uuid.NewString(),
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if err := c.store.SetWithTTL(ctx, key, entry, ttl); err != nil {
				c.recorder.IncCacheStore(specialist, "error")
				c.logger.Warn("failed to store cache entry %s: %v", key, err)
				return
			}
			c.recorder.IncCacheStore(specialist, "ok")
		}(key)
	}
	wg.Wait()
}

// Clear purges entries, optionally scoped to one specialist. An empty
// specialist clears the whole cache namespace.
func (c *SemanticCache) Clear(ctx context.Context, specialist string) error {
	if specialist == "" {
		if err := c.store.DeletePattern(ctx, keyNamespace); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		return nil
	}
	for _, prefix := range []string{exactKeyPrefix + specialist + ":", similarPrefix(specialist)} {
		if err := c.store.DeletePattern(ctx, prefix); err != nil {
			return fmt.Errorf("failed to clear cache for %s: %w", specialist, err)
		}
	}
	return nil
}

// ttlFor resolves the TTL class for a specialist.
func (c *SemanticCache) ttlFor(specialist string) time.Duration {
	if ttl, ok := c.config.TTLBySpecialist[specialist]; ok && ttl > 0 {
		return ttl
	}
	return c.config.DefaultTTL
}

// CosineSimilarity computes dot-product-over-magnitudes between two vectors.
// Defined as 0 when either vector is empty or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
