// Package cache provides bounded, TTL'd memoization of embedding
// computations. It is purely in-memory: a cold start always recomputes.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
)

// Embeddings memoizes text -> embedding results on a ristretto cache.
// Entries are evicted by admission/LRU pressure once the entry bound is
// exceeded, or by per-entry TTL, whichever comes first.
type Embeddings struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// New creates an embedding cache holding at most maxEntries entries, each
// expiring after ttl.
func New(maxEntries int, ttl time.Duration) (*Embeddings, error) {
	if maxEntries <= 0 {
		return nil, goerr.New("cache size must be positive", goerr.V("maxEntries", maxEntries))
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		// 10x counters per entry, per ristretto's sizing guidance.
		NumCounters: int64(maxEntries) * 10,
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "create ristretto cache")
	}
	return &Embeddings{cache: c, ttl: ttl}, nil
}

// Get returns the cached embedding for text, if present and not expired.
func (e *Embeddings) Get(text string) ([]float32, bool) {
	v, ok := e.cache.Get(text)
	if !ok {
		return nil, false
	}
	vec, ok := v.([]float32)
	return vec, ok
}

// Set stores an embedding for text. The write is synchronous with respect
// to subsequent Get calls: ristretto's buffers are drained before return so
// a freshly computed embedding is immediately reusable.
func (e *Embeddings) Set(text string, vec []float32) {
	e.cache.SetWithTTL(text, vec, 1, e.ttl)
	e.cache.Wait()
}

// Dispose clears all entries and releases the cache's goroutines.
func (e *Embeddings) Dispose() {
	e.cache.Clear()
	e.cache.Close()
}
