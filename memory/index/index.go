// Package index implements the unified in-memory working set of the memory
// engine: short-term and long-term interaction tiers, a chromem-go vector
// similarity index, a concept co-occurrence graph, and semantic clusters,
// all kept consistent with a durable persistence layer.
//
// The index is a cache/acceleration structure, never the source of truth:
// every store writes through to the persister, and a failed durable write
// rolls the in-memory mutation back so the two layers cannot diverge.
package index

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/engramlabs/engram/memory"
)

// Persister is the durable side of the index, implemented by store.Store.
type Persister interface {
	// LoadHistory reads all interactions, partitioned into short-term and
	// long-term by their stored memory type. Malformed rows are skipped,
	// not escalated.
	LoadHistory(ctx context.Context) (shortTerm, longTerm []*memory.Interaction, err error)

	// SaveInteraction transactionally writes one interaction.
	SaveInteraction(ctx context.Context, in *memory.Interaction) error

	// SaveMemoryToHistory replaces the persisted working set wholesale.
	SaveMemoryToHistory(ctx context.Context, shortTerm, longTerm []*memory.Interaction) error
}

// lifecycle states
type state int

const (
	stateUninitialized state = iota
	stateLoading
	stateReady
	stateDisposed
)

// Index is the unified in-memory store. See the package documentation.
// All methods are safe for concurrent use.
type Index struct {
	cfg     *memory.Config
	persist Persister
	logger  *slog.Logger

	loadOnce sync.Once
	loadErr  error

	mu         sync.RWMutex
	st         state
	records    map[string]*memory.Interaction
	order      []string // insertion order, for excludeLastN
	lastAccess map[string]time.Time
	vectors    *vectorIndex
	graph      *conceptGraph
	clusters   *clusterSet
}

// Option configures the index.
type Option func(*Index)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = l
	}
}

// New creates an index over the given persister. The index starts
// Uninitialized; Load (or the first Store/Retrieve) rehydrates it.
func New(cfg *memory.Config, persist Persister, opts ...Option) (*Index, error) {
	if persist == nil {
		return nil, goerr.Wrap(memory.ErrConfiguration, "index requires a persister")
	}
	if cfg == nil || cfg.Dimension <= 0 {
		return nil, goerr.Wrap(memory.ErrConfiguration, "index requires a positive embedding dimension")
	}
	vectors, err := newVectorIndex()
	if err != nil {
		return nil, err
	}
	ix := &Index{
		cfg:        cfg,
		persist:    persist,
		logger:     slog.Default(),
		records:    make(map[string]*memory.Interaction),
		lastAccess: make(map[string]time.Time),
		vectors:    vectors,
		graph:      newConceptGraph(),
		clusters:   newClusterSet(cfg.ClusterThreshold),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Load rehydrates the in-memory structures from the persister. Idempotent:
// concurrent first callers share one in-flight load, and later callers
// observe its memoized result.
func (ix *Index) Load(ctx context.Context) error {
	ix.loadOnce.Do(func() {
		ix.loadErr = ix.load(ctx)
	})
	return ix.loadErr
}

func (ix *Index) load(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.st == stateDisposed {
		return goerr.Wrap(memory.ErrPersistence, "index is disposed")
	}
	ix.st = stateLoading

	shortTerm, longTerm, err := ix.persist.LoadHistory(ctx)
	if err != nil {
		ix.st = stateUninitialized
		return goerr.Wrap(err, "load history")
	}

	for _, in := range shortTerm {
		in.MemoryType = memory.ShortTerm
		ix.insertLocked(ctx, in)
	}
	for _, in := range longTerm {
		in.MemoryType = memory.LongTerm
		ix.insertLocked(ctx, in)
	}

	ix.st = stateReady
	ix.logger.Info("memory index loaded",
		slog.Int("shortTerm", len(shortTerm)),
		slog.Int("longTerm", len(longTerm)),
		slog.Int("concepts", ix.graph.conceptCount()))
	return nil
}

// insertLocked adds a record to every in-memory structure. Embeddings are
// standardized first: a malformed one becomes a zero vector, which keeps
// the record reachable via the concept graph while staying out of the
// vector index.
func (ix *Index) insertLocked(ctx context.Context, in *memory.Interaction) {
	in.Embedding = memory.StandardizeEmbedding(in.Embedding, ix.cfg.Dimension)
	ix.records[in.ID] = in
	ix.order = append(ix.order, in.ID)
	ix.lastAccess[in.ID] = time.UnixMilli(in.Timestamp)
	ix.graph.addInteraction(in.ID, in.Concepts)
	ix.clusters.add(in.ID, in.Embedding)
	if err := ix.vectors.add(ctx, in.ID, in.Embedding); err != nil {
		ix.logger.Warn("vector index insert failed, record reachable via concepts only",
			slog.String("id", in.ID), slog.Any("error", err))
	}
}

// removeLocked undoes insertLocked. Used for rollback.
func (ix *Index) removeLocked(ctx context.Context, in *memory.Interaction) {
	delete(ix.records, in.ID)
	for i := len(ix.order) - 1; i >= 0; i-- {
		if ix.order[i] == in.ID {
			ix.order = append(ix.order[:i], ix.order[i+1:]...)
			break
		}
	}
	delete(ix.lastAccess, in.ID)
	ix.graph.removeInteraction(in.ID, in.Concepts)
	ix.clusters.remove(in.ID, in.Embedding)
	if err := ix.vectors.remove(ctx, in.ID); err != nil {
		ix.logger.Warn("vector index rollback failed", slog.String("id", in.ID), slog.Any("error", err))
	}
}

// Store validates, inserts, and writes through to durable storage as one
// logical unit. The write lock is held across the durable write so bulk
// rewrites and concurrent stores serialize, and a failed write is rolled
// back before any Retrieve can observe the record.
func (ix *Index) Store(ctx context.Context, in *memory.Interaction) error {
	if err := ix.Load(ctx); err != nil {
		return err
	}
	if in.ID == "" {
		return goerr.Wrap(memory.ErrValidation, "interaction id is required")
	}
	if err := memory.ValidateEmbedding(in.Embedding, ix.cfg.Dimension); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.st != stateReady {
		return goerr.Wrap(memory.ErrPersistence, "index not ready", goerr.V("state", int(ix.st)))
	}

	ix.insertLocked(ctx, in)

	if err := ix.persist.SaveInteraction(ctx, in); err != nil {
		ix.removeLocked(ctx, in)
		if errors.Is(err, memory.ErrContentTooLarge) {
			return goerr.Wrap(err, "interaction rejected by persistence", goerr.V("id", in.ID))
		}
		return goerr.Wrap(memory.ErrPersistence, "durable write failed, in-memory state rolled back",
			goerr.V("id", in.ID), goerr.V("cause", err.Error()))
	}

	ix.logger.Debug("interaction stored",
		slog.String("id", in.ID),
		slog.Int("concepts", len(in.Concepts)),
		slog.String("tier", string(in.MemoryType)))
	return nil
}

// scored pairs a record with its blended relevance.
type scored struct {
	in    *memory.Interaction
	score float64
}

// Retrieve merges vector similarity candidates with concept-graph
// activation candidates, deduplicates by interaction id, scales by decay,
// and returns records sorted by relevance descending (recency breaks ties).
// Returned records have their access bookkeeping updated.
func (ix *Index) Retrieve(ctx context.Context, q memory.RetrieveQuery) ([]*memory.Interaction, error) {
	if err := ix.Load(ctx); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	if ix.st != stateReady {
		ix.mu.RUnlock()
		return nil, goerr.Wrap(memory.ErrPersistence, "index not ready")
	}

	hits, err := ix.vectors.search(ctx, q.Embedding, q.Threshold)
	if err != nil {
		ix.mu.RUnlock()
		return nil, err
	}
	activation := ix.graph.activate(q.Concepts)

	// Merge both candidate sources by id. A record surfaced by both paths
	// appears once with a combined score.
	similarity := make(map[string]float64, len(hits))
	for _, h := range hits {
		similarity[h.id] = h.similarity
	}
	candidates := make(map[string]struct{}, len(similarity)+len(activation))
	for id := range similarity {
		candidates[id] = struct{}{}
	}
	for id := range activation {
		candidates[id] = struct{}{}
	}

	excluded := ix.recentIDsLocked(q.ExcludeLastN)

	results := make([]scored, 0, len(candidates))
	for id := range candidates {
		if _, skip := excluded[id]; skip {
			continue
		}
		rec, ok := ix.records[id]
		if !ok {
			continue
		}
		score := similarity[id]*ix.cfg.SimilarityWeight + activation[id]*ix.cfg.ActivationWeight
		score *= rec.DecayFactor
		if score <= 0 {
			continue
		}
		results = append(results, scored{in: rec, score: score})
	}
	ix.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].in.Timestamp > results[j].in.Timestamp
	})

	out := make([]*memory.Interaction, len(results))
	for i, r := range results {
		out[i] = r.in
	}
	ix.touch(out)
	return out, nil
}

// recentIDsLocked returns the ids of the n most recent insertions.
func (ix *Index) recentIDsLocked(n int) map[string]struct{} {
	if n <= 0 {
		return nil
	}
	if n > len(ix.order) {
		n = len(ix.order)
	}
	recent := make(map[string]struct{}, n)
	for _, id := range ix.order[len(ix.order)-n:] {
		recent[id] = struct{}{}
	}
	return recent
}

// touch applies access bookkeeping to retrieved records: increment access
// count, reinforce decay toward 1.0, promote hot short-term records to the
// long-term tier. Serialized under the write lock so concurrent retrievals
// never lose updates.
func (ix *Index) touch(records []*memory.Interaction) {
	if len(records) == 0 {
		return
	}
	now := time.Now()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, rec := range records {
		rec.AccessCount++
		rec.DecayFactor += ix.cfg.ReinforcementStep
		if rec.DecayFactor > 1.0 {
			rec.DecayFactor = 1.0
		}
		ix.lastAccess[rec.ID] = now

		if rec.MemoryType == memory.ShortTerm && rec.AccessCount >= ix.cfg.PromotionThreshold {
			rec.MemoryType = memory.LongTerm
			ix.logger.Debug("interaction promoted to long-term",
				slog.String("id", rec.ID), slog.Int("accessCount", rec.AccessCount))
		}
	}
}

// Decay reduces the decay factor of records not accessed within window by
// the given rate (0 < rate < 1), floored at the configured minimum.
// Returns the number of records decayed. Accessed records are untouched,
// so a record's decay factor never drops below its value at last access
// except through this explicit sweep.
func (ix *Index) Decay(window time.Duration, rate float64) int {
	if rate <= 0 || rate >= 1 {
		return 0
	}
	cutoff := time.Now().Add(-window)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	decayed := 0
	for id, rec := range ix.records {
		if ix.lastAccess[id].After(cutoff) {
			continue
		}
		next := rec.DecayFactor * rate
		if next < ix.cfg.MinDecayFactor {
			next = ix.cfg.MinDecayFactor
		}
		if next < rec.DecayFactor {
			rec.DecayFactor = next
			decayed++
		}
	}
	if decayed > 0 {
		ix.logger.Debug("decay sweep applied", slog.Int("records", decayed))
	}
	return decayed
}

// Snapshot reports current in-memory sizes for diagnostics.
func (ix *Index) Snapshot() memory.IndexSnapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	snap := memory.IndexSnapshot{
		Concepts:     ix.graph.conceptCount(),
		ClusterSizes: ix.clusters.sizes(),
		Ready:        ix.st == stateReady,
	}
	snap.Clusters = len(snap.ClusterSizes)
	for _, rec := range ix.records {
		if rec.MemoryType == memory.LongTerm {
			snap.LongTerm++
		} else {
			snap.ShortTerm++
		}
	}
	return snap
}

// Cleanup flushes the working set to durable storage and releases the index
// resources. The index is Disposed afterward regardless of flush outcome;
// the first error encountered is returned.
func (ix *Index) Cleanup(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var firstErr error
	if ix.st == stateReady {
		var shortTerm, longTerm []*memory.Interaction
		for _, id := range ix.order {
			rec := ix.records[id]
			if rec == nil {
				continue
			}
			if rec.MemoryType == memory.LongTerm {
				longTerm = append(longTerm, rec)
			} else {
				shortTerm = append(shortTerm, rec)
			}
		}
		if err := ix.persist.SaveMemoryToHistory(ctx, shortTerm, longTerm); err != nil {
			firstErr = goerr.Wrap(err, "flush memory to history")
		}
	}

	ix.records = make(map[string]*memory.Interaction)
	ix.order = nil
	ix.lastAccess = make(map[string]time.Time)
	ix.graph = newConceptGraph()
	ix.clusters = newClusterSet(ix.cfg.ClusterThreshold)
	if err := ix.vectors.reset(); err != nil && firstErr == nil {
		firstErr = err
	}
	ix.st = stateDisposed
	return firstErr
}
