package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// EmbeddingCache memoizes text -> embedding results. Implementation:
// cache.Embeddings. Only validated embeddings are ever admitted, so a cache
// hit is always safe to reuse.
type EmbeddingCache interface {
	Get(text string) ([]float32, bool)
	Set(text string, vec []float32)
	Dispose()
}

// Manager orchestrates the memory engine: it owns the external providers
// (embedder, concept extractor, response generator), gates content by size,
// and drives the unified index. It holds no interaction state of its own.
//
// All methods are safe for concurrent use; the index serializes internally.
type Manager struct {
	embedder  Embedder
	extractor ConceptExtractor
	generator ResponseGenerator
	index     Index
	docs      DocumentSink
	cache     EmbeddingCache
	cfg       *Config
	logger    *slog.Logger

	initOnce sync.Once
	initErr  error
}

// ManagerOption configures optional Manager capabilities.
type ManagerOption func(*Manager)

// WithConceptExtractor enables concept extraction. Without it the engine
// degrades to embedding-only retrieval.
func WithConceptExtractor(e ConceptExtractor) ManagerOption {
	return func(m *Manager) {
		m.extractor = e
	}
}

// WithResponseGenerator enables GenerateResponse.
func WithResponseGenerator(g ResponseGenerator) ManagerOption {
	return func(m *Manager) {
		m.generator = g
	}
}

// WithEmbeddingCache installs an embedding cache.
func WithEmbeddingCache(c EmbeddingCache) ManagerOption {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithDocumentSink installs the deferred-storage sink for oversized content.
// Without it, oversized interactions fail with ErrContentTooLarge instead of
// being deferred.
func WithDocumentSink(s DocumentSink) ManagerOption {
	return func(m *Manager) {
		m.docs = s
	}
}

// WithManagerLogger sets the structured logger. Defaults to slog.Default().
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager validates its dependencies and returns a Manager. Misconfiguration
// is fatal here: a missing embedder or a dimension mismatch is a programming
// error, never something to discover per-record at runtime.
func NewManager(embedder Embedder, index Index, cfg *Config, opts ...ManagerOption) (*Manager, error) {
	if embedder == nil {
		return nil, goerr.Wrap(ErrConfiguration, "manager requires an embedder")
	}
	if index == nil {
		return nil, goerr.Wrap(ErrConfiguration, "manager requires an index")
	}
	if cfg == nil {
		cfg = DefaultConfig
	}
	cfg = cfg.WithDefaults()
	if cfg.Dimension == 0 {
		cfg.Dimension = embedder.Dimensions()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if got := embedder.Dimensions(); got != cfg.Dimension {
		return nil, goerr.Wrap(ErrConfiguration, "embedder dimension does not match configuration",
			goerr.V("configured", cfg.Dimension), goerr.V("embedder", got))
	}

	m := &Manager{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() *Config {
	return m.cfg
}

// Initialize loads the index. Optional: the first store or retrieval triggers
// the same load. Idempotent; concurrent callers share one in-flight load.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.initErr = m.index.Load(ctx)
	})
	return m.initErr
}

// providerCtx bounds a provider call with the configured timeout.
func (m *Manager) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.ProviderTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.cfg.ProviderTimeout)
}

// GenerateEmbedding returns the embedding for text, consulting the cache
// first. A computed embedding is validated before it is cached or returned;
// failed computations never leave a poisoned cache entry.
func (m *Manager) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if m.cache != nil {
		if vec, ok := m.cache.Get(text); ok {
			return vec, nil
		}
	}

	pctx, cancel := m.providerCtx(ctx)
	defer cancel()

	vec, err := m.embedder.Embed(pctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, goerr.Wrap(ErrProviderTimeout, "embedding call exceeded its deadline",
				goerr.V("timeout", m.cfg.ProviderTimeout.String()))
		}
		return nil, goerr.Wrap(ErrProvider, "embedding provider failed", goerr.V("cause", err.Error()))
	}
	if err := ValidateEmbedding(vec, m.cfg.Dimension); err != nil {
		return nil, err
	}
	if m.cache != nil {
		m.cache.Set(text, vec)
	}
	return vec, nil
}

// ExtractConcepts derives concept labels from text. Without an extractor it
// returns an empty slice and no error: concept extraction is a capability,
// not a requirement.
func (m *Manager) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	if m.extractor == nil {
		return nil, nil
	}

	pctx, cancel := m.providerCtx(ctx)
	defer cancel()

	concepts, err := m.extractor.ExtractConcepts(pctx, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, goerr.Wrap(ErrProviderTimeout, "concept extraction exceeded its deadline",
				goerr.V("timeout", m.cfg.ProviderTimeout.String()))
		}
		return nil, goerr.Wrap(ErrProvider, "concept extraction failed", goerr.V("cause", err.Error()))
	}
	return concepts, nil
}

// StoreInteraction runs the full ingestion pipeline for one prompt/response
// pair: size gate, embedding, concept extraction, then a write-through store
// into the unified index.
//
// Oversized content is not an error: it is deferred to plain document
// storage and reported with Deferred set. A configured extractor that fails
// fails the call; only the missing-extractor case degrades to an
// embedding-only record.
func (m *Manager) StoreInteraction(ctx context.Context, prompt, output string, metadata map[string]string) (*StoreResult, error) {
	combined := prompt + " " + output
	if len(combined) > m.cfg.ContentCeiling {
		return m.deferOversized(ctx, combined, metadata)
	}

	embedding, err := m.GenerateEmbedding(ctx, combined)
	if err != nil {
		return nil, err
	}

	concepts, err := m.ExtractConcepts(ctx, combined)
	if err != nil {
		return nil, err
	}

	in := NewInteraction(prompt, output, embedding, concepts, metadata)
	if err := m.index.Store(ctx, in); err != nil {
		return nil, err
	}
	return &StoreResult{
		Success:   true,
		ID:        in.ID,
		Concepts:  len(in.Concepts),
		Timestamp: in.Timestamp,
	}, nil
}

func (m *Manager) deferOversized(ctx context.Context, combined string, metadata map[string]string) (*StoreResult, error) {
	if m.docs == nil {
		return nil, goerr.Wrap(ErrContentTooLarge, "content exceeds the processing ceiling and no deferred sink is configured",
			goerr.V("length", len(combined)), goerr.V("ceiling", m.cfg.ContentCeiling))
	}
	doc := &Document{
		ID:                uuid.New().String(),
		Content:           combined,
		Timestamp:         time.Now().UnixMilli(),
		ProcessingSkipped: "content_too_large",
		Metadata:          metadata,
	}
	if err := m.docs.StoreDocument(ctx, doc); err != nil {
		return nil, goerr.Wrap(ErrPersistence, "deferred document write failed",
			goerr.V("id", doc.ID), goerr.V("cause", err.Error()))
	}
	m.logger.Info("oversized content deferred to document storage",
		slog.String("id", doc.ID), slog.Int("length", len(combined)), slog.Int("ceiling", m.cfg.ContentCeiling))
	return &StoreResult{
		Success:   true,
		ID:        doc.ID,
		Timestamp: doc.Timestamp,
		Deferred:  true,
		Reason:    "content_too_large",
	}, nil
}

// AddInteraction stores a pre-built interaction, bypassing the embedding and
// extraction pipeline. The embedding must already match the configured
// dimension. Zero-value bookkeeping fields are defaulted the same way
// NewInteraction defaults them, so a minimally filled record is stored in a
// retrievable state.
func (m *Manager) AddInteraction(ctx context.Context, in *Interaction) error {
	if in == nil {
		return goerr.Wrap(ErrValidation, "interaction is required")
	}
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Timestamp == 0 {
		in.Timestamp = time.Now().UnixMilli()
	}
	if in.AccessCount <= 0 {
		in.AccessCount = 1
	}
	if in.DecayFactor <= 0 {
		in.DecayFactor = 1.0
	}
	if in.MemoryType == "" {
		in.MemoryType = ShortTerm
	}
	return m.index.Store(ctx, in)
}

// RetrieveOptions tunes one retrieval call. Zero values fall back to the
// configured defaults.
type RetrieveOptions struct {
	// Limit caps the result count. Zero means no cap.
	Limit int

	// Threshold overrides the configured similarity threshold. Zero falls
	// back to the configured default; a negative value requests an
	// unfiltered match (effective threshold 0).
	Threshold float64

	// ExcludeLastN skips the N most recently stored interactions, so a
	// just-stored exchange does not answer its own follow-up question.
	ExcludeLastN int
}

// RetrieveRelevantInteractions embeds the query, extracts its concepts, and
// asks the index for records ranked by blended similarity + activation.
func (m *Manager) RetrieveRelevantInteractions(ctx context.Context, query string, opts RetrieveOptions) ([]*Interaction, error) {
	embedding, err := m.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}
	concepts, err := m.ExtractConcepts(ctx, query)
	if err != nil {
		return nil, err
	}

	threshold := opts.Threshold
	switch {
	case threshold == 0:
		threshold = m.cfg.SimilarityThreshold
	case threshold < 0:
		threshold = 0
	}
	results, err := m.index.Retrieve(ctx, RetrieveQuery{
		Embedding:    embedding,
		Concepts:     concepts,
		Threshold:    threshold,
		ExcludeLastN: opts.ExcludeLastN,
	})
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	m.logger.Debug("retrieved relevant interactions",
		slog.Int("count", len(results)), slog.Int("queryConcepts", len(concepts)))
	return results, nil
}

// contextBudget bounds the characters of retrieved memory injected into a
// generation prompt.
const contextBudget = 2000

// GenerateResponse answers prompt with memory-augmented generation: retrieve
// relevant interactions, assemble a bounded context window, and hand both to
// the response generator. The interactions that informed the answer are
// returned alongside it.
func (m *Manager) GenerateResponse(ctx context.Context, prompt string) (string, []*Interaction, error) {
	if m.generator == nil {
		return "", nil, goerr.Wrap(ErrConfiguration, "no response generator is configured")
	}

	relevant, err := m.RetrieveRelevantInteractions(ctx, prompt, RetrieveOptions{Limit: 5})
	if err != nil {
		return "", nil, err
	}
	contextText := FormatContextWindow(relevant, contextBudget)

	pctx, cancel := m.providerCtx(ctx)
	defer cancel()

	answer, err := m.generator.Generate(pctx, prompt, contextText)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", nil, goerr.Wrap(ErrProviderTimeout, "response generation exceeded its deadline",
				goerr.V("timeout", m.cfg.ProviderTimeout.String()))
		}
		return "", nil, goerr.Wrap(ErrProvider, "response generation failed", goerr.V("cause", err.Error()))
	}
	return answer, relevant, nil
}

// FormatContextWindow renders interactions into a numbered context block,
// dividing the character budget across entries so one long record cannot
// crowd out the rest.
func FormatContextWindow(interactions []*Interaction, budget int) string {
	if len(interactions) == 0 {
		return ""
	}
	perEntry := budget / len(interactions)
	if perEntry < 100 {
		perEntry = 100
	}

	var parts []string
	parts = append(parts, "=== RELEVANT PAST INTERACTIONS ===")
	for i, in := range interactions {
		entry := truncate(in.CombinedText(), perEntry)
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, entry))
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Snapshot reports the index's diagnostic view.
func (m *Manager) Snapshot() IndexSnapshot {
	return m.index.Snapshot()
}

// Decay applies a forgetting sweep to records not accessed within window.
func (m *Manager) Decay(window time.Duration, rate float64) int {
	return m.index.Decay(window, rate)
}

// Dispose flushes the index to durable storage and releases resources.
// Best-effort: every component is disposed even when an earlier one fails,
// and the first error is returned.
func (m *Manager) Dispose(ctx context.Context) error {
	firstErr := m.index.Cleanup(ctx)
	if m.cache != nil {
		m.cache.Dispose()
	}
	if firstErr != nil {
		return goerr.Wrap(firstErr, "dispose memory manager")
	}
	return nil
}
