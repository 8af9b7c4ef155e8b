package memory

import (
	"context"
	"time"
)

// Embedder converts text to fixed-length vector embeddings.
// Implementations: MockEmbedder (testing), ONNXEmbedder (local, offline),
// or any remote embedding API wrapped behind this interface.
//
// Embedder calls are suspension points: they may be remote and slow, and
// the Manager bounds them with the configured provider timeout.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// ConceptExtractor derives short concept labels from text, typically backed
// by an LLM. It is an optional capability: a Manager constructed without one
// degrades to embedding-only retrieval, it does not error.
type ConceptExtractor interface {
	ExtractConcepts(ctx context.Context, text string) ([]string, error)
}

// ResponseGenerator produces a natural-language answer from a prompt plus a
// bounded context window assembled from retrieved interactions.
type ResponseGenerator interface {
	Generate(ctx context.Context, prompt string, contextText string) (string, error)
}

// Index is the unified in-memory working set kept consistent with durable
// storage. Implementation: index.Index. The Manager is the only caller.
//
// Store and Retrieve must not be observed before Load completes; the
// implementation lazily triggers one shared load on first use.
type Index interface {
	// Load rehydrates the in-memory structures from durable storage.
	// Idempotent; concurrent callers share one in-flight load.
	Load(ctx context.Context) error

	// Store validates, inserts into the in-memory tier and vector/graph
	// structures, and writes through to durable storage. A failed durable
	// write rolls the in-memory mutation back before returning.
	Store(ctx context.Context, interaction *Interaction) error

	// Retrieve answers a similarity + concept-activation query with a
	// ranked, deduplicated result list.
	Retrieve(ctx context.Context, q RetrieveQuery) ([]*Interaction, error)

	// Decay reduces the decay factor of records not accessed within the
	// window and returns how many records were touched.
	Decay(window time.Duration, rate float64) int

	// Snapshot reports in-memory sizes for diagnostics.
	Snapshot() IndexSnapshot

	// Cleanup flushes pending in-memory state to durable storage and
	// releases index resources.
	Cleanup(ctx context.Context) error
}

// RetrieveQuery carries one retrieval request into the index.
type RetrieveQuery struct {
	Embedding    []float32
	Concepts     []string
	Threshold    float64
	ExcludeLastN int
}

// IndexSnapshot is a diagnostic view of the in-memory working set.
type IndexSnapshot struct {
	ShortTerm    int
	LongTerm     int
	Concepts     int
	Clusters     int
	ClusterSizes []int
	Ready        bool
}

// Document is an unprocessed content record: the deferred-storage form for
// oversized interactions, persisted without embedding or concepts.
type Document struct {
	ID                string
	Content           string
	Timestamp         int64
	ProcessingSkipped string
	Metadata          map[string]string
}

// DocumentSink is the slice of the persistence module the Manager uses
// directly for deferred oversized content. Implementation: store.Store.
type DocumentSink interface {
	StoreDocument(ctx context.Context, doc *Document) error
}

// StoreResult is the outcome of a StoreInteraction call.
//
// Deferred is set when the combined text exceeded the processing ceiling and
// the content was written straight to durable storage without embedding or
// concept extraction. This is the backpressure valve, not a failure.
type StoreResult struct {
	Success   bool
	ID        string
	Concepts  int
	Timestamp int64
	Deferred  bool
	Reason    string
}
