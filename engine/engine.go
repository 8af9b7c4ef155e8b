// Package engine is the conversational surface of the memory engine. Tell
// records an exchange, Ask answers with memory-augmented generation, Augment
// enriches a prompt for an external model, Recall returns raw matches,
// Inspect reports engine state, and Sweep applies the forgetting pass.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/engramlabs/engram/memory"
)

// Engine exposes the memory engine's conversational operations. All methods
// are safe for concurrent use.
type Engine struct {
	manager *memory.Manager
	logger  *slog.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine over a memory manager.
func New(manager *memory.Manager, opts ...Option) (*Engine, error) {
	if manager == nil {
		return nil, goerr.Wrap(memory.ErrConfiguration, "engine requires a memory manager")
	}
	e := &Engine{
		manager: manager,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Initialize eagerly loads the durable history. Optional: the first Tell or
// Ask triggers the same load.
func (e *Engine) Initialize(ctx context.Context) error {
	return e.manager.Initialize(ctx)
}

// Tell records a prompt/response exchange into memory. Oversized content is
// deferred to plain document storage and reported as such, not failed.
func (e *Engine) Tell(ctx context.Context, prompt, response string, metadata map[string]string) (*memory.StoreResult, error) {
	result, err := e.manager.StoreInteraction(ctx, prompt, response, metadata)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("interaction recorded",
		slog.String("id", result.ID),
		slog.Bool("deferred", result.Deferred),
		slog.Int("concepts", result.Concepts))
	return result, nil
}

// Answer is the outcome of an Ask call: the generated text and the
// interactions that informed it, most relevant first.
type Answer struct {
	Text    string
	Sources []*memory.Interaction
}

// Ask answers a question with memory-augmented generation. Requires a
// response generator; use Augment to drive an external model instead.
func (e *Engine) Ask(ctx context.Context, question string) (*Answer, error) {
	text, sources, err := e.manager.GenerateResponse(ctx, question)
	if err != nil {
		return nil, err
	}
	return &Answer{Text: text, Sources: sources}, nil
}

// Augmentation is an enriched prompt plus the interactions woven into it.
type Augmentation struct {
	Prompt  string
	Context string
	Sources []*memory.Interaction
}

// Augment retrieves memory relevant to prompt and renders it into a context
// block suitable for prepending to an external model call. With no relevant
// memory the prompt passes through unchanged.
func (e *Engine) Augment(ctx context.Context, prompt string, opts memory.RetrieveOptions) (*Augmentation, error) {
	if opts.Limit == 0 {
		opts.Limit = 5
	}
	sources, err := e.manager.RetrieveRelevantInteractions(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}

	aug := &Augmentation{Prompt: prompt, Sources: sources}
	if len(sources) > 0 {
		aug.Context = memory.FormatContextWindow(sources, 2000)
		aug.Prompt = aug.Context + "\n\n" + prompt
	}
	return aug, nil
}

// Recall returns the raw interactions relevant to a query, without any
// formatting or generation.
func (e *Engine) Recall(ctx context.Context, query string, opts memory.RetrieveOptions) ([]*memory.Interaction, error) {
	return e.manager.RetrieveRelevantInteractions(ctx, query, opts)
}

// Inspection is a diagnostic view of the engine.
type Inspection struct {
	ShortTerm    int
	LongTerm     int
	Concepts     int
	Clusters     int
	ClusterSizes []int
	Ready        bool
	Dimension    int
}

// Inspect reports the in-memory working set sizes and readiness.
func (e *Engine) Inspect() Inspection {
	snap := e.manager.Snapshot()
	return Inspection{
		ShortTerm:    snap.ShortTerm,
		LongTerm:     snap.LongTerm,
		Concepts:     snap.Concepts,
		Clusters:     snap.Clusters,
		ClusterSizes: snap.ClusterSizes,
		Ready:        snap.Ready,
		Dimension:    e.manager.Config().Dimension,
	}
}

// Sweep applies a forgetting pass to records not accessed within window,
// multiplying their decay factor by rate. Returns the number of records
// touched.
func (e *Engine) Sweep(window time.Duration, rate float64) int {
	n := e.manager.Decay(window, rate)
	if n > 0 {
		e.logger.Info("decay sweep complete", slog.Int("records", n), slog.String("window", window.String()))
	}
	return n
}

// Close flushes memory to durable storage and releases resources.
func (e *Engine) Close(ctx context.Context) error {
	return e.manager.Dispose(ctx)
}
