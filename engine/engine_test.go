package engine_test

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/engramlabs/engram/engine"
	"github.com/engramlabs/engram/memory"
	"github.com/engramlabs/engram/memory/index"
	"github.com/engramlabs/engram/memory/store"
)

const dims = 8

// flatEmbedder maps every text onto nearly the same direction, so any
// stored record clears the similarity threshold. Relevance quality is the
// index's concern; these tests exercise the plumbing.
type flatEmbedder struct{}

func (flatEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(len(text)) / float32(dims+i+1)
	}
	return vec, nil
}

func (flatEmbedder) Dimensions() int { return dims }

type fixedExtractor struct {
	concepts []string
}

func (e fixedExtractor) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	return e.concepts, nil
}

type echoGenerator struct {
	lastContext string
}

func (g *echoGenerator) Generate(ctx context.Context, prompt string, contextText string) (string, error) {
	g.lastContext = contextText
	return "answer to: " + prompt, nil
}

// newEngine builds a full engine over an in-memory SQLite store. The
// returned store is shared so tests can rebuild an engine on the same
// durable state.
func newEngine(t *testing.T, st *store.Store, gen memory.ResponseGenerator) *engine.Engine {
	t.Helper()

	cfg := &memory.Config{Dimension: dims, ContentCeiling: 200}
	idx, err := index.New(cfg.WithDefaults(), st)
	gt.NoError(t, err)

	opts := []memory.ManagerOption{
		memory.WithDocumentSink(st),
		memory.WithConceptExtractor(fixedExtractor{concepts: []string{"testing"}}),
	}
	if gen != nil {
		opts = append(opts, memory.WithResponseGenerator(gen))
	}
	manager, err := memory.NewManager(flatEmbedder{}, idx, cfg, opts...)
	gt.NoError(t, err)

	eng, err := engine.New(manager)
	gt.NoError(t, err)
	return eng
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	transport, err := store.NewSQLiteTransport(":memory:")
	gt.NoError(t, err)
	t.Cleanup(func() { transport.Close() })

	st, err := store.New(transport, store.Config{Dimension: dims})
	gt.NoError(t, err)
	return st
}

func TestTellAndRecall(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, newTestStore(t), nil)

	result, err := eng.Tell(ctx, "how do B-trees split?", "they divide the node at the median key", nil)
	gt.NoError(t, err)
	gt.True(t, result.Success)
	gt.False(t, result.Deferred)
	gt.Equal(t, result.Concepts, 1)

	recalled, err := eng.Recall(ctx, "tell me about b-tree splits", memory.RetrieveOptions{})
	gt.NoError(t, err)
	gt.A(t, recalled).Length(1)
	gt.Equal(t, recalled[0].ID, result.ID)
}

func TestTellDefersOversized(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, newTestStore(t), nil)

	result, err := eng.Tell(ctx, "summarize", strings.Repeat("verbose ", 100), nil)
	gt.NoError(t, err)
	gt.True(t, result.Deferred)
	gt.Equal(t, result.Reason, "content_too_large")

	// Deferred content never enters the working set.
	info := eng.Inspect()
	gt.Equal(t, info.ShortTerm, 0)
	gt.Equal(t, info.LongTerm, 0)
}

func TestAugmentWeavesContext(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, newTestStore(t), nil)

	_, err := eng.Tell(ctx, "what is WAL?", "a write-ahead log for crash recovery", nil)
	gt.NoError(t, err)

	aug, err := eng.Augment(ctx, "explain write-ahead logging", memory.RetrieveOptions{})
	gt.NoError(t, err)
	gt.A(t, aug.Sources).Length(1)
	gt.True(t, strings.Contains(aug.Prompt, "RELEVANT PAST INTERACTIONS"))
	gt.True(t, strings.Contains(aug.Prompt, "what is WAL?"))
	gt.True(t, strings.HasSuffix(aug.Prompt, "explain write-ahead logging"))
}

func TestAugmentPassthroughWithoutMemory(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, newTestStore(t), nil)

	aug, err := eng.Augment(ctx, "a question into the void", memory.RetrieveOptions{})
	gt.NoError(t, err)
	gt.A(t, aug.Sources).Length(0)
	gt.Equal(t, aug.Prompt, "a question into the void")
}

func TestAskUsesRetrievedContext(t *testing.T) {
	ctx := context.Background()
	gen := &echoGenerator{}
	eng := newEngine(t, newTestStore(t), gen)

	_, err := eng.Tell(ctx, "favorite color?", "the user prefers teal", nil)
	gt.NoError(t, err)

	answer, err := eng.Ask(ctx, "what color does the user like?")
	gt.NoError(t, err)
	gt.Equal(t, answer.Text, "answer to: what color does the user like?")
	gt.A(t, answer.Sources).Length(1)
	gt.True(t, strings.Contains(gen.lastContext, "teal"))
}

func TestCloseFlushesAndSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	eng := newEngine(t, st, nil)
	result, err := eng.Tell(ctx, "persistent fact", "survives restarts", nil)
	gt.NoError(t, err)
	gt.NoError(t, eng.Close(ctx))

	// A fresh engine over the same store rehydrates the record.
	eng2 := newEngine(t, st, nil)
	gt.NoError(t, eng2.Initialize(ctx))

	info := eng2.Inspect()
	gt.Equal(t, info.ShortTerm, 1)

	recalled, err := eng2.Recall(ctx, "persistent fact again", memory.RetrieveOptions{})
	gt.NoError(t, err)
	gt.A(t, recalled).Length(1)
	gt.Equal(t, recalled[0].ID, result.ID)
}

func TestInspectReportsDimension(t *testing.T) {
	eng := newEngine(t, newTestStore(t), nil)
	gt.NoError(t, eng.Initialize(context.Background()))
	info := eng.Inspect()
	gt.True(t, info.Ready)
	gt.Equal(t, info.Dimension, dims)
}
