package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/engramlabs/engram/memory"
	"github.com/engramlabs/engram/memory/store"
)

const dims = 4

func newStore(t *testing.T) (*store.Store, store.Transport) {
	t.Helper()
	transport, err := store.NewSQLiteTransport(":memory:")
	gt.NoError(t, err)
	t.Cleanup(func() { transport.Close() })

	st, err := store.New(transport, store.Config{Dimension: dims})
	gt.NoError(t, err)
	return st, transport
}

func interaction(id string, concepts ...string) *memory.Interaction {
	return &memory.Interaction{
		ID:          id,
		Prompt:      "prompt of " + id,
		Output:      "output of " + id,
		Embedding:   []float32{0.1, 0.2, 0.3, 0.4},
		Timestamp:   time.Now().UnixMilli(),
		AccessCount: 2,
		Concepts:    concepts,
		DecayFactor: 0.8,
		MemoryType:  memory.ShortTerm,
	}
}

func TestSaveAndLoadInteraction(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)

	in := interaction("one", "storage", "triples")
	gt.NoError(t, st.SaveInteraction(ctx, in))

	shortTerm, longTerm, err := st.LoadHistory(ctx)
	gt.NoError(t, err)
	gt.A(t, shortTerm).Length(1)
	gt.A(t, longTerm).Length(0)

	got := shortTerm[0]
	gt.Equal(t, got.ID, in.ID)
	gt.Equal(t, got.Prompt, in.Prompt)
	gt.Equal(t, got.Output, in.Output)
	gt.Equal(t, got.Embedding, in.Embedding)
	gt.Equal(t, got.AccessCount, in.AccessCount)
	gt.Equal(t, got.DecayFactor, in.DecayFactor)
	gt.Equal(t, got.Concepts, in.Concepts)
	gt.Equal(t, got.MemoryType, memory.ShortTerm)
}

func TestSaveInteractionIsUpsert(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)

	in := interaction("one")
	gt.NoError(t, st.SaveInteraction(ctx, in))
	in.Output = "revised output"
	gt.NoError(t, st.SaveInteraction(ctx, in))

	shortTerm, _, err := st.LoadHistory(ctx)
	gt.NoError(t, err)
	gt.A(t, shortTerm).Length(1)
	gt.Equal(t, shortTerm[0].Output, "revised output")
}

func TestRoundTripPreservesSpecialCharacters(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)

	in := interaction("tricky")
	in.Prompt = "line one\nline two\t'quoted' \"double\" back\\slash"
	in.Output = "'; DROP TABLE triples; --"
	gt.NoError(t, st.SaveInteraction(ctx, in))

	shortTerm, _, err := st.LoadHistory(ctx)
	gt.NoError(t, err)
	gt.A(t, shortTerm).Length(1)
	gt.Equal(t, shortTerm[0].Prompt, in.Prompt)
	gt.Equal(t, shortTerm[0].Output, in.Output)

	// The injection payload was stored as data, not executed.
	in2 := interaction("after")
	gt.NoError(t, st.SaveInteraction(ctx, in2))
}

func TestRoundTripPreservesPlaceholderMarkers(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)

	in := interaction("markers")
	in.Prompt = "my template uses {{graph}} and {{subject}} markers"
	in.Output = "also {{object}}, {{predicate}} and {{unknown}}"
	gt.NoError(t, st.SaveInteraction(ctx, in))

	shortTerm, _, err := st.LoadHistory(ctx)
	gt.NoError(t, err)
	gt.A(t, shortTerm).Length(1)
	gt.Equal(t, shortTerm[0].Prompt, in.Prompt)
	gt.Equal(t, shortTerm[0].Output, in.Output)
}

func TestSaveInteractionValidates(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)

	err := st.SaveInteraction(ctx, &memory.Interaction{ID: "", Embedding: []float32{1, 2, 3, 4}})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, memory.ErrValidation))

	bad := interaction("bad")
	bad.Embedding = []float32{1} // wrong dimension
	err = st.SaveInteraction(ctx, bad)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, memory.ErrValidation))
}

func TestSaveMemoryToHistoryReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)

	gt.NoError(t, st.SaveInteraction(ctx, interaction("stale")))

	fresh := interaction("fresh")
	promoted := interaction("promoted")
	gt.NoError(t, st.SaveMemoryToHistory(ctx,
		[]*memory.Interaction{fresh},
		[]*memory.Interaction{promoted}))

	shortTerm, longTerm, err := st.LoadHistory(ctx)
	gt.NoError(t, err)
	gt.A(t, shortTerm).Length(1)
	gt.Equal(t, shortTerm[0].ID, "fresh")
	gt.A(t, longTerm).Length(1)
	gt.Equal(t, longTerm[0].ID, "promoted")
	gt.Equal(t, longTerm[0].MemoryType, memory.LongTerm)
}

func TestLoadHistorySkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	st, transport := newStore(t)

	gt.NoError(t, st.SaveInteraction(ctx, interaction("good")))

	// A typed record with no prompt triple: parse fails, record skipped.
	gt.NoError(t, transport.ExecuteUpdate(ctx,
		`INSERT INTO triples (graph, subject, predicate, object)
		 VALUES ('`+store.DefaultGraph+`', 'engram://interaction/broken', 'rdf:type', 'engram:Interaction')`))

	shortTerm, _, err := st.LoadHistory(ctx)
	gt.NoError(t, err)
	gt.A(t, shortTerm).Length(1)
	gt.Equal(t, shortTerm[0].ID, "good")
}

func TestLoadHistoryFallsBackToZeroVector(t *testing.T) {
	ctx := context.Background()
	st, transport := newStore(t)

	g := store.DefaultGraph
	subject := "engram://interaction/corrupt"
	for _, pair := range [][2]string{
		{"rdf:type", "engram:Interaction"},
		{"engram:prompt", "still readable"},
		{"engram:output", "also readable"},
		{"engram:embedding", "not valid json"},
	} {
		gt.NoError(t, transport.ExecuteUpdate(ctx,
			`INSERT INTO triples (graph, subject, predicate, object)
			 VALUES ('`+g+`', '`+subject+`', '`+pair[0]+`', '`+pair[1]+`')`))
	}

	shortTerm, _, err := st.LoadHistory(ctx)
	gt.NoError(t, err)
	gt.A(t, shortTerm).Length(1)
	gt.Equal(t, shortTerm[0].Prompt, "still readable")
	gt.Equal(t, shortTerm[0].Embedding, make([]float32, dims))
}

func TestStoreAndLoadDocuments(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)

	doc := &memory.Document{
		ID:                "doc-1",
		Content:           strings.Repeat("long content ", 100),
		Timestamp:         time.Now().UnixMilli(),
		ProcessingSkipped: "content_too_large",
		Metadata:          map[string]string{"source": "upload"},
	}
	gt.NoError(t, st.StoreDocument(ctx, doc))

	docs, err := st.LoadDocuments(ctx)
	gt.NoError(t, err)
	gt.A(t, docs).Length(1)
	gt.Equal(t, docs[0].ID, doc.ID)
	gt.Equal(t, docs[0].Content, doc.Content)
	gt.Equal(t, docs[0].ProcessingSkipped, "content_too_large")

	// Documents never surface as interactions.
	shortTerm, longTerm, err := st.LoadHistory(ctx)
	gt.NoError(t, err)
	gt.A(t, shortTerm).Length(0)
	gt.A(t, longTerm).Length(0)
}

func TestOversizedObjectIsRejectedTyped(t *testing.T) {
	ctx := context.Background()
	transport, err := store.NewSQLiteTransport(":memory:")
	gt.NoError(t, err)
	defer transport.Close()

	st, err := store.New(transport, store.Config{Dimension: dims, MaxObjectLength: 64})
	gt.NoError(t, err)

	in := interaction("huge")
	in.Output = strings.Repeat("x", 200)
	err = st.SaveInteraction(ctx, in)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, memory.ErrContentTooLarge))

	// Nothing was committed.
	shortTerm, _, err := st.LoadHistory(ctx)
	gt.NoError(t, err)
	gt.A(t, shortTerm).Length(0)
}

func TestStoreDataRequiresID(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)

	err := st.StoreData(ctx, map[string]string{"name": "nameless"}, "")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, memory.ErrValidation))

	gt.NoError(t, st.StoreData(ctx, map[string]string{"id": "e1", "name": "named"}, ""))
}

func TestKnowledgeGraphWriters(t *testing.T) {
	ctx := context.Background()
	st, transport := newStore(t)

	gt.NoError(t, st.StoreEntity(ctx, &store.Entity{
		ID:       "ent-1",
		Name:     "PostgreSQL",
		Category: "database",
		Metadata: map[string]string{"license": "PostgreSQL License"},
	}))
	gt.NoError(t, st.StoreSemanticUnit(ctx, &store.SemanticUnit{
		ID:       "unit-1",
		Text:     "PostgreSQL supports partial indexes.",
		Summary:  "partial index support",
		SourceID: "doc-1",
	}))
	gt.NoError(t, st.StoreRelationship(ctx, &memory.Relationship{
		Source:     "engram://entity/ent-1",
		Target:     "engram://unit/unit-1",
		Type:       "described_by",
		Weight:     1.0,
		Confidence: 0.9,
	}))
	gt.NoError(t, st.StoreCommunity(ctx, &store.Community{
		ID:      "comm-1",
		Label:   "databases",
		Members: []string{"engram://entity/ent-1"},
	}))
	gt.NoError(t, st.StoreConcepts(ctx, []memory.Concept{
		{Label: "indexing", Confidence: 0.8, Frequency: 3, InteractionID: "one"},
	}))

	for _, typ := range []string{
		"engram:Entity", "engram:SemanticUnit", "engram:Relationship",
		"engram:Community", "engram:Concept",
	} {
		rows, err := transport.ExecuteQuery(ctx,
			`SELECT subject FROM triples WHERE predicate = 'rdf:type' AND object = '`+typ+`'`)
		gt.NoError(t, err)
		gt.A(t, rows).Longer(0)
	}
}

func TestKnowledgeGraphWritersValidate(t *testing.T) {
	ctx := context.Background()
	st, _ := newStore(t)

	gt.Error(t, st.StoreEntity(ctx, &store.Entity{ID: "x"}))
	gt.Error(t, st.StoreSemanticUnit(ctx, &store.SemanticUnit{ID: "x"}))
	gt.Error(t, st.StoreRelationship(ctx, &memory.Relationship{Source: "a"}))
	gt.Error(t, st.StoreCommunity(ctx, &store.Community{}))
	gt.Error(t, st.StoreConcepts(ctx, []memory.Concept{{Label: ""}}))
}
