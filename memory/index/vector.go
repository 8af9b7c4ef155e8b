package index

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"
)

// vectorIndex wraps chromem-go, a pure Go embedded vector database, for
// cosine similarity search over interaction embeddings.
//
// Zero vectors (the fallback for malformed durable records) are never added:
// they are unreachable by similarity and would break normalization. Records
// carrying them stay reachable through the concept graph.
type vectorIndex struct {
	db  *chromem.DB
	col *chromem.Collection
}

const collectionName = "interactions"

func newVectorIndex() (*vectorIndex, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection(
		collectionName,
		nil, // no collection metadata
		nil, // embeddings are always provided explicitly
	)
	if err != nil {
		return nil, goerr.Wrap(err, "create vector collection")
	}
	return &vectorIndex{db: db, col: col}, nil
}

func (v *vectorIndex) add(ctx context.Context, id string, embedding []float32) error {
	if isZero(embedding) {
		return nil
	}
	doc := chromem.Document{
		ID:        id,
		Content:   id, // content is unused; the index owns the full record
		Embedding: embedding,
	}
	if err := v.col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "add vector document", goerr.V("id", id))
	}
	return nil
}

func (v *vectorIndex) remove(ctx context.Context, id string) error {
	if err := v.col.Delete(ctx, nil, nil, id); err != nil {
		return goerr.Wrap(err, "delete vector document", goerr.V("id", id))
	}
	return nil
}

// hit is one similarity candidate.
type hit struct {
	id         string
	similarity float64
}

// search returns all indexed documents with similarity >= threshold,
// highest first. chromem requires nResults <= collection size, so the
// limit is clamped to the current count.
func (v *vectorIndex) search(ctx context.Context, embedding []float32, threshold float64) ([]hit, error) {
	count := v.col.Count()
	if count == 0 || isZero(embedding) {
		return nil, nil
	}
	results, err := v.col.QueryEmbedding(ctx, embedding, count, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "vector query")
	}
	hits := make([]hit, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < threshold {
			continue
		}
		hits = append(hits, hit{id: r.ID, similarity: sim})
	}
	return hits, nil
}

// reset drops and recreates the collection.
func (v *vectorIndex) reset() error {
	if err := v.db.DeleteCollection(collectionName); err != nil {
		return goerr.Wrap(err, "delete vector collection")
	}
	col, err := v.db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return goerr.Wrap(err, "recreate vector collection")
	}
	v.col = col
	return nil
}

func isZero(vec []float32) bool {
	for _, f := range vec {
		if f != 0 {
			return false
		}
	}
	return true
}
