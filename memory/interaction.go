package memory

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// MemoryType classifies which tier of the unified index a record currently
// lives in. It is positional, not immutable: records are promoted between
// tiers by access policy.
type MemoryType string

const (
	ShortTerm MemoryType = "short-term"
	LongTerm  MemoryType = "long-term"
)

// Interaction is the atomic memory unit: a prompt/response pair with its
// embedding and extracted concepts.
//
// The unified index owns the authoritative in-memory copy; the persistence
// module holds the durable copy. External callers never mutate an
// Interaction directly - all mutation goes through the index.
type Interaction struct {
	ID          string
	Prompt      string
	Output      string
	Embedding   []float32
	Timestamp   int64 // epoch milliseconds
	AccessCount int
	Concepts    []string
	DecayFactor float64
	MemoryType  MemoryType
	Metadata    map[string]string
}

// NewInteraction builds an Interaction with generated id, current timestamp,
// access count 1 and full decay factor. The embedding is standardized to the
// given dimension before the record is considered valid.
func NewInteraction(prompt, output string, embedding []float32, concepts []string, metadata map[string]string) *Interaction {
	return &Interaction{
		ID:          uuid.New().String(),
		Prompt:      prompt,
		Output:      output,
		Embedding:   embedding,
		Timestamp:   time.Now().UnixMilli(),
		AccessCount: 1,
		Concepts:    concepts,
		DecayFactor: 1.0,
		MemoryType:  ShortTerm,
		Metadata:    metadata,
	}
}

// CombinedText returns the text that size gating and embedding operate on.
func (i *Interaction) CombinedText() string {
	return i.Prompt + " " + i.Output
}

// Concept is a label entity derived from interaction text. Two occurrences
// of the same surface text share one identity via URI.
type Concept struct {
	Label         string
	Confidence    float64
	Frequency     int
	Category      string
	InteractionID string
	Embedding     []float32
}

// Relationship is a directed, weighted edge between two addressable
// entities, e.g. an interaction and a concept, or two co-occurring concepts.
type Relationship struct {
	Source     string
	Target     string
	Type       string
	Weight     float64
	Confidence float64
}

// conceptNamespace prefixes deterministic concept URIs.
const conceptNamespace = "engram://concept/"

// ConceptURI derives the canonical URI for a concept label. The derivation
// is deterministic: lowercase, non-alphanumeric runs collapsed to single
// hyphens. "Machine Learning" and "machine learning" share one URI.
func ConceptURI(label string) string {
	return conceptNamespace + Slug(label)
}

// Slug converts a label to its canonical slug form.
func Slug(label string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// ValidateEmbedding checks that vec has the expected dimension and that
// every element is a finite number.
func ValidateEmbedding(vec []float32, dimension int) error {
	if len(vec) != dimension {
		return goerr.Wrap(ErrValidation, "embedding dimension mismatch",
			goerr.V("want", dimension), goerr.V("got", len(vec)))
	}
	for idx, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return goerr.Wrap(ErrValidation, "embedding contains non-finite value",
				goerr.V("index", idx))
		}
	}
	return nil
}

// StandardizeEmbedding returns a valid embedding of the given dimension:
// the input itself when it validates, otherwise a zero vector. Loading a
// malformed durable record must degrade retrieval, never crash it.
func StandardizeEmbedding(vec []float32, dimension int) []float32 {
	if err := ValidateEmbedding(vec, dimension); err != nil {
		return make([]float32, dimension)
	}
	return vec
}

// CosineSimilarity computes cosine similarity between two vectors. Returns
// 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
