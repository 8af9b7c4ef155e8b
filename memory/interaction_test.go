package memory_test

import (
	"math"
	"testing"

	"github.com/engramlabs/engram/memory"
)

func TestSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Machine Learning", "machine-learning"},
		{"machine learning", "machine-learning"},
		{"  GPUs!  ", "gpus"},
		{"C++ templates", "c-templates"},
		{"a--b", "a-b"},
		{"", ""},
	}
	for _, c := range cases {
		if got := memory.Slug(c.in); got != c.want {
			t.Errorf("Slug(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestConceptURIIsDeterministic(t *testing.T) {
	a := memory.ConceptURI("Machine Learning")
	b := memory.ConceptURI("machine  learning")
	if a != b {
		t.Errorf("case/spacing variants should share a URI: %q vs %q", a, b)
	}
	if a != "engram://concept/machine-learning" {
		t.Errorf("unexpected URI %q", a)
	}
}

func TestValidateEmbedding(t *testing.T) {
	if err := memory.ValidateEmbedding([]float32{1, 2, 3}, 3); err != nil {
		t.Errorf("valid embedding rejected: %v", err)
	}
	if err := memory.ValidateEmbedding([]float32{1, 2}, 3); err == nil {
		t.Error("dimension mismatch accepted")
	}
	if err := memory.ValidateEmbedding([]float32{1, float32(math.NaN()), 3}, 3); err == nil {
		t.Error("NaN accepted")
	}
	if err := memory.ValidateEmbedding([]float32{float32(math.Inf(1)), 0, 0}, 3); err == nil {
		t.Error("Inf accepted")
	}
}

func TestStandardizeEmbedding(t *testing.T) {
	good := []float32{1, 2, 3}
	if got := memory.StandardizeEmbedding(good, 3); &got[0] != &good[0] {
		t.Error("valid embedding should pass through unchanged")
	}

	bad := memory.StandardizeEmbedding([]float32{1}, 3)
	if len(bad) != 3 {
		t.Fatalf("expected zero vector of dimension 3, got %d", len(bad))
	}
	for _, v := range bad {
		if v != 0 {
			t.Error("fallback vector must be all zeros")
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim := memory.CosineSimilarity([]float32{1, 0}, []float32{1, 0}); math.Abs(sim-1) > 1e-9 {
		t.Errorf("identical vectors: got %f", sim)
	}
	if sim := memory.CosineSimilarity([]float32{1, 0}, []float32{0, 1}); math.Abs(sim) > 1e-9 {
		t.Errorf("orthogonal vectors: got %f", sim)
	}
	if sim := memory.CosineSimilarity([]float32{1, 0}, []float32{0, 0}); sim != 0 {
		t.Errorf("zero vector: got %f", sim)
	}
	if sim := memory.CosineSimilarity([]float32{1}, []float32{1, 0}); sim != 0 {
		t.Errorf("mismatched lengths: got %f", sim)
	}
}

func TestNewInteractionDefaults(t *testing.T) {
	in := memory.NewInteraction("p", "o", []float32{1}, []string{"c"}, nil)
	if in.ID == "" {
		t.Error("expected generated id")
	}
	if in.AccessCount != 1 {
		t.Errorf("expected access count 1, got %d", in.AccessCount)
	}
	if in.DecayFactor != 1.0 {
		t.Errorf("expected full decay factor, got %f", in.DecayFactor)
	}
	if in.MemoryType != memory.ShortTerm {
		t.Errorf("new interactions start short-term, got %q", in.MemoryType)
	}
	if in.CombinedText() != "p o" {
		t.Errorf("unexpected combined text %q", in.CombinedText())
	}
}
