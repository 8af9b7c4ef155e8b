package index

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestConceptGraphSharesIdentityAcrossCase(t *testing.T) {
	g := newConceptGraph()
	g.addInteraction("i1", []string{"Machine Learning"})
	g.addInteraction("i2", []string{"machine learning"})

	gt.Equal(t, g.conceptCount(), 1)

	activation := g.activate([]string{"MACHINE LEARNING"})
	gt.Equal(t, len(activation), 2)
	gt.Equal(t, activation["i1"], 1.0)
	gt.Equal(t, activation["i2"], 1.0)
}

func TestConceptGraphDeduplicatesWithinInteraction(t *testing.T) {
	g := newConceptGraph()
	g.addInteraction("i1", []string{"go", "Go", "golang"})

	gt.Equal(t, g.conceptCount(), 2)
	// A duplicated label must not create a self edge.
	goURI := "engram://concept/go"
	if _, ok := g.edges[goURI][goURI]; ok {
		t.Error("self edge created for duplicated concept")
	}
}

func TestConceptGraphOneHopActivation(t *testing.T) {
	g := newConceptGraph()
	// i1 links "databases" and "indexing"; i2 holds only "indexing".
	g.addInteraction("i1", []string{"databases", "indexing"})
	g.addInteraction("i2", []string{"indexing"})

	activation := g.activate([]string{"databases"})

	// Direct member gets full activation plus its own hop share.
	gt.True(t, activation["i1"] > 1.0)
	// i2 is reachable only through the databases->indexing edge.
	gt.Equal(t, activation["i2"], hopDamping)
	gt.True(t, activation["i1"] > activation["i2"])
}

func TestConceptGraphNormalizesByQuerySize(t *testing.T) {
	g := newConceptGraph()
	g.addInteraction("i1", []string{"alpha"})

	one := g.activate([]string{"alpha"})
	two := g.activate([]string{"alpha", "unknown"})

	gt.Equal(t, one["i1"], 1.0)
	gt.Equal(t, two["i1"], 0.5)
}

func TestConceptGraphRemoveUndoesAdd(t *testing.T) {
	g := newConceptGraph()
	g.addInteraction("i1", []string{"alpha", "beta"})
	g.removeInteraction("i1", []string{"alpha", "beta"})

	gt.Equal(t, g.conceptCount(), 0)
	gt.Equal(t, len(g.edges), 0)
	gt.Equal(t, len(g.members), 0)
}

func TestConceptGraphRemoveKeepsSharedNodes(t *testing.T) {
	g := newConceptGraph()
	g.addInteraction("i1", []string{"alpha"})
	g.addInteraction("i2", []string{"alpha"})
	g.removeInteraction("i1", []string{"alpha"})

	gt.Equal(t, g.conceptCount(), 1)
	activation := g.activate([]string{"alpha"})
	gt.Equal(t, len(activation), 1)
	gt.Equal(t, activation["i2"], 1.0)
}

func TestClusterSetGroupsBySimilarity(t *testing.T) {
	cs := newClusterSet(0.75)

	cs.add("a", []float32{1, 0, 0, 0})
	cs.add("b", []float32{0.95, 0.05, 0, 0}) // joins a's cluster
	cs.add("c", []float32{0, 1, 0, 0})       // opens a new one

	sizes := cs.sizes()
	gt.A(t, sizes).Length(2)
	gt.Equal(t, sizes[0], 2)
	gt.Equal(t, sizes[1], 1)
}

func TestClusterSetIgnoresZeroVectors(t *testing.T) {
	cs := newClusterSet(0.75)
	cs.add("z", []float32{0, 0, 0, 0})
	gt.A(t, cs.sizes()).Length(0)
}

func TestClusterSetRemove(t *testing.T) {
	cs := newClusterSet(0.75)
	cs.add("a", []float32{1, 0, 0, 0})
	cs.add("b", []float32{0.95, 0.05, 0, 0})

	cs.remove("b", []float32{0.95, 0.05, 0, 0})
	sizes := cs.sizes()
	gt.A(t, sizes).Length(1)
	gt.Equal(t, sizes[0], 1)

	// Removing the last member drops the cluster entirely.
	cs.remove("a", []float32{1, 0, 0, 0})
	gt.A(t, cs.sizes()).Length(0)
}
