package index

import (
	"github.com/engramlabs/engram/memory"
)

// clusterSet maintains coarse semantic clusters over stored embeddings with
// online nearest-centroid assignment: a record joins the best-matching
// cluster when centroid similarity clears the threshold, otherwise it opens
// a new one. Clusters exist for diagnostics and tier statistics, not for
// ranking.
type clusterSet struct {
	threshold float64
	clusters  []*cluster
}

type cluster struct {
	sum     []float64
	members map[string]struct{}
}

func newClusterSet(threshold float64) *clusterSet {
	return &clusterSet{threshold: threshold}
}

func (cs *clusterSet) add(id string, vec []float32) {
	if isZero(vec) {
		return
	}
	best := -1
	bestSim := 0.0
	for i, c := range cs.clusters {
		sim := memory.CosineSimilarity(vec, c.centroid())
		if sim > bestSim {
			bestSim = sim
			best = i
		}
	}
	if best >= 0 && bestSim >= cs.threshold {
		cs.clusters[best].absorb(id, vec)
		return
	}
	c := &cluster{sum: make([]float64, len(vec)), members: make(map[string]struct{})}
	c.absorb(id, vec)
	cs.clusters = append(cs.clusters, c)
}

func (cs *clusterSet) remove(id string, vec []float32) {
	for i, c := range cs.clusters {
		if _, ok := c.members[id]; !ok {
			continue
		}
		delete(c.members, id)
		for j, v := range vec {
			if j < len(c.sum) {
				c.sum[j] -= float64(v)
			}
		}
		if len(c.members) == 0 {
			cs.clusters = append(cs.clusters[:i], cs.clusters[i+1:]...)
		}
		return
	}
}

func (cs *clusterSet) sizes() []int {
	sizes := make([]int, len(cs.clusters))
	for i, c := range cs.clusters {
		sizes[i] = len(c.members)
	}
	return sizes
}

func (c *cluster) absorb(id string, vec []float32) {
	c.members[id] = struct{}{}
	for i, v := range vec {
		c.sum[i] += float64(v)
	}
}

func (c *cluster) centroid() []float32 {
	n := float64(len(c.members))
	if n == 0 {
		return make([]float32, len(c.sum))
	}
	out := make([]float32, len(c.sum))
	for i, v := range c.sum {
		out[i] = float32(v / n)
	}
	return out
}
