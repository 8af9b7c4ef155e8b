package index

import (
	"github.com/engramlabs/engram/memory"
)

// conceptGraph is the in-memory concept co-occurrence structure consulted
// during retrieval. Nodes are concepts keyed by canonical URI; undirected
// weighted edges count how often two concepts appeared in one interaction;
// membership sets link each concept to the interactions it was extracted
// from.
type conceptGraph struct {
	nodes   map[string]*conceptNode
	edges   map[string]map[string]float64
	members map[string]map[string]struct{}
}

type conceptNode struct {
	label     string
	frequency int
}

func newConceptGraph() *conceptGraph {
	return &conceptGraph{
		nodes:   make(map[string]*conceptNode),
		edges:   make(map[string]map[string]float64),
		members: make(map[string]map[string]struct{}),
	}
}

// addInteraction registers concept nodes, interaction membership, and
// pairwise co-occurrence edges for one stored interaction.
func (g *conceptGraph) addInteraction(id string, concepts []string) {
	seen := make(map[string]struct{}, len(concepts))
	uris := make([]string, 0, len(concepts))
	for _, label := range concepts {
		uri := memory.ConceptURI(label)
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}
		uris = append(uris, uri)

		node, ok := g.nodes[uri]
		if !ok {
			node = &conceptNode{label: label}
			g.nodes[uri] = node
		}
		node.frequency++

		if g.members[uri] == nil {
			g.members[uri] = make(map[string]struct{})
		}
		g.members[uri][id] = struct{}{}
	}

	// Co-occurrence edges between every concept pair in this interaction.
	for i := 0; i < len(uris); i++ {
		for j := i + 1; j < len(uris); j++ {
			g.bumpEdge(uris[i], uris[j])
			g.bumpEdge(uris[j], uris[i])
		}
	}
}

func (g *conceptGraph) bumpEdge(a, b string) {
	if g.edges[a] == nil {
		g.edges[a] = make(map[string]float64)
	}
	g.edges[a][b]++
}

// removeInteraction undoes addInteraction for a rolled-back store.
func (g *conceptGraph) removeInteraction(id string, concepts []string) {
	uris := uniqueURIs(concepts)
	for _, uri := range uris {
		if m := g.members[uri]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(g.members, uri)
			}
		}
		if node := g.nodes[uri]; node != nil {
			node.frequency--
			if node.frequency <= 0 {
				delete(g.nodes, uri)
			}
		}
	}
	for i := 0; i < len(uris); i++ {
		for j := i + 1; j < len(uris); j++ {
			g.dropEdge(uris[i], uris[j])
			g.dropEdge(uris[j], uris[i])
		}
	}
}

func (g *conceptGraph) dropEdge(a, b string) {
	if m := g.edges[a]; m != nil {
		m[b]--
		if m[b] <= 0 {
			delete(m, b)
		}
		if len(m) == 0 {
			delete(g.edges, a)
		}
	}
}

// hopDamping scales 1-hop activation relative to a direct concept match.
const hopDamping = 0.5

// activate spreads activation from the query concepts into interaction ids.
// Interactions holding a query concept directly receive full activation;
// interactions reachable through one co-occurrence hop receive activation
// damped by hop distance and proportional to the edge weight. The total is
// normalized by the number of query concepts so scores stay comparable
// across queries.
func (g *conceptGraph) activate(queryConcepts []string) map[string]float64 {
	if len(queryConcepts) == 0 {
		return nil
	}
	activation := make(map[string]float64)
	for _, uri := range uniqueURIs(queryConcepts) {
		for id := range g.members[uri] {
			activation[id] += 1.0
		}

		neighbors := g.edges[uri]
		if len(neighbors) == 0 {
			continue
		}
		var maxWeight float64
		for _, w := range neighbors {
			if w > maxWeight {
				maxWeight = w
			}
		}
		for neighbor, w := range neighbors {
			share := hopDamping * w / maxWeight
			for id := range g.members[neighbor] {
				activation[id] += share
			}
		}
	}

	n := float64(len(uniqueURIs(queryConcepts)))
	for id := range activation {
		activation[id] /= n
	}
	return activation
}

func (g *conceptGraph) conceptCount() int {
	return len(g.nodes)
}

func uniqueURIs(concepts []string) []string {
	seen := make(map[string]struct{}, len(concepts))
	uris := make([]string, 0, len(concepts))
	for _, c := range concepts {
		uri := memory.ConceptURI(c)
		if _, ok := seen[uri]; ok {
			continue
		}
		seen[uri] = struct{}{}
		uris = append(uris, uri)
	}
	return uris
}
