package graph

import (
	"sort"
	"strings"
	"sync"
)

// Node is a single claimed artifact's context-graph entry.
type Node struct {
	ClaimHash string
	Tags      []string
	CreatedMs int64
	Retracted bool
	Embedding [Dim]float64
}

// Graph is a per-group, in-memory index over claimed artifacts, rebuilt
// from the chain on load rather than persisted directly. It is acyclic by
// construction: nodes are keyed by claim hash and never reference each
// other.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddClaim inserts or replaces the node for claimHash, embedding text
// (artifact body or a representative summary of it) and tags.
func (g *Graph) AddClaim(claimHash string, text string, tags []string, createdMs int64) {
	embedded := text
	if len(tags) > 0 {
		embedded = text + " " + strings.Join(tags, " ")
	}
	n := &Node{
		ClaimHash: claimHash,
		Tags:      append([]string(nil), tags...),
		CreatedMs: createdMs,
		Embedding: Embed(embedded),
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[claimHash] = n
}

// Retract marks claimHash as retracted. Retracted claims are excluded from
// Query by default.
func (g *Graph) Retract(claimHash string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.nodes[claimHash]; ok {
		n.Retracted = true
	}
}

// Has reports whether claimHash has a node (retracted or not).
func (g *Graph) Has(claimHash string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[claimHash]
	return ok
}

// Len returns the total number of indexed claims, including retracted ones.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Result is a single ranked Query hit.
type Result struct {
	ClaimHash  string
	Tags       []string
	CreatedMs  int64
	Similarity float64
}

// Query ranks indexed claims by cosine similarity to query's embedding,
// highest first, breaking ties by newer created_ms. Retracted
// claims are skipped unless includeRetracted is set. limit <= 0 means no
// limit.
func (g *Graph) Query(query string, limit int, includeRetracted bool) []Result {
	qv := Embed(query)

	g.mu.RLock()
	results := make([]Result, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n.Retracted && !includeRetracted {
			continue
		}
		results = append(results, Result{
			ClaimHash:  n.ClaimHash,
			Tags:       n.Tags,
			CreatedMs:  n.CreatedMs,
			Similarity: Cosine(qv, n.Embedding),
		})
	}
	g.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].CreatedMs > results[j].CreatedMs
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
