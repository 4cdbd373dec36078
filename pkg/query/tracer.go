package query

import (
	"context"
	"sort"

	"github.com/murre-ai/murre/pkg/graph"
)

// Strategy identifies a tracing strategy implementation.
type Strategy string

const (
	StrategyBoundedHop   Strategy = "bounded_hop"
	StrategyQueryBiased  Strategy = "query_biased"
	StrategyReranked     Strategy = "reranked"
	StrategyMatrixPPR    Strategy = "matrix_ppr"
	StrategySemanticBeam Strategy = "semantic_beam"
)

// nonSemanticEdgeTypes are relationship types that encode document
// structure rather than meaning. Hop expansion skips them so propagated
// relevance follows semantic edges only.
var nonSemanticEdgeTypes = []string{"co_occurrence", "appears_in_section"}

// Tracer turns resolved seed entities into a ranked evidence set. Results
// are ordered by descending score, ties broken by the order seeds were
// supplied (and otherwise by first-seen order within the strategy), so
// repeated runs against an unchanged graph are reproducible.
//
// An empty seed list short-circuits to an empty result without issuing any
// graph query. A failing graph query at any stage degrades to whatever
// evidence was already accumulated; only an unreachable store surfaces as
// an error.
type Tracer interface {
	Trace(ctx context.Context, tenant string, seeds []graph.SeedEntity, queryVec []float32, topK int) ([]graph.EvidenceNode, error)
}

// scoredNode is the mutable accumulator shared by the tracing strategies.
type scoredNode struct {
	entityID  string
	name      string
	score     float64
	firstSeen int
}

// rankNodes orders nodes by descending score with first-seen tiebreak and
// converts them to evidence nodes, truncated to topK.
func rankNodes(nodes map[string]*scoredNode, topK int, provenance string) []graph.EvidenceNode {
	ordered := make([]*scoredNode, 0, len(nodes))
	for _, n := range nodes {
		ordered = append(ordered, n)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].score == ordered[j].score {
			return ordered[i].firstSeen < ordered[j].firstSeen
		}
		return ordered[i].score > ordered[j].score
	})

	if topK > 0 && len(ordered) > topK {
		ordered = ordered[:topK]
	}

	out := make([]graph.EvidenceNode, 0, len(ordered))
	for _, n := range ordered {
		out = append(out, graph.EvidenceNode{
			Name:       n.name,
			EntityID:   n.entityID,
			Score:      n.score,
			Provenance: provenance,
		})
	}
	return out
}

// resolvedSeeds filters the seed list to those carrying a graph id,
// preserving supply order.
func resolvedSeeds(seeds []graph.SeedEntity) []graph.SeedEntity {
	out := make([]graph.SeedEntity, 0, len(seeds))
	for _, s := range seeds {
		if s.Resolved() {
			out = append(out, s)
		}
	}
	return out
}
