package query

import (
	"context"
	"sort"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/store"
)

const (
	beamDefaultWidth = 5
	beamDefaultHops  = 2
	beamHopDecay     = 0.9
	beamCandidates   = 15
)

// SemanticBeamTracer walks the graph hop by hop, re-ranking the frontier by
// similarity to the query embedding before expanding further. Traversal
// direction is continuously re-aligned with query intent instead of
// drifting with graph topology alone. Used by the decomposition controller
// for short per-sub-question discovery passes.
type SemanticBeamTracer struct {
	Store     store.GraphStore
	MaxHops   int
	BeamWidth int
}

func (t *SemanticBeamTracer) Trace(ctx context.Context, tenant string, seeds []graph.SeedEntity, queryVec []float32, topK int) ([]graph.EvidenceNode, error) {
	resolved := resolvedSeeds(seeds)
	if len(resolved) == 0 {
		return nil, nil
	}

	maxHops := t.MaxHops
	if maxHops <= 0 {
		maxHops = beamDefaultHops
	}
	width := t.BeamWidth
	if width <= 0 {
		width = beamDefaultWidth
	}

	nodes := make(map[string]*scoredNode)
	order := 0
	record := func(entityID, name string, score float64) {
		if existing, ok := nodes[entityID]; ok {
			if score > existing.score {
				existing.score = score
			}
			return
		}
		nodes[entityID] = &scoredNode{entityID: entityID, name: name, score: score, firstSeen: order}
		order++
	}

	frontier := make([]string, 0, len(resolved))
	for _, s := range resolved {
		record(s.ResolvedID, s.RawName, 1.0)
		frontier = append(frontier, s.ResolvedID)
	}

	decay := 1.0
	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		decay *= beamHopDecay

		type candidate struct {
			entity graph.Entity
			sim    float64
			order  int
		}
		candidates := make([]candidate, 0)
		seen := make(map[string]struct{})

		for _, entityID := range frontier {
			neighbors, err := t.Store.GetNeighbors(ctx, tenant, entityID, beamCandidates, nonSemanticEdgeTypes)
			if err != nil {
				if fatal(err) {
					return nil, err
				}
				logger.Warn("beam expansion degraded", "entity", entityID, "err", err)
				continue
			}
			for _, n := range neighbors {
				if _, dup := seen[n.Entity.ID]; dup {
					continue
				}
				seen[n.Entity.ID] = struct{}{}

				sim := rerankDefaultSim
				if len(queryVec) > 0 && len(n.Entity.Embedding) > 0 {
					sim = graph.Cosine(n.Entity.Embedding, queryVec)
					if sim < 0 {
						sim = 0
					}
				}
				candidates = append(candidates, candidate{entity: n.Entity, sim: sim, order: len(candidates)})
			}
		}

		// Re-align the frontier with query intent before going deeper.
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].sim == candidates[j].sim {
				return candidates[i].order < candidates[j].order
			}
			return candidates[i].sim > candidates[j].sim
		})
		if len(candidates) > width {
			candidates = candidates[:width]
		}

		frontier = frontier[:0]
		for _, c := range candidates {
			record(c.entity.ID, c.entity.Name, c.sim*decay)
			frontier = append(frontier, c.entity.ID)
		}
	}

	return rankNodes(nodes, topK, string(StrategySemanticBeam)), nil
}
