package query

import (
	"context"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/store"
)

const (
	hopSeedScore   = 1.0
	hopOneScore    = 0.85
	hopTwoScore    = hopOneScore * hopOneScore
	hopOneFanout   = 25
	hopTwoFanout   = 10
	teleportFloor  = 0.01
	missingSeedSim = -1 // marker for seeds without an embedding
)

// BoundedHopTracer approximates personalized PageRank by a two-level
// expansion from each seed: the 25 highest-degree neighbors at one hop,
// then 10 per one-hop node at two hops. Scores decay 1.0 / 0.85 / 0.85²;
// a node reachable over several paths keeps the maximum path score. Work
// is bounded to O(seeds × 35) neighbor queries without building a matrix.
type BoundedHopTracer struct {
	Store store.GraphStore
}

func (t *BoundedHopTracer) Trace(ctx context.Context, tenant string, seeds []graph.SeedEntity, queryVec []float32, topK int) ([]graph.EvidenceNode, error) {
	resolved := resolvedSeeds(seeds)
	if len(resolved) == 0 {
		return nil, nil
	}

	weights := make([]float64, len(resolved))
	for i := range weights {
		weights[i] = 1.0
	}

	nodes, err := expandSeeds(ctx, t.Store, tenant, resolved, weights)
	if err != nil {
		return nil, err
	}
	return rankNodes(nodes, topK, string(StrategyBoundedHop)), nil
}

// QueryBiasedTracer runs the same bounded expansion, but first computes a
// teleportation weight per seed from the cosine similarity of the seed's
// embedding to the query embedding, so seeds semantically aligned with the
// query dominate the propagated mass. Weights are floored at 0.01, seeds
// without an embedding receive the mean weight of the others, and the
// normalized weight is multiplied by the seed count so magnitudes stay
// comparable to the uniform variant.
type QueryBiasedTracer struct {
	Store store.GraphStore
}

func (t *QueryBiasedTracer) Trace(ctx context.Context, tenant string, seeds []graph.SeedEntity, queryVec []float32, topK int) ([]graph.EvidenceNode, error) {
	resolved := resolvedSeeds(seeds)
	if len(resolved) == 0 {
		return nil, nil
	}

	weights, err := teleportWeights(ctx, t.Store, tenant, resolved, queryVec)
	if err != nil {
		return nil, err
	}
	nodes, err := expandSeeds(ctx, t.Store, tenant, resolved, weights)
	if err != nil {
		return nil, err
	}
	return rankNodes(nodes, topK, string(StrategyQueryBiased)), nil
}

// teleportWeights returns one multiplier per seed, already normalized and
// scaled by the seed count. A degraded lookup or embedding gap falls back
// to uniform weighting for the affected seeds; an unreachable store is
// returned as an error.
func teleportWeights(ctx context.Context, st store.GraphStore, tenant string, seeds []graph.SeedEntity, queryVec []float32) ([]float64, error) {
	n := len(seeds)
	uniform := make([]float64, n)
	for i := range uniform {
		uniform[i] = 1.0
	}
	if len(queryVec) == 0 {
		return uniform, nil
	}

	ids := make([]string, 0, n)
	for _, s := range seeds {
		ids = append(ids, s.ResolvedID)
	}
	entities, err := st.GetEntitiesByIDs(ctx, tenant, ids)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		logger.Warn("teleport weight lookup failed, using uniform weights", "err", err)
		return uniform, nil
	}

	embeddings := make(map[string][]float32, len(entities))
	for _, e := range entities {
		if len(e.Embedding) > 0 {
			embeddings[e.ID] = e.Embedding
		}
	}

	sims := make([]float64, n)
	var (
		present int
		sum     float64
	)
	for i, s := range seeds {
		vec, ok := embeddings[s.ResolvedID]
		if !ok {
			sims[i] = missingSeedSim
			continue
		}
		sim := graph.Cosine(vec, queryVec)
		if sim < teleportFloor {
			sim = teleportFloor
		}
		sims[i] = sim
		present++
		sum += sim
	}

	if present == 0 {
		return uniform, nil
	}

	mean := sum / float64(present)
	total := 0.0
	for i := range sims {
		if sims[i] == missingSeedSim {
			sims[i] = mean
		}
		total += sims[i]
	}

	weights := make([]float64, n)
	for i := range sims {
		weights[i] = sims[i] / total * float64(n)
	}
	return weights, nil
}

// expandSeeds runs the two-level expansion for every seed, multiplying the
// decayed hop score by the seed's weight. Duplicate nodes keep the maximum
// score across all paths. A failing neighbor query is logged and skipped,
// keeping the evidence accumulated so far, unless the store is
// unreachable.
func expandSeeds(ctx context.Context, st store.GraphStore, tenant string, seeds []graph.SeedEntity, weights []float64) (map[string]*scoredNode, error) {
	nodes := make(map[string]*scoredNode)
	order := 0

	record := func(entityID, name string, score float64) {
		if existing, ok := nodes[entityID]; ok {
			if score > existing.score {
				existing.score = score
			}
			return
		}
		nodes[entityID] = &scoredNode{
			entityID:  entityID,
			name:      name,
			score:     score,
			firstSeen: order,
		}
		order++
	}

	for i, seed := range seeds {
		weight := weights[i]
		record(seed.ResolvedID, seed.RawName, hopSeedScore*weight)

		oneHop, err := st.GetNeighbors(ctx, tenant, seed.ResolvedID, hopOneFanout, nonSemanticEdgeTypes)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			logger.Warn("hop expansion degraded", "seed", seed.RawName, "err", err)
			continue
		}

		for _, n1 := range oneHop {
			record(n1.Entity.ID, n1.Entity.Name, hopOneScore*weight)

			twoHop, err := st.GetNeighbors(ctx, tenant, n1.Entity.ID, hopTwoFanout, nonSemanticEdgeTypes)
			if err != nil {
				if fatal(err) {
					return nil, err
				}
				logger.Warn("hop expansion degraded", "entity", n1.Entity.Name, "err", err)
				continue
			}
			for _, n2 := range twoHop {
				record(n2.Entity.ID, n2.Entity.Name, hopTwoScore*weight)
			}
		}
	}

	return nodes, nil
}
