package query

import (
	"context"
	"sort"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/store"
)

const (
	rerankMinPool    = 50
	rerankDefaultSim = 0.5
)

// RerankedTracer composes over a base strategy: it traces an expanded pool
// of at least 50 candidates, re-scores each as base score × cosine
// similarity of the candidate's embedding to the query embedding (0.5 when
// no embedding exists), and truncates to topK. Ties after re-scoring keep
// the base strategy's order.
type RerankedTracer struct {
	Base  Tracer
	Store store.GraphStore
}

func (t *RerankedTracer) Trace(ctx context.Context, tenant string, seeds []graph.SeedEntity, queryVec []float32, topK int) ([]graph.EvidenceNode, error) {
	pool := topK
	if pool < rerankMinPool {
		pool = rerankMinPool
	}

	base, err := t.Base.Trace(ctx, tenant, seeds, queryVec, pool)
	if err != nil {
		return nil, err
	}
	if len(base) == 0 || len(queryVec) == 0 {
		if topK > 0 && len(base) > topK {
			base = base[:topK]
		}
		return base, nil
	}

	ids := make([]string, 0, len(base))
	for _, n := range base {
		ids = append(ids, n.EntityID)
	}
	entities, err := t.Store.GetEntitiesByIDs(ctx, tenant, ids)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		logger.Warn("rerank embedding lookup failed, keeping base order", "err", err)
		if topK > 0 && len(base) > topK {
			base = base[:topK]
		}
		return base, nil
	}

	embeddings := make(map[string][]float32, len(entities))
	for _, e := range entities {
		if len(e.Embedding) > 0 {
			embeddings[e.ID] = e.Embedding
		}
	}

	type reranked struct {
		node  graph.EvidenceNode
		order int
	}
	out := make([]reranked, 0, len(base))
	for i, n := range base {
		sim := rerankDefaultSim
		if vec, ok := embeddings[n.EntityID]; ok {
			sim = graph.Cosine(vec, queryVec)
		}
		n.Score *= sim
		n.Provenance = string(StrategyReranked)
		out = append(out, reranked{node: n, order: i})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].node.Score == out[j].node.Score {
			return out[i].order < out[j].order
		}
		return out[i].node.Score > out[j].node.Score
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	nodes := make([]graph.EvidenceNode, 0, len(out))
	for _, r := range out {
		nodes = append(nodes, r.node)
	}
	return nodes, nil
}
