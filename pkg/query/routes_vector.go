package query

import (
	"context"

	"github.com/murre-ai/murre/pkg/graph"
)

// runVectorOnly is the fast path: hybrid retrieval straight to synthesis,
// no graph traversal. The router only selects it for low-complexity
// queries with a vector backend configured.
func (e *Engine) runVectorOnly(ctx context.Context, req Request, observer Observer) (*graph.RouteResult, error) {
	queryVec := e.embedQuery(ctx, req.Tenant, req.semanticQuery())

	passages, err := e.hybrid.Search(ctx, req.Tenant, req.Text, queryVec, e.opts.HybridTopK)
	if err != nil {
		return nil, err
	}
	titles, err := e.documentTitles(ctx, req.Tenant)
	if err != nil {
		return nil, err
	}
	fillDocumentTitles(passages, titles)

	recordConsideredChunkIDs(observer, passageChunkIDs(passages)...)
	recordUsedChunkIDs(observer, passageChunkIDs(passages)...)

	synthesis, err := e.synth.Synthesize(ctx, req.Text, passages, req.ResponseStyle)
	if err != nil {
		return nil, err
	}
	return e.finishResult(synthesis, nil, nil), nil
}
