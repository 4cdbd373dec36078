package query

import (
	"context"
	"strconv"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
)

const multiHopChunkLimit = 15

// runMultiHop handles complex questions through the decomposition
// controller. Pure document-metadata questions short-circuit to a direct
// answer from document dates before any decomposition happens.
func (e *Engine) runMultiHop(ctx context.Context, req Request, observer Observer) (*graph.RouteResult, error) {
	if answer, ok := e.drift.AnswerFromMetadata(ctx, req.Tenant, req.Text); ok {
		return &graph.RouteResult{
			Response: answer,
			Metadata: map[string]string{"fast_path": "document_metadata"},
		}, nil
	}

	queryVec := e.embedQuery(ctx, req.Tenant, req.semanticQuery())

	drift, err := e.drift.Run(ctx, req.Tenant, req.Text)
	if err != nil {
		return nil, err
	}
	recordStrategyFired(observer, string(StrategySemanticBeam))
	recordQueriedEntityIDs(observer, evidenceEntityIDs(drift.Evidence)...)

	var passages []graph.SourcePassage
	if ids := evidenceEntityIDs(drift.Evidence); len(ids) > 0 {
		chunks, err := e.store.GetChunksMentioningEntities(ctx, req.Tenant, ids, multiHopChunkLimit)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			logger.Warn("entity chunk retrieval degraded", "err", err)
		}
		passages = scoredChunksToPassages(chunks, originEntityChunks)
	}

	hybridPassages, err := e.hybrid.Search(ctx, req.Tenant, req.Text, queryVec, e.opts.HybridTopK)
	if err != nil {
		return nil, err
	}
	passages = appendUniquePassages(passages, hybridPassages)

	if docs, err := e.store.ListDocuments(ctx, req.Tenant); err == nil {
		extra, err := e.gapFill.Fill(ctx, req.Tenant, passages, docs, req.Text, queryVec)
		if err != nil {
			return nil, err
		}
		passages = appendUniquePassages(passages, extra)
	} else if fatal(err) {
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

	metadata := map[string]string{
		"sub_questions": strconv.Itoa(len(drift.SubQuestions)),
		"confidence":    fmtScore(drift.Confidence),
	}
	if drift.Redecomposed {
		metadata["redecomposed"] = "true"
	}
	return e.finishResult(synthesis, drift.Evidence, metadata), nil
}
