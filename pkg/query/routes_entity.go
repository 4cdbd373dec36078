package query

import (
	"context"
	"sort"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/store"
)

const (
	hubEntityLimit      = 5
	entityChunkLimit    = 10
	crossDocChunkLimit  = 5
	crossDocShareFloor  = 2
	originEntityChunks  = "entity_mentions"
	originCrossDocument = "cross_document_expansion"
)

// runEntityFocused answers questions centered on named entities: resolve
// seeds, trace evidence, pull the chunks mentioning the hub entities, and
// widen with cross-document entity-sharing expansion before synthesis.
//
// Finding hub entities but zero passages is fatal: an answer generated
// without any grounding text would be worse than an error.
func (e *Engine) runEntityFocused(ctx context.Context, req Request, observer Observer) (*graph.RouteResult, error) {
	queryVec := e.embedQuery(ctx, req.Tenant, req.semanticQuery())

	seeds, err := e.disambiguator.Disambiguate(ctx, req.Tenant, req.Text, e.opts.SeedTopK)
	if err != nil {
		return nil, err
	}

	var evidence []graph.EvidenceNode
	if len(seeds) > 0 {
		evidence, err = e.tracer.Trace(ctx, req.Tenant, seeds, queryVec, e.opts.TraceTopK)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			logger.Warn("evidence tracing degraded", "err", err)
		}
		recordStrategyFired(observer, string(e.opts.Strategy))
		recordQueriedEntityIDs(observer, evidenceEntityIDs(evidence)...)
	}

	hubs := hubEntities(evidence, hubEntityLimit)

	var passages []graph.SourcePassage
	if len(hubs) > 0 {
		chunks, err := e.store.GetChunksMentioningEntities(ctx, req.Tenant, hubs, entityChunkLimit)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			logger.Warn("entity chunk retrieval degraded", "err", err)
		}
		passages = scoredChunksToPassages(chunks, originEntityChunks)
		crossDoc, err := e.crossDocumentExpansion(ctx, req.Tenant, hubs)
		if err != nil {
			return nil, err
		}
		passages = appendUniquePassages(passages, crossDoc)
	}

	hybridPassages, err := e.hybrid.Search(ctx, req.Tenant, req.Text, queryVec, e.opts.HybridTopK)
	if err != nil {
		return nil, err
	}
	passages = appendUniquePassages(passages, hybridPassages)

	titles, err := e.documentTitles(ctx, req.Tenant)
	if err != nil {
		return nil, err
	}
	fillDocumentTitles(passages, titles)

	if len(hubs) > 0 && len(passages) == 0 {
		return nil, ErrNoEvidence
	}

	if docs, err := e.store.ListDocuments(ctx, req.Tenant); err == nil {
		extra, err := e.gapFill.Fill(ctx, req.Tenant, passages, docs, req.Text, queryVec)
		if err != nil {
			return nil, err
		}
		passages = appendUniquePassages(passages, extra)
	} else if fatal(err) {
		return nil, err
	}

	recordConsideredChunkIDs(observer, passageChunkIDs(passages)...)
	recordUsedChunkIDs(observer, passageChunkIDs(passages)...)

	synthesis, err := e.synth.Synthesize(ctx, req.Text, passages, req.ResponseStyle)
	if err != nil {
		return nil, err
	}
	return e.finishResult(synthesis, evidence, nil), nil
}

// hubEntities returns the top-scored evidence entity ids. Evidence is
// already ordered, so this is a prefix.
func hubEntities(evidence []graph.EvidenceNode, limit int) []string {
	ids := make([]string, 0, limit)
	for _, n := range evidence {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, n.EntityID)
	}
	return ids
}

// crossDocumentExpansion finds hub entities mentioned in two or more
// documents and pulls a few chunks for each of them. Entities spanning
// documents are exactly the ones that connect otherwise unrelated files,
// so their passages are worth surfacing even at moderate rank.
func (e *Engine) crossDocumentExpansion(ctx context.Context, tenant string, hubs []string) ([]graph.SourcePassage, error) {
	mentions, err := e.store.GetEntityMentions(ctx, tenant)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		logger.Warn("cross-document expansion degraded", "err", err)
		return nil, nil
	}

	hubSet := make(map[string]struct{}, len(hubs))
	for _, id := range hubs {
		hubSet[id] = struct{}{}
	}
	docsPerEntity := make(map[string]map[string]struct{})
	for _, m := range mentions {
		if _, ok := hubSet[m.EntityID]; !ok {
			continue
		}
		if docsPerEntity[m.EntityID] == nil {
			docsPerEntity[m.EntityID] = make(map[string]struct{})
		}
		docsPerEntity[m.EntityID][m.DocumentID] = struct{}{}
	}

	shared := make([]string, 0)
	for entityID, docs := range docsPerEntity {
		if len(docs) >= crossDocShareFloor {
			shared = append(shared, entityID)
		}
	}
	if len(shared) == 0 {
		return nil, nil
	}
	sort.Strings(shared)

	chunks, err := e.store.GetChunksMentioningEntities(ctx, tenant, shared, crossDocChunkLimit)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		logger.Warn("cross-document expansion degraded", "err", err)
		return nil, nil
	}
	return scoredChunksToPassages(chunks, originCrossDocument), nil
}

func scoredChunksToPassages(chunks []store.ScoredChunk, origin string) []graph.SourcePassage {
	out := make([]graph.SourcePassage, 0, len(chunks))
	for _, sc := range chunks {
		out = append(out, graph.SourcePassage{
			ChunkID:     sc.Chunk.ID,
			Text:        sc.Chunk.Text,
			DocumentID:  sc.Chunk.DocumentID,
			SectionPath: sc.Chunk.SectionPath,
			Score:       sc.Score,
			Origin:      origin,
		})
	}
	return out
}
