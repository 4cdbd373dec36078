package query

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
)

const (
	thematicCommunityLimit = 3
	thematicMemberLimit    = 10
	thematicChunkLimit     = 12
	sectionSiblingLimit    = 2
	keywordBoost           = 0.1
	originCommunity        = "community_match"
	originSectionExpansion = "section_expansion"
)

// runThematic answers broad topical questions. Community matching and hub
// extraction run concurrently and are merged deterministically after the
// join; passages are then widened by section-based expansion and reordered
// by keyword boosting before synthesis.
func (e *Engine) runThematic(ctx context.Context, req Request, observer Observer) (*graph.RouteResult, error) {
	queryVec := e.embedQuery(ctx, req.Tenant, req.semanticQuery())

	var (
		communityEvidence []graph.EvidenceNode
		tracedEvidence    []graph.EvidenceNode
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		matched, err := e.matchCommunities(gctx, req.Tenant, req.Text)
		if err != nil {
			return err
		}
		communityEvidence = matched
		return nil
	})
	g.Go(func() error {
		seeds, err := e.disambiguator.Disambiguate(gctx, req.Tenant, req.Text, e.opts.SeedTopK)
		if err != nil {
			return err
		}
		if len(seeds) == 0 {
			return nil
		}
		evidence, err := e.tracer.Trace(gctx, req.Tenant, seeds, queryVec, e.opts.TraceTopK)
		if err != nil {
			if fatal(err) {
				return err
			}
			logger.Warn("evidence tracing degraded", "err", err)
			return nil
		}
		tracedEvidence = evidence
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	recordStrategyFired(observer, string(e.opts.Strategy))
	evidence := mergeEvidence([]subQuestionEvidence{
		{evidence: tracedEvidence},
		{evidence: communityEvidence},
	})
	recordQueriedEntityIDs(observer, evidenceEntityIDs(evidence)...)

	var passages []graph.SourcePassage
	if ids := evidenceEntityIDs(evidence); len(ids) > 0 {
		chunks, err := e.store.GetChunksMentioningEntities(ctx, req.Tenant, hubEntities(evidence, thematicMemberLimit), thematicChunkLimit)
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
	siblings, err := e.expandSections(ctx, req.Tenant, passages)
	if err != nil {
		return nil, err
	}
	passages = appendUniquePassages(passages, siblings)

	boostByKeywords(passages, req.Text)
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
	return e.finishResult(synthesis, evidence, nil), nil
}

// matchCommunities scores every community by token overlap between the
// query and the community title plus summary, and returns the member
// entities of the best matches as evidence. Community rank breaks ties so
// the ordering is stable.
func (e *Engine) matchCommunities(ctx context.Context, tenant, queryText string) ([]graph.EvidenceNode, error) {
	communities, err := e.store.ListCommunities(ctx, tenant)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		logger.Warn("community matching degraded", "err", err)
		return nil, nil
	}

	queryTokens := tokenSet(queryText)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	type match struct {
		community graph.Community
		overlap   int
		order     int
	}
	matches := make([]match, 0)
	for i, c := range communities {
		overlap := 0
		for token := range tokenSet(c.Title + " " + c.Summary) {
			if _, ok := queryTokens[token]; ok {
				overlap++
			}
		}
		if overlap > 0 {
			matches = append(matches, match{community: c, overlap: overlap, order: i})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].overlap == matches[j].overlap {
			return matches[i].order < matches[j].order
		}
		return matches[i].overlap > matches[j].overlap
	})
	if len(matches) > thematicCommunityLimit {
		matches = matches[:thematicCommunityLimit]
	}

	memberIDs := make([]string, 0)
	seen := make(map[string]struct{})
	for _, m := range matches {
		for _, id := range m.community.MemberIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			memberIDs = append(memberIDs, id)
			if len(memberIDs) >= thematicMemberLimit {
				break
			}
		}
	}
	if len(memberIDs) == 0 {
		return nil, nil
	}

	entities, err := e.store.GetEntitiesByIDs(ctx, tenant, memberIDs)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		logger.Warn("community member lookup degraded", "err", err)
		return nil, nil
	}
	out := make([]graph.EvidenceNode, 0, len(entities))
	for _, entity := range entities {
		out = append(out, graph.EvidenceNode{
			Name:       entity.Name,
			EntityID:   entity.ID,
			Score:      0.7,
			Provenance: originCommunity,
		})
	}
	return out, nil
}

// expandSections pulls sibling chunks from the sections of the currently
// best passages, so thematic answers see whole sections rather than
// isolated fragments.
func (e *Engine) expandSections(ctx context.Context, tenant string, passages []graph.SourcePassage) ([]graph.SourcePassage, error) {
	type sectionKey struct {
		documentID  string
		sectionPath string
	}
	sections := make([]sectionKey, 0)
	seen := make(map[sectionKey]struct{})
	for _, p := range passages {
		if p.SectionPath == "" {
			continue
		}
		key := sectionKey{documentID: p.DocumentID, sectionPath: p.SectionPath}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		sections = append(sections, key)
	}

	var out []graph.SourcePassage
	for _, key := range sections {
		chunks, err := e.store.GetChunksByDocument(ctx, tenant, key.documentID)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			logger.Warn("section expansion degraded", "document", key.documentID, "err", err)
			continue
		}
		added := 0
		for _, c := range chunks {
			if c.SectionPath != key.sectionPath || added >= sectionSiblingLimit {
				continue
			}
			out = append(out, graph.SourcePassage{
				ChunkID:     c.ID,
				Text:        c.Text,
				DocumentID:  c.DocumentID,
				SectionPath: c.SectionPath,
				Origin:      originSectionExpansion,
			})
			added++
		}
	}
	return out, nil
}

// boostByKeywords nudges passage scores by query-token overlap and
// re-sorts, keeping prior order as the tiebreak.
func boostByKeywords(passages []graph.SourcePassage, queryText string) {
	queryTokens := tokenSet(queryText)
	if len(queryTokens) == 0 {
		return
	}
	for i := range passages {
		overlap := 0
		for token := range tokenSet(passages[i].Text) {
			if _, ok := queryTokens[token]; ok {
				overlap++
			}
		}
		passages[i].Score += keywordBoost * float64(overlap)
	}
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})
}

func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(text)) {
		token := strings.Trim(field, ".,;:!?\"'()[]{}")
		if len(token) < 3 {
			continue
		}
		out[token] = struct{}{}
	}
	return out
}
