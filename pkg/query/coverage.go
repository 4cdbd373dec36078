package query

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/store"
)

const (
	gapFillOrigin    = "coverage_gap_fill"
	gapKeywordWeight = 0.7
	gapVectorWeight  = 0.3
	gapExhaustiveCap = 3
)

// exhaustivePattern detects list-all / comparison style queries that need
// every document represented, not merely the top-ranked ones.
var exhaustivePattern = regexp.MustCompile(`(?i)\b(all|list all|every|each|compare|comparison|versus|vs\.?|how many|total)\b`)

// UnitScorer rates how well a chunk's wording matches the unit vocabulary
// of the query, in [-1, 1]. Negative values penalize chunks that answer in
// a different unit than the one asked for.
type UnitScorer func(queryText, chunkText string) float64

// GapFiller supplements an evidence set so every corpus document is
// represented. It never replaces or duplicates existing passages; it only
// adds passages for documents the evidence does not yet touch.
type GapFiller struct {
	Store store.GraphStore

	// Units overrides the keyword-unit scorer. Nil uses the built-in
	// time-unit heuristic.
	Units UnitScorer
}

// Fill returns supplementary passages for documents absent from the given
// evidence. For exhaustive queries all chunks of each uncovered document
// compete on a blended keyword/embedding score; for ordinary queries one
// representative chunk per uncovered document is chosen by embedding
// similarity, falling back to the document's earliest chunk.
func (g *GapFiller) Fill(ctx context.Context, tenant string, evidence []graph.SourcePassage, docs []graph.Document, queryText string, queryVec []float32) ([]graph.SourcePassage, error) {
	covered := make(map[string]struct{}, len(evidence))
	seenChunks := make(map[string]struct{}, len(evidence))
	for _, p := range evidence {
		covered[p.DocumentID] = struct{}{}
		seenChunks[p.ChunkID] = struct{}{}
	}

	uncovered := make([]graph.Document, 0)
	for _, d := range docs {
		if _, ok := covered[d.ID]; !ok {
			uncovered = append(uncovered, d)
		}
	}
	if len(uncovered) == 0 {
		return nil, nil
	}

	exhaustive := exhaustivePattern.MatchString(queryText)
	units := g.Units
	if units == nil {
		units = timeUnitScore
	}

	var out []graph.SourcePassage
	for _, doc := range uncovered {
		chunks, err := g.Store.GetChunksByDocument(ctx, tenant, doc.ID)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			logger.Warn("gap fill skipped document", "document", doc.ID, "err", err)
			continue
		}

		var picked []graph.TextChunk
		if exhaustive {
			picked = rankChunksForGap(chunks, queryText, queryVec, units, gapExhaustiveCap)
		} else if best, ok := bestChunkByEmbedding(chunks, queryVec); ok {
			picked = []graph.TextChunk{best}
		} else if len(chunks) > 0 {
			// GetChunksByDocument returns corpus order, so index zero is
			// the document's earliest chunk.
			picked = chunks[:1]
		}

		for _, c := range picked {
			if _, dup := seenChunks[c.ID]; dup {
				continue
			}
			seenChunks[c.ID] = struct{}{}
			out = append(out, graph.SourcePassage{
				ChunkID:     c.ID,
				Text:        c.Text,
				DocumentID:  doc.ID,
				Document:    doc.Title,
				SectionPath: c.SectionPath,
				Origin:      gapFillOrigin,
			})
		}
	}
	return out, nil
}

// rankChunksForGap scores every chunk of one document by a 70/30 blend of
// keyword-unit match and embedding similarity, returning the top few in
// descending order with corpus-order tiebreak.
func rankChunksForGap(chunks []graph.TextChunk, queryText string, queryVec []float32, units UnitScorer, limit int) []graph.TextChunk {
	type rated struct {
		chunk graph.TextChunk
		score float64
		order int
	}
	ratings := make([]rated, 0, len(chunks))
	for i, c := range chunks {
		score := gapKeywordWeight * units(queryText, c.Text)
		if len(queryVec) > 0 && len(c.Embedding) > 0 {
			score += gapVectorWeight * graph.Cosine(c.Embedding, queryVec)
		}
		ratings = append(ratings, rated{chunk: c, score: score, order: i})
	}
	sort.Slice(ratings, func(i, j int) bool {
		if ratings[i].score == ratings[j].score {
			return ratings[i].order < ratings[j].order
		}
		return ratings[i].score > ratings[j].score
	})
	if len(ratings) > limit {
		ratings = ratings[:limit]
	}
	out := make([]graph.TextChunk, 0, len(ratings))
	for _, r := range ratings {
		out = append(out, r.chunk)
	}
	return out
}

func bestChunkByEmbedding(chunks []graph.TextChunk, queryVec []float32) (graph.TextChunk, bool) {
	if len(queryVec) == 0 {
		return graph.TextChunk{}, false
	}
	bestIdx := -1
	bestSim := 0.0
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		sim := graph.Cosine(c.Embedding, queryVec)
		if bestIdx < 0 || sim > bestSim {
			bestIdx, bestSim = i, sim
		}
	}
	if bestIdx < 0 {
		return graph.TextChunk{}, false
	}
	return chunks[bestIdx], true
}

// timeUnitGroups are mutually exclusive unit vocabularies. A chunk that
// speaks the query's unit is boosted, one that speaks a different unit of
// the same family is penalized.
var timeUnitGroups = [][]string{
	{"day", "days", "daily"},
	{"week", "weeks", "weekly"},
	{"month", "months", "monthly"},
	{"year", "years", "annual", "annually"},
	{"hour", "hours", "hourly"},
}

// timeUnitScore is the default UnitScorer. It finds which time-unit group
// the query mentions and rates chunks +1 for mentioning the same group,
// -0.5 per foreign group mentioned, 0 when the query names no unit.
func timeUnitScore(queryText, chunkText string) float64 {
	queryLower := strings.ToLower(queryText)
	queryGroup := -1
	for i, group := range timeUnitGroups {
		if mentionsAny(queryLower, group) {
			queryGroup = i
			break
		}
	}
	if queryGroup < 0 {
		return 0
	}

	chunkLower := strings.ToLower(chunkText)
	score := 0.0
	for i, group := range timeUnitGroups {
		if !mentionsAny(chunkLower, group) {
			continue
		}
		if i == queryGroup {
			score += 1.0
		} else {
			score -= 0.5
		}
	}
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	return score
}

func mentionsAny(lower string, words []string) bool {
	for _, w := range words {
		idx := 0
		for {
			rel := strings.Index(lower[idx:], w)
			if rel < 0 {
				break
			}
			start := idx + rel
			end := start + len(w)
			if isWordBoundary(lower, start-1) && isWordBoundary(lower, end) {
				return true
			}
			idx = start + 1
		}
	}
	return false
}

func isWordBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}
