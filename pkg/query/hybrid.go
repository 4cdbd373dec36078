package query

import (
	"context"
	"sort"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/store"
)

const (
	hybridDefaultRRFK      = 60
	hybridDefaultLexicalK  = 20
	hybridDefaultVectorK   = 20
	hybridDefaultMinDocs   = 3
	hybridDefaultPerDocCap = 4
)

// HybridSearcher fuses lexical and vector retrieval over text chunks with
// reciprocal rank fusion, then diversifies the fused list across source
// documents so one long document cannot crowd out short ones.
type HybridSearcher struct {
	Store store.GraphStore

	// LexicalK and VectorK bound the per-backend candidate pools.
	LexicalK int
	VectorK  int

	// RRFK is the reciprocal rank fusion constant.
	RRFK int

	// MinDocuments is the distinct-document floor the diversification
	// pass tries to reach before filling remaining slots by score.
	MinDocuments int

	// PerDocCap limits how many passages a single document may
	// contribute once the document floor is met.
	PerDocCap int
}

type fusedChunk struct {
	chunk     graph.TextChunk
	score     float64
	firstSeen int
}

// Search runs both backends, fuses by RRF score and applies the document
// diversification pass. A failing backend degrades to the other backend's
// results alone unless the store is unreachable, which aborts; queryVec
// may be nil to skip vector retrieval.
func (h *HybridSearcher) Search(ctx context.Context, tenant, queryText string, queryVec []float32, topK int) ([]graph.SourcePassage, error) {
	lexicalK := h.LexicalK
	if lexicalK <= 0 {
		lexicalK = hybridDefaultLexicalK
	}
	vectorK := h.VectorK
	if vectorK <= 0 {
		vectorK = hybridDefaultVectorK
	}
	rrfK := h.RRFK
	if rrfK <= 0 {
		rrfK = hybridDefaultRRFK
	}

	lexical, err := h.Store.SearchChunksLexical(ctx, tenant, queryText, lexicalK)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		logger.Warn("lexical retrieval degraded", "err", err)
		lexical = nil
	}

	var vector []store.ScoredChunk
	if len(queryVec) > 0 {
		vector, err = h.Store.SearchChunksByEmbedding(ctx, tenant, queryVec, vectorK)
		if err != nil {
			if fatal(err) {
				return nil, err
			}
			logger.Warn("vector retrieval degraded", "err", err)
			vector = nil
		}
	}

	fused := fuseRRF(rrfK, lexical, vector)
	fused = h.diversify(fused, topK)

	out := make([]graph.SourcePassage, 0, len(fused))
	for _, f := range fused {
		out = append(out, graph.SourcePassage{
			ChunkID:     f.chunk.ID,
			Text:        f.chunk.Text,
			DocumentID:  f.chunk.DocumentID,
			SectionPath: f.chunk.SectionPath,
			Score:       f.score,
			Origin:      "hybrid_rrf",
		})
	}
	return out, nil
}

// fuseRRF merges the ranked lists by summing 1/(k + rank) per chunk, rank
// counted from 1 within each list. Ties keep first-seen order, lexical
// list first.
func fuseRRF(rrfK int, lists ...[]store.ScoredChunk) []fusedChunk {
	byID := make(map[string]*fusedChunk)
	order := 0
	for _, list := range lists {
		for rank, sc := range list {
			contribution := 1.0 / float64(rrfK+rank+1)
			if existing, ok := byID[sc.Chunk.ID]; ok {
				existing.score += contribution
				continue
			}
			byID[sc.Chunk.ID] = &fusedChunk{chunk: sc.Chunk, score: contribution, firstSeen: order}
			order++
		}
	}

	fused := make([]fusedChunk, 0, len(byID))
	for _, f := range byID {
		fused = append(fused, *f)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score == fused[j].score {
			return fused[i].firstSeen < fused[j].firstSeen
		}
		return fused[i].score > fused[j].score
	})
	return fused
}

// diversify selects up to topK chunks from the fused ranking. First pass
// greedily takes the best unseen chunk per distinct document until the
// document floor is reached; second pass fills remaining slots in fused
// order honoring the per-document cap. Output preserves fused order.
func (h *HybridSearcher) diversify(fused []fusedChunk, topK int) []fusedChunk {
	if topK <= 0 || len(fused) <= 1 {
		if topK > 0 && len(fused) > topK {
			fused = fused[:topK]
		}
		return fused
	}

	minDocs := h.MinDocuments
	if minDocs <= 0 {
		minDocs = hybridDefaultMinDocs
	}
	perDocCap := h.PerDocCap
	if perDocCap <= 0 {
		perDocCap = hybridDefaultPerDocCap
	}

	selected := make(map[string]struct{}, topK)
	perDoc := make(map[string]int)

	// Document floor: best chunk of each distinct document, in fused order.
	for _, f := range fused {
		if len(perDoc) >= minDocs || len(selected) >= topK {
			break
		}
		if perDoc[f.chunk.DocumentID] > 0 {
			continue
		}
		selected[f.chunk.ID] = struct{}{}
		perDoc[f.chunk.DocumentID]++
	}

	// Fill by score under the per-document cap.
	for _, f := range fused {
		if len(selected) >= topK {
			break
		}
		if _, dup := selected[f.chunk.ID]; dup {
			continue
		}
		if perDoc[f.chunk.DocumentID] >= perDocCap {
			continue
		}
		selected[f.chunk.ID] = struct{}{}
		perDoc[f.chunk.DocumentID]++
	}

	out := make([]fusedChunk, 0, len(selected))
	for _, f := range fused {
		if _, ok := selected[f.chunk.ID]; ok {
			out = append(out, f)
		}
	}
	return out
}
