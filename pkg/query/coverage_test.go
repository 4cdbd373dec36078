package query

import (
	"context"
	"testing"

	"github.com/murre-ai/murre/pkg/graph"
)

func TestGapFill_FiveDocumentCorpus(t *testing.T) {
	st := chainStore()
	docs := make([]graph.Document, 0, 5)
	for _, id := range []string{"d1", "d2", "d3", "d4", "d5"} {
		doc := graph.Document{ID: id, Title: "Doc " + id}
		docs = append(docs, doc)
		st.AddDocuments(testTenant, doc)
		st.AddChunks(testTenant,
			graph.TextChunk{ID: id + "-c1", DocumentID: id, SectionPath: "1", Text: "first section of " + id},
			graph.TextChunk{ID: id + "-c2", DocumentID: id, SectionPath: "2", Text: "second section of " + id},
		)
	}

	// Retrieval covered three of the five documents.
	evidence := []graph.SourcePassage{
		{ChunkID: "d1-c1", DocumentID: "d1"},
		{ChunkID: "d2-c1", DocumentID: "d2"},
		{ChunkID: "d3-c1", DocumentID: "d3"},
	}

	g := &GapFiller{Store: st}
	extra, err := g.Fill(context.Background(), testTenant, evidence, docs, "what are the payment terms", nil)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}

	covered := make(map[string]bool)
	seen := make(map[string]bool)
	for _, p := range evidence {
		seen[p.ChunkID] = true
	}
	for _, p := range extra {
		covered[p.DocumentID] = true
		if seen[p.ChunkID] {
			t.Errorf("gap fill duplicated chunk %s", p.ChunkID)
		}
		seen[p.ChunkID] = true
		if p.Origin != gapFillOrigin {
			t.Errorf("origin = %s, want %s", p.Origin, gapFillOrigin)
		}
	}

	for _, doc := range []string{"d4", "d5"} {
		if !covered[doc] {
			t.Errorf("uncovered document %s received no passage", doc)
		}
	}
	for _, doc := range []string{"d1", "d2", "d3"} {
		if covered[doc] {
			t.Errorf("already-covered document %s received a supplement", doc)
		}
	}
}

func TestGapFill_FullCoverageIsNoop(t *testing.T) {
	st := chainStore()
	doc := graph.Document{ID: "d1", Title: "Doc"}
	st.AddDocuments(testTenant, doc)
	st.AddChunks(testTenant, graph.TextChunk{ID: "c1", DocumentID: "d1", Text: "text"})

	g := &GapFiller{Store: st}
	extra, err := g.Fill(context.Background(), testTenant, []graph.SourcePassage{{ChunkID: "c1", DocumentID: "d1"}}, []graph.Document{doc}, "anything", nil)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if len(extra) != 0 {
		t.Errorf("Fill() on full coverage = %d passages, want 0", len(extra))
	}
}

func TestGapFill_ExhaustiveQueryPrefersMatchingUnit(t *testing.T) {
	st := chainStore()
	doc := graph.Document{ID: "d1", Title: "Agreement"}
	st.AddDocuments(testTenant, doc)
	st.AddChunks(testTenant,
		graph.TextChunk{ID: "c-months", DocumentID: "d1", SectionPath: "1", Text: "notice period of three months"},
		graph.TextChunk{ID: "c-days", DocumentID: "d1", SectionPath: "2", Text: "payment due within 30 days"},
	)

	g := &GapFiller{Store: st}
	extra, err := g.Fill(context.Background(), testTenant, nil, []graph.Document{doc}, "compare the day-based deadlines across all agreements", nil)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if len(extra) == 0 {
		t.Fatal("Fill() returned no passages for exhaustive query")
	}
	if extra[0].ChunkID != "c-days" {
		t.Errorf("top supplement = %s, want the day-unit chunk", extra[0].ChunkID)
	}
}

func TestTimeUnitScore(t *testing.T) {
	tests := []struct {
		name  string
		query string
		chunk string
		want  float64
	}{
		{"same unit", "how many days of notice", "within 30 days", 1},
		{"different unit", "how many days of notice", "within three months", -0.5},
		{"mixed units", "how many days of notice", "30 days or two months", 0.5},
		{"no unit in query", "what is the total", "within 30 days", 0},
		{"no unit in chunk", "how many days", "the total amount", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := timeUnitScore(tc.query, tc.chunk); got != tc.want {
				t.Errorf("timeUnitScore(%q, %q) = %v, want %v", tc.query, tc.chunk, got, tc.want)
			}
		})
	}
}
