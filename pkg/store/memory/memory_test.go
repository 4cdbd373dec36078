package memory

import (
	"context"
	"testing"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/store"
)

func fixtureStore() *Store {
	s := NewStore()
	s.AddEntities("t1",
		graph.Entity{ID: "hub", Name: "Hub"},
		graph.Entity{ID: "a", Name: "Alpha"},
		graph.Entity{ID: "b", Name: "Beta"},
		graph.Entity{ID: "c", Name: "Gamma"},
	)
	s.AddRelationships("t1",
		graph.Relationship{ID: "r1", SourceID: "hub", TargetID: "a", Type: "owns"},
		graph.Relationship{ID: "r2", SourceID: "hub", TargetID: "b", Type: "owns"},
		graph.Relationship{ID: "r3", SourceID: "a", TargetID: "b", Type: "supplies"},
		graph.Relationship{ID: "r4", SourceID: "hub", TargetID: "c", Type: "co_occurrence"},
	)
	return s
}

func TestGetNeighbors_OrderedByDegree(t *testing.T) {
	s := fixtureStore()

	neighbors, err := s.GetNeighbors(context.Background(), "t1", "hub", 0, nil)
	if err != nil {
		t.Fatalf("GetNeighbors() error = %v", err)
	}
	if len(neighbors) != 3 {
		t.Fatalf("got %d neighbors, want 3", len(neighbors))
	}

	for i := 1; i < len(neighbors); i++ {
		prev, cur := neighbors[i-1], neighbors[i]
		if cur.Degree > prev.Degree {
			t.Fatalf("neighbors not ordered by degree: %d after %d", cur.Degree, prev.Degree)
		}
		if cur.Degree == prev.Degree && cur.Entity.ID < prev.Entity.ID {
			t.Fatalf("degree tie not broken by id: %s after %s", cur.Entity.ID, prev.Entity.ID)
		}
	}
}

func TestGetNeighbors_ExcludesEdgeTypes(t *testing.T) {
	s := fixtureStore()

	neighbors, err := s.GetNeighbors(context.Background(), "t1", "hub", 0, []string{"co_occurrence"})
	if err != nil {
		t.Fatalf("GetNeighbors() error = %v", err)
	}
	for _, n := range neighbors {
		if n.Entity.ID == "c" {
			t.Error("excluded edge type was traversed")
		}
	}
}

func TestTenantIsolation(t *testing.T) {
	s := fixtureStore()
	s.AddEntities("t2", graph.Entity{ID: "other", Name: "Other"})

	names, err := s.ListEntityNames(context.Background(), "t2")
	if err != nil {
		t.Fatalf("ListEntityNames() error = %v", err)
	}
	if len(names) != 1 || names[0] != "Other" {
		t.Errorf("tenant t2 sees %v, want only its own entity", names)
	}

	neighbors, err := s.GetNeighbors(context.Background(), "t2", "hub", 0, nil)
	if err != nil {
		t.Fatalf("GetNeighbors() error = %v", err)
	}
	if len(neighbors) != 0 {
		t.Errorf("tenant t2 sees %d neighbors of t1's graph", len(neighbors))
	}
}

func TestUnknownTenantSeesEmptyGraph(t *testing.T) {
	s := NewStore()
	entities, relationships, err := s.GetSubgraph(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetSubgraph() error = %v", err)
	}
	if len(entities) != 0 || len(relationships) != 0 {
		t.Error("unknown tenant should see an empty graph")
	}
}

func TestSearchChunksLexical_RanksByTermOverlap(t *testing.T) {
	s := NewStore()
	s.AddChunks("t1",
		graph.TextChunk{ID: "both", DocumentID: "d1", Text: "invoice total and payment schedule"},
		graph.TextChunk{ID: "one", DocumentID: "d1", Text: "the invoice references an older order"},
		graph.TextChunk{ID: "none", DocumentID: "d1", Text: "unrelated appendix"},
	)

	chunks, err := s.SearchChunksLexical(context.Background(), "t1", "invoice total", 10)
	if err != nil {
		t.Fatalf("SearchChunksLexical() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (no-match chunk excluded)", len(chunks))
	}
	if chunks[0].Chunk.ID != "both" {
		t.Errorf("top chunk = %s, want the two-term match", chunks[0].Chunk.ID)
	}
}

func TestGetChunksMentioningEntities_RanksByDistinctMentions(t *testing.T) {
	s := fixtureStore()
	s.AddChunks("t1",
		graph.TextChunk{ID: "c1", DocumentID: "d1", Text: "one"},
		graph.TextChunk{ID: "c2", DocumentID: "d1", Text: "two"},
	)
	s.AddMentions("t1",
		store.EntityMention{EntityID: "hub", ChunkID: "c1", DocumentID: "d1"},
		store.EntityMention{EntityID: "a", ChunkID: "c1", DocumentID: "d1"},
		store.EntityMention{EntityID: "hub", ChunkID: "c2", DocumentID: "d1"},
	)

	chunks, err := s.GetChunksMentioningEntities(context.Background(), "t1", []string{"hub", "a"}, 10)
	if err != nil {
		t.Fatalf("GetChunksMentioningEntities() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Chunk.ID != "c1" || chunks[0].Score != 2 {
		t.Errorf("top chunk = %s score %v, want c1 mentioning both entities", chunks[0].Chunk.ID, chunks[0].Score)
	}
}

func TestGetChunksByDocument_CorpusOrder(t *testing.T) {
	s := NewStore()
	s.AddChunks("t1",
		graph.TextChunk{ID: "z", DocumentID: "d1", SectionPath: "1.intro"},
		graph.TextChunk{ID: "a", DocumentID: "d1", SectionPath: "2.terms"},
		graph.TextChunk{ID: "m", DocumentID: "d2", SectionPath: "1"},
	)

	chunks, err := s.GetChunksByDocument(context.Background(), "t1", "d1")
	if err != nil {
		t.Fatalf("GetChunksByDocument() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].ID != "z" || chunks[1].ID != "a" {
		t.Errorf("order = [%s %s], want section order [z a]", chunks[0].ID, chunks[1].ID)
	}
}
