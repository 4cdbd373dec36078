package query

import (
	"context"
	"testing"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/store/memory"
)

func TestBoundedHopTracer_ScoreMonotonicity(t *testing.T) {
	tracer := &BoundedHopTracer{Store: chainStore()}

	nodes, err := tracer.Trace(context.Background(), testTenant, []graph.SeedEntity{seedOf("Seed One", "s1")}, nil, 10)
	if err != nil {
		t.Fatalf("Trace() error = %v", err)
	}

	byID := evidenceByID(nodes)
	if got := byID["s1"].Score; got != hopSeedScore {
		t.Errorf("seed score = %v, want %v", got, hopSeedScore)
	}
	if got := byID["a"].Score; got != hopOneScore {
		t.Errorf("one-hop score = %v, want %v", got, hopOneScore)
	}
	if got := byID["c"].Score; got != hopTwoScore {
		t.Errorf("two-hop score = %v, want %v", got, hopTwoScore)
	}

	// b is a direct neighbor of the seed and also reachable through a.
	// It must keep the maximum path score, not a sum or average.
	if got := byID["b"].Score; got != hopOneScore {
		t.Errorf("multi-path score = %v, want max path %v", got, hopOneScore)
	}

	for i := 1; i < len(nodes); i++ {
		if nodes[i].Score > nodes[i-1].Score {
			t.Fatalf("ranking not monotonic at %d: %v > %v", i, nodes[i].Score, nodes[i-1].Score)
		}
	}
}

func TestBoundedHopTracer_NoResolvedSeeds(t *testing.T) {
	tracer := &BoundedHopTracer{Store: chainStore()}

	nodes, err := tracer.Trace(context.Background(), testTenant, []graph.SeedEntity{{RawName: "unresolved"}}, nil, 10)
	if err != nil {
		t.Fatalf("Trace() error = %v", err)
	}
	if len(nodes) != 0 {
		t.Errorf("Trace() with no resolved seeds = %d nodes, want 0", len(nodes))
	}
}

func TestQueryBiasedTracer_AlignedSeedDominates(t *testing.T) {
	st := chainStore()
	st.AddEntities(testTenant,
		graph.Entity{ID: "s2", Name: "Seed Two", Embedding: []float32{0, 1, 0}},
	)
	// Give s1 an embedding aligned with the query vector.
	st.AddEntities(testTenant,
		graph.Entity{ID: "s1", Name: "Seed One", Embedding: []float32{1, 0, 0}},
	)

	tracer := &QueryBiasedTracer{Store: st}
	seeds := []graph.SeedEntity{seedOf("Seed One", "s1"), seedOf("Seed Two", "s2")}

	nodes, err := tracer.Trace(context.Background(), testTenant, seeds, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Trace() error = %v", err)
	}

	byID := evidenceByID(nodes)
	if byID["s1"].Score <= byID["s2"].Score {
		t.Errorf("aligned seed score %v should exceed orthogonal seed score %v", byID["s1"].Score, byID["s2"].Score)
	}
}

func TestRerankedTracer_TruncatesAndRescores(t *testing.T) {
	st := chainStore()
	st.AddEntities(testTenant,
		graph.Entity{ID: "a", Name: "Alpha", Embedding: []float32{1, 0, 0}},
		graph.Entity{ID: "b", Name: "Beta", Embedding: []float32{0, 1, 0}},
	)

	tracer := &RerankedTracer{Base: &BoundedHopTracer{Store: st}, Store: st}
	seeds := []graph.SeedEntity{seedOf("Seed One", "s1")}

	nodes, err := tracer.Trace(context.Background(), testTenant, seeds, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Trace() error = %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("Trace() returned %d nodes, want 2", len(nodes))
	}

	// Alpha's embedding matches the query exactly, Beta's is orthogonal,
	// so Alpha must outrank Beta despite equal base scores.
	byID := evidenceByID(nodes)
	alpha, hasAlpha := byID["a"]
	if !hasAlpha {
		t.Fatal("aligned entity dropped by rerank")
	}
	if beta, ok := byID["b"]; ok && beta.Score >= alpha.Score {
		t.Errorf("orthogonal entity score %v should be below aligned score %v", beta.Score, alpha.Score)
	}
}

func TestMatrixPPRTracer_Determinism(t *testing.T) {
	st := chainStore()
	tracer := &MatrixPPRTracer{Store: st, Cache: NewCache()}
	seeds := []graph.SeedEntity{seedOf("Seed One", "s1")}

	first, err := tracer.Trace(context.Background(), testTenant, seeds, nil, 10)
	if err != nil {
		t.Fatalf("Trace() error = %v", err)
	}
	if len(first) == 0 {
		t.Fatal("Trace() returned no evidence")
	}

	for run := 0; run < 3; run++ {
		again, err := tracer.Trace(context.Background(), testTenant, seeds, nil, 10)
		if err != nil {
			t.Fatalf("Trace() run %d error = %v", run, err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d returned %d nodes, want %d", run, len(again), len(first))
		}
		for i := range first {
			if again[i].EntityID != first[i].EntityID || again[i].Score != first[i].Score {
				t.Fatalf("run %d diverged at %d: got (%s, %v), want (%s, %v)",
					run, i, again[i].EntityID, again[i].Score, first[i].EntityID, first[i].Score)
			}
		}
	}
}

func TestMatrixPPRTracer_DeterminismWithFractionalWeights(t *testing.T) {
	// Fractional weights make the stationary distribution sensitive to
	// float accumulation order; weight-1 edges would mask any drift.
	st := memory.NewStore()
	st.AddEntities(testTenant,
		graph.Entity{ID: "s", Name: "Seed"},
		graph.Entity{ID: "a", Name: "Alpha"},
		graph.Entity{ID: "b", Name: "Beta"},
		graph.Entity{ID: "c", Name: "Gamma"},
		graph.Entity{ID: "d", Name: "Delta"},
	)
	st.AddRelationships(testTenant,
		graph.Relationship{ID: "r1", SourceID: "s", TargetID: "a", Type: "supplies", Weight: 0.1},
		graph.Relationship{ID: "r2", SourceID: "s", TargetID: "b", Type: "supplies", Weight: 0.2},
		graph.Relationship{ID: "r3", SourceID: "s", TargetID: "c", Type: "supplies", Weight: 0.3},
		graph.Relationship{ID: "r4", SourceID: "a", TargetID: "b", Type: "owns", Weight: 0.3},
		graph.Relationship{ID: "r5", SourceID: "b", TargetID: "c", Type: "owns", Weight: 0.2},
		graph.Relationship{ID: "r6", SourceID: "c", TargetID: "d", Type: "owns", Weight: 0.1},
	)

	tracer := &MatrixPPRTracer{Store: st, Cache: NewCache()}
	seeds := []graph.SeedEntity{seedOf("Seed", "s")}

	first, err := tracer.Trace(context.Background(), testTenant, seeds, nil, 10)
	if err != nil {
		t.Fatalf("Trace() error = %v", err)
	}
	if len(first) == 0 {
		t.Fatal("Trace() returned no evidence")
	}

	for run := 0; run < 200; run++ {
		again, err := tracer.Trace(context.Background(), testTenant, seeds, nil, 10)
		if err != nil {
			t.Fatalf("Trace() run %d error = %v", run, err)
		}
		if len(again) != len(first) {
			t.Fatalf("run %d returned %d nodes, want %d", run, len(again), len(first))
		}
		for i := range first {
			if again[i].EntityID != first[i].EntityID || again[i].Score != first[i].Score {
				t.Fatalf("run %d diverged at %d: got (%s, %.20f), want (%s, %.20f)",
					run, i, again[i].EntityID, again[i].Score, first[i].EntityID, first[i].Score)
			}
		}
	}
}

func TestMatrixPPRTracer_SeedBias(t *testing.T) {
	tracer := &MatrixPPRTracer{Store: chainStore(), Cache: NewCache()}

	nodes, err := tracer.Trace(context.Background(), testTenant, []graph.SeedEntity{seedOf("Seed One", "s1")}, nil, 10)
	if err != nil {
		t.Fatalf("Trace() error = %v", err)
	}
	if len(nodes) == 0 || nodes[0].EntityID != "s1" {
		t.Errorf("seed should carry the highest stationary probability, got top %+v", nodes)
	}
}

func TestSemanticBeamTracer_FollowsQueryVector(t *testing.T) {
	st := chainStore()
	st.AddEntities(testTenant,
		graph.Entity{ID: "a", Name: "Alpha", Embedding: []float32{1, 0, 0}},
		graph.Entity{ID: "b", Name: "Beta", Embedding: []float32{0, 1, 0}},
	)

	tracer := &SemanticBeamTracer{Store: st, MaxHops: 1, BeamWidth: 1}
	nodes, err := tracer.Trace(context.Background(), testTenant, []graph.SeedEntity{seedOf("Seed One", "s1")}, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Trace() error = %v", err)
	}

	byID := evidenceByID(nodes)
	if _, ok := byID["a"]; !ok {
		t.Error("beam should keep the neighbor aligned with the query vector")
	}
	if _, ok := byID["b"]; ok {
		t.Error("beam width 1 should prune the orthogonal neighbor")
	}
}
