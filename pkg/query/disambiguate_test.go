package query

import (
	"context"
	"errors"
	"testing"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/store/memory"
)

func disambiguationStore() *memory.Store {
	st := memory.NewStore()
	st.AddEntities(testTenant,
		graph.Entity{ID: "acme", Name: "Acme Corp"},
		graph.Entity{ID: "acme-sub", Name: "Acme Corp Holding Subsidiary"},
		graph.Entity{ID: "globex", Name: "Globex", Embedding: []float32{0, 1, 0}},
	)
	return st
}

func TestDisambiguate_ResolutionCascade(t *testing.T) {
	st := disambiguationStore()
	model := &fakeAI{
		completionFn: func(prompt string) (string, error) {
			return "- Acme Corp\n- \"Acme\"\n- Globey", nil
		},
		embedFn: func(input []byte) ([]float32, error) {
			return []float32{0, 1, 0}, nil
		},
	}

	d := &Disambiguator{Store: st, AI: model}
	seeds, err := d.Disambiguate(context.Background(), testTenant, "What do Acme and Globey owe?", 5)
	if err != nil {
		t.Fatalf("Disambiguate failed: %v", err)
	}
	if len(seeds) != 3 {
		t.Fatalf("got %d seeds, want 3: %+v", len(seeds), seeds)
	}

	// Exact case-insensitive match.
	if seeds[0].ResolvedID != "acme" || seeds[0].Strategy != resolveExact {
		t.Errorf("seed 0 = %+v, want exact match on acme", seeds[0])
	}

	// Substring match after quote stripping, preferring the shortest name.
	if seeds[1].ResolvedID != "acme" || seeds[1].Strategy != resolveSubstring {
		t.Errorf("seed 1 = %+v, want shortest substring match on acme", seeds[1])
	}

	// Vector nearest neighbor for the misspelled name.
	if seeds[2].ResolvedID != "globex" || seeds[2].Strategy != resolveVector {
		t.Errorf("seed 2 = %+v, want vector match on globex", seeds[2])
	}
}

func TestDisambiguate_ModelFailureYieldsEmptySet(t *testing.T) {
	model := &fakeAI{
		completionFn: func(prompt string) (string, error) {
			return "", errors.New("model unavailable")
		},
	}

	d := &Disambiguator{Store: disambiguationStore(), AI: model}
	seeds, err := d.Disambiguate(context.Background(), testTenant, "anything", 5)
	if err != nil {
		t.Fatalf("Disambiguate failed: %v", err)
	}
	if len(seeds) != 0 {
		t.Errorf("got %d seeds after model failure, want 0", len(seeds))
	}
}

func TestDisambiguate_UnresolvableNamesDropped(t *testing.T) {
	model := &fakeAI{
		completionFn: func(prompt string) (string, error) {
			return "- Completely Unknown Entity", nil
		},
		embedFn: func(input []byte) ([]float32, error) {
			return nil, errors.New("no embedding backend")
		},
	}

	d := &Disambiguator{Store: disambiguationStore(), AI: model}
	seeds, err := d.Disambiguate(context.Background(), testTenant, "anything", 5)
	if err != nil {
		t.Fatalf("Disambiguate failed: %v", err)
	}
	for _, s := range seeds {
		if s.ResolvedID == "" {
			t.Errorf("unresolved seed %+v returned, want it dropped", s)
		}
	}
}
