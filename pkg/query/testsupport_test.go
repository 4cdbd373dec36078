package query

import (
	"context"
	"errors"

	"github.com/murre-ai/murre/pkg/ai"
	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/store"
	"github.com/murre-ai/murre/pkg/store/memory"
)

const testTenant = "tenant-1"

// fakeAI is a scripted ai.Client. Every response can be customized per
// test and every call is counted so tests can assert the model was, or was
// not, invoked.
type fakeAI struct {
	completionFn func(prompt string) (string, error)
	formatFn     func(prompt string, out any) error
	embedFn      func(input []byte) ([]float32, error)

	completionCalls int
	formatCalls     int
	embedCalls      int
}

func (f *fakeAI) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	f.completionCalls++
	if f.completionFn == nil {
		return "", errors.New("no completion scripted")
	}
	return f.completionFn(prompt)
}

func (f *fakeAI) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	f.formatCalls++
	if f.formatFn == nil {
		return errors.New("no format completion scripted")
	}
	return f.formatFn(prompt, out)
}

func (f *fakeAI) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	f.embedCalls++
	if f.embedFn == nil {
		return nil, errors.New("no embedding scripted")
	}
	return f.embedFn(input)
}

// unreachableStore fails every call the way the pgx adapter reports a
// store it cannot reach at all.
type unreachableStore struct{}

func (unreachableStore) GetEntitiesByNames(ctx context.Context, tenant string, names []string) ([]graph.Entity, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) GetEntitiesByIDs(ctx context.Context, tenant string, ids []string) ([]graph.Entity, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) ListEntityNames(ctx context.Context, tenant string) ([]string, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) SearchEntitiesByEmbedding(ctx context.Context, tenant string, embedding []float32, k int) ([]graph.Entity, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) GetNeighbors(ctx context.Context, tenant, entityID string, limit int, excludeTypes []string) ([]store.Neighbor, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) GetSubgraph(ctx context.Context, tenant string) ([]graph.Entity, []graph.Relationship, error) {
	return nil, nil, store.ErrUnavailable
}

func (unreachableStore) GetEntityMentions(ctx context.Context, tenant string) ([]store.EntityMention, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) SearchChunksLexical(ctx context.Context, tenant, query string, k int) ([]store.ScoredChunk, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) SearchChunksByEmbedding(ctx context.Context, tenant string, embedding []float32, k int) ([]store.ScoredChunk, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) GetChunksMentioningEntities(ctx context.Context, tenant string, entityIDs []string, limit int) ([]store.ScoredChunk, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) ListDocuments(ctx context.Context, tenant string) ([]graph.Document, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) GetChunksByDocument(ctx context.Context, tenant, documentID string) ([]graph.TextChunk, error) {
	return nil, store.ErrUnavailable
}

func (unreachableStore) ListCommunities(ctx context.Context, tenant string) ([]graph.Community, error) {
	return nil, store.ErrUnavailable
}

// seedOf builds a resolved seed for tests.
func seedOf(name, id string) graph.SeedEntity {
	return graph.SeedEntity{RawName: name, ResolvedID: id, Strategy: resolveExact}
}

// chainStore builds a graph of the shape s1 - a - b - c with an extra
// direct edge s1 - b, so b is reachable at both one and two hops.
func chainStore() *memory.Store {
	st := memory.NewStore()
	st.AddEntities(testTenant,
		graph.Entity{ID: "s1", Name: "Seed One"},
		graph.Entity{ID: "a", Name: "Alpha"},
		graph.Entity{ID: "b", Name: "Beta"},
		graph.Entity{ID: "c", Name: "Gamma"},
	)
	st.AddRelationships(testTenant,
		graph.Relationship{ID: "r1", SourceID: "s1", TargetID: "a", Type: "supplies", Weight: 1},
		graph.Relationship{ID: "r2", SourceID: "a", TargetID: "b", Type: "owns", Weight: 1},
		graph.Relationship{ID: "r3", SourceID: "s1", TargetID: "b", Type: "supplies", Weight: 1},
		graph.Relationship{ID: "r4", SourceID: "b", TargetID: "c", Type: "owns", Weight: 1},
	)
	return st
}

func scoredChunk(id, doc, text string, score float64) store.ScoredChunk {
	return store.ScoredChunk{
		Chunk: graph.TextChunk{ID: id, DocumentID: doc, Text: text},
		Score: score,
	}
}

func evidenceByID(nodes []graph.EvidenceNode) map[string]graph.EvidenceNode {
	out := make(map[string]graph.EvidenceNode, len(nodes))
	for _, n := range nodes {
		out[n.EntityID] = n
	}
	return out
}
