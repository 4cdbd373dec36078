package store

import (
	"context"
	"errors"

	"github.com/murre-ai/murre/pkg/graph"
)

// ErrUnavailable indicates the graph store cannot be reached at all.
// Unlike per-stage query failures, which the engine degrades around, this
// error is fatal to the query.
var ErrUnavailable = errors.New("graph store unavailable")

// ScoredChunk is a text chunk together with the retrieval score that
// selected it. Higher is better regardless of the backing index.
type ScoredChunk struct {
	Chunk graph.TextChunk
	Score float64
}

// Neighbor is an entity adjacent to an expansion origin, together with the
// connecting relationship and the neighbor's degree in the graph.
type Neighbor struct {
	Entity       graph.Entity
	Relationship graph.Relationship
	Degree       int
}

// EntityMention records that an entity is mentioned by a chunk. Mentions
// are the raw material for section co-occurrence, hub association, and
// cross-document sharing signals.
type EntityMention struct {
	EntityID    string
	ChunkID     string
	DocumentID  string
	SectionPath string
}

// GraphStore exposes the read-only query primitives the engine needs over
// entities, relationships, communities, chunks, and documents. Every call
// is filtered by the tenant identifier; implementations must never return
// rows belonging to another tenant.
//
// The engine holds no write path: ingestion owns all mutation.
type GraphStore interface {
	// GetEntitiesByNames returns entities whose name matches any of the
	// given names case-insensitively.
	GetEntitiesByNames(ctx context.Context, tenant string, names []string) ([]graph.Entity, error)

	// GetEntitiesByIDs returns the entities for the given ids, in the
	// order the ids were supplied. Unknown ids are skipped.
	GetEntitiesByIDs(ctx context.Context, tenant string, ids []string) ([]graph.Entity, error)

	// ListEntityNames returns all entity names for the tenant, sorted.
	ListEntityNames(ctx context.Context, tenant string) ([]string, error)

	// SearchEntitiesByEmbedding returns the k entities nearest to the
	// query vector, best first.
	SearchEntitiesByEmbedding(ctx context.Context, tenant string, embedding []float32, k int) ([]graph.Entity, error)

	// GetNeighbors returns up to limit neighbors of the entity, ordered
	// by descending degree, then by entity id. Relationships whose type
	// is listed in excludeTypes are not traversed.
	GetNeighbors(ctx context.Context, tenant, entityID string, limit int, excludeTypes []string) ([]Neighbor, error)

	// GetSubgraph returns every entity and relationship for the tenant.
	// Used by the matrix tracing strategy.
	GetSubgraph(ctx context.Context, tenant string) ([]graph.Entity, []graph.Relationship, error)

	// GetEntityMentions returns every entity/chunk mention pair for the
	// tenant.
	GetEntityMentions(ctx context.Context, tenant string) ([]EntityMention, error)

	// SearchChunksLexical runs full-text retrieval over chunk text.
	SearchChunksLexical(ctx context.Context, tenant, query string, k int) ([]ScoredChunk, error)

	// SearchChunksByEmbedding runs vector retrieval over chunk embeddings.
	SearchChunksByEmbedding(ctx context.Context, tenant string, embedding []float32, k int) ([]ScoredChunk, error)

	// GetChunksMentioningEntities returns up to limit chunks that mention
	// any of the given entities, ranked by how many of them each chunk
	// mentions.
	GetChunksMentioningEntities(ctx context.Context, tenant string, entityIDs []string, limit int) ([]ScoredChunk, error)

	// ListDocuments returns every document for the tenant, sorted by id.
	ListDocuments(ctx context.Context, tenant string) ([]graph.Document, error)

	// GetChunksByDocument returns every chunk of the document in corpus
	// order (section path, then chunk id).
	GetChunksByDocument(ctx context.Context, tenant, documentID string) ([]graph.TextChunk, error)

	// ListCommunities returns every community for the tenant, sorted by
	// descending rank.
	ListCommunities(ctx context.Context, tenant string) ([]graph.Community, error)
}
