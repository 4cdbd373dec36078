// Package memory provides an in-memory GraphStore implementation. It backs
// the engine's tests and small embedded deployments where a Postgres
// instance is not available. All query methods order their results
// deterministically so repeated runs against an unchanged graph are
// reproducible.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/store"
)

type tenantData struct {
	entities      map[string]graph.Entity
	relationships []graph.Relationship
	communities   []graph.Community
	chunks        map[string]graph.TextChunk
	documents     map[string]graph.Document
	mentions      []store.EntityMention
}

// Store is an in-memory graph store. The zero value is not usable; create
// one with NewStore. Loading fixture data is done through the Add* methods;
// the query engine itself never mutates the store.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantData
}

// NewStore creates an empty in-memory graph store.
func NewStore() *Store {
	return &Store{tenants: make(map[string]*tenantData)}
}

var emptyTenant = &tenantData{}

// tenant returns the tenant's data, creating it if absent. Callers must
// hold the write lock.
func (s *Store) tenant(id string) *tenantData {
	td, ok := s.tenants[id]
	if !ok {
		td = &tenantData{
			entities:  make(map[string]graph.Entity),
			chunks:    make(map[string]graph.TextChunk),
			documents: make(map[string]graph.Document),
		}
		s.tenants[id] = td
	}
	return td
}

// view returns the tenant's data without creating it, so read paths stay
// safe under the read lock. Unknown tenants see an empty graph.
func (s *Store) view(id string) *tenantData {
	if td, ok := s.tenants[id]; ok {
		return td
	}
	return emptyTenant
}

// AddEntities loads entities into the tenant's graph.
func (s *Store) AddEntities(tenant string, entities ...graph.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(tenant)
	for _, e := range entities {
		e.TenantID = tenant
		td.entities[e.ID] = e
	}
}

// AddRelationships loads relationships into the tenant's graph.
func (s *Store) AddRelationships(tenant string, relationships ...graph.Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(tenant)
	td.relationships = append(td.relationships, relationships...)
}

// AddCommunities loads communities into the tenant's graph.
func (s *Store) AddCommunities(tenant string, communities ...graph.Community) {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(tenant)
	td.communities = append(td.communities, communities...)
}

// AddDocuments loads documents into the tenant's corpus.
func (s *Store) AddDocuments(tenant string, documents ...graph.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(tenant)
	for _, d := range documents {
		td.documents[d.ID] = d
	}
}

// AddChunks loads text chunks into the tenant's corpus.
func (s *Store) AddChunks(tenant string, chunks ...graph.TextChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(tenant)
	for _, c := range chunks {
		td.chunks[c.ID] = c
	}
}

// AddMentions loads entity/chunk mention pairs into the tenant's graph.
func (s *Store) AddMentions(tenant string, mentions ...store.EntityMention) {
	s.mu.Lock()
	defer s.mu.Unlock()
	td := s.tenant(tenant)
	td.mentions = append(td.mentions, mentions...)
}

// GetEntitiesByNames returns entities whose name matches any of the given
// names case-insensitively, in name-sorted order.
func (s *Store) GetEntitiesByNames(ctx context.Context, tenant string, names []string) ([]graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = struct{}{}
	}

	out := make([]graph.Entity, 0)
	for _, e := range s.view(tenant).entities {
		if _, ok := wanted[strings.ToLower(e.Name)]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetEntitiesByIDs returns the entities for the given ids in supply order.
func (s *Store) GetEntitiesByIDs(ctx context.Context, tenant string, ids []string) ([]graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	td := s.view(tenant)
	out := make([]graph.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := td.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListEntityNames returns all entity names for the tenant, sorted.
func (s *Store) ListEntityNames(ctx context.Context, tenant string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	td := s.view(tenant)
	out := make([]string, 0, len(td.entities))
	for _, e := range td.entities {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out, nil
}

// SearchEntitiesByEmbedding returns the k entities nearest to the query
// vector by cosine similarity, best first, ties broken by entity id.
func (s *Store) SearchEntitiesByEmbedding(ctx context.Context, tenant string, embedding []float32, k int) ([]graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		entity graph.Entity
		score  float64
	}

	candidates := make([]scored, 0)
	for _, e := range s.view(tenant).entities {
		if len(e.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{entity: e, score: graph.Cosine(e.Embedding, embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].entity.ID < candidates[j].entity.ID
		}
		return candidates[i].score > candidates[j].score
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]graph.Entity, 0, k)
	for _, c := range candidates[:k] {
		out = append(out, c.entity)
	}
	return out, nil
}

func (s *Store) degrees(td *tenantData) map[string]int {
	deg := make(map[string]int, len(td.entities))
	for _, r := range td.relationships {
		deg[r.SourceID]++
		deg[r.TargetID]++
	}
	return deg
}

// GetNeighbors returns up to limit neighbors of the entity, ordered by
// descending degree, then by entity id.
func (s *Store) GetNeighbors(ctx context.Context, tenant, entityID string, limit int, excludeTypes []string) ([]store.Neighbor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	td := s.view(tenant)
	excluded := make(map[string]struct{}, len(excludeTypes))
	for _, t := range excludeTypes {
		excluded[t] = struct{}{}
	}

	deg := s.degrees(td)
	out := make([]store.Neighbor, 0)
	for _, r := range td.relationships {
		if _, skip := excluded[r.Type]; skip {
			continue
		}
		var otherID string
		switch entityID {
		case r.SourceID:
			otherID = r.TargetID
		case r.TargetID:
			otherID = r.SourceID
		default:
			continue
		}
		other, ok := td.entities[otherID]
		if !ok {
			continue
		}
		out = append(out, store.Neighbor{
			Entity:       other,
			Relationship: r,
			Degree:       deg[otherID],
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Degree == out[j].Degree {
			return out[i].Entity.ID < out[j].Entity.ID
		}
		return out[i].Degree > out[j].Degree
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetSubgraph returns every entity and relationship for the tenant, sorted
// by id.
func (s *Store) GetSubgraph(ctx context.Context, tenant string) ([]graph.Entity, []graph.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	td := s.view(tenant)
	entities := make([]graph.Entity, 0, len(td.entities))
	for _, e := range td.entities {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	relationships := make([]graph.Relationship, len(td.relationships))
	copy(relationships, td.relationships)
	sort.Slice(relationships, func(i, j int) bool { return relationships[i].ID < relationships[j].ID })

	return entities, relationships, nil
}

// GetEntityMentions returns every mention pair for the tenant.
func (s *Store) GetEntityMentions(ctx context.Context, tenant string) ([]store.EntityMention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	td := s.view(tenant)
	out := make([]store.EntityMention, len(td.mentions))
	copy(out, td.mentions)
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID == out[j].EntityID {
			return out[i].ChunkID < out[j].ChunkID
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

// SearchChunksLexical scores chunks by how many distinct query terms they
// contain. Chunks matching no term are excluded.
func (s *Store) SearchChunksLexical(ctx context.Context, tenant, query string, k int) ([]store.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	out := make([]store.ScoredChunk, 0)
	for _, c := range s.view(tenant).chunks {
		text := strings.ToLower(c.Text)
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		out = append(out, store.ScoredChunk{
			Chunk: c,
			Score: float64(matched) / float64(len(terms)),
		})
	}

	sortScoredChunks(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// SearchChunksByEmbedding returns the k chunks nearest to the query vector
// by cosine similarity.
func (s *Store) SearchChunksByEmbedding(ctx context.Context, tenant string, embedding []float32, k int) ([]store.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.ScoredChunk, 0)
	for _, c := range s.view(tenant).chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		out = append(out, store.ScoredChunk{
			Chunk: c,
			Score: graph.Cosine(c.Embedding, embedding),
		})
	}

	sortScoredChunks(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// GetChunksMentioningEntities returns up to limit chunks mentioning any of
// the given entities, ranked by how many of them each chunk mentions.
func (s *Store) GetChunksMentioningEntities(ctx context.Context, tenant string, entityIDs []string, limit int) ([]store.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	td := s.view(tenant)
	wanted := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = struct{}{}
	}

	counts := make(map[string]int)
	for _, m := range td.mentions {
		if _, ok := wanted[m.EntityID]; ok {
			counts[m.ChunkID]++
		}
	}

	out := make([]store.ScoredChunk, 0, len(counts))
	for chunkID, count := range counts {
		c, ok := td.chunks[chunkID]
		if !ok {
			continue
		}
		out = append(out, store.ScoredChunk{Chunk: c, Score: float64(count)})
	}

	sortScoredChunks(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListDocuments returns every document for the tenant, sorted by id.
func (s *Store) ListDocuments(ctx context.Context, tenant string) ([]graph.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	td := s.view(tenant)
	out := make([]graph.Document, 0, len(td.documents))
	for _, d := range td.documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetChunksByDocument returns every chunk of the document in corpus order.
func (s *Store) GetChunksByDocument(ctx context.Context, tenant, documentID string) ([]graph.TextChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]graph.TextChunk, 0)
	for _, c := range s.view(tenant).chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SectionPath == out[j].SectionPath {
			return out[i].ID < out[j].ID
		}
		return out[i].SectionPath < out[j].SectionPath
	})
	return out, nil
}

// ListCommunities returns every community for the tenant, sorted by
// descending rank, then id.
func (s *Store) ListCommunities(ctx context.Context, tenant string) ([]graph.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	td := s.view(tenant)
	out := make([]graph.Community, len(td.communities))
	copy(out, td.communities)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank == out[j].Rank {
			return out[i].ID < out[j].ID
		}
		return out[i].Rank > out[j].Rank
	})
	return out, nil
}

func sortScoredChunks(chunks []store.ScoredChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score == chunks[j].Score {
			return chunks[i].Chunk.ID < chunks[j].Chunk.ID
		}
		return chunks[i].Score > chunks[j].Score
	})
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]`)
		if len(f) < 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
