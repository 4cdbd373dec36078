package pgx

import (
	"context"
	"fmt"

	pgxdriver "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/store"
)

const entityColumns = "id, tenant_id, name, type, description, embedding"

func scanEntities(rows pgxdriver.Rows) ([]graph.Entity, error) {
	out := make([]graph.Entity, 0)
	for rows.Next() {
		var (
			e   graph.Entity
			vec *pgvector.Vector
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Name, &e.Type, &e.Description, &vec); err != nil {
			return nil, err
		}
		if vec != nil {
			e.Embedding = vec.Slice()
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEntitiesByNames returns entities whose name matches any of the given
// names case-insensitively.
func (s *GraphDBStore) GetEntitiesByNames(ctx context.Context, tenant string, names []string) ([]graph.Entity, error) {
	rows, err := s.query(ctx, fmt.Sprintf(`
		SELECT %s FROM entities
		WHERE tenant_id = $1 AND lower(name) IN (SELECT lower(unnest($2::text[])))
		ORDER BY name`, entityColumns),
		tenant, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntities(rows)
}

// GetEntitiesByIDs returns the entities for the given ids in supply order.
func (s *GraphDBStore) GetEntitiesByIDs(ctx context.Context, tenant string, ids []string) ([]graph.Entity, error) {
	rows, err := s.query(ctx, fmt.Sprintf(`
		SELECT %s FROM entities
		WHERE tenant_id = $1 AND id = ANY($2::text[])`, entityColumns),
		tenant, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]graph.Entity, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	out := make([]graph.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListEntityNames returns all entity names for the tenant, sorted.
func (s *GraphDBStore) ListEntityNames(ctx context.Context, tenant string) ([]string, error) {
	rows, err := s.query(ctx, `
		SELECT name FROM entities WHERE tenant_id = $1 ORDER BY name`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// SearchEntitiesByEmbedding returns the k entities nearest to the query
// vector by cosine distance.
func (s *GraphDBStore) SearchEntitiesByEmbedding(ctx context.Context, tenant string, embedding []float32, k int) ([]graph.Entity, error) {
	rows, err := s.query(ctx, fmt.Sprintf(`
		SELECT %s FROM entities
		WHERE tenant_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2, id
		LIMIT $3`, entityColumns),
		tenant, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntities(rows)
}

// GetNeighbors returns up to limit neighbors of the entity, ordered by
// descending degree, then by entity id.
func (s *GraphDBStore) GetNeighbors(ctx context.Context, tenant, entityID string, limit int, excludeTypes []string) ([]store.Neighbor, error) {
	if excludeTypes == nil {
		excludeTypes = []string{}
	}

	rows, err := s.query(ctx, `
		WITH degree AS (
			SELECT entity_id, count(*) AS degree FROM (
				SELECT source_id AS entity_id FROM relationships WHERE tenant_id = $1
				UNION ALL
				SELECT target_id AS entity_id FROM relationships WHERE tenant_id = $1
			) touched
			GROUP BY entity_id
		)
		SELECT e.id, e.tenant_id, e.name, e.type, e.description, e.embedding,
		       r.id, r.source_id, r.target_id, r.type, r.weight, r.description,
		       COALESCE(d.degree, 0)
		FROM relationships r
		JOIN entities e
		  ON e.id = CASE WHEN r.source_id = $2 THEN r.target_id ELSE r.source_id END
		LEFT JOIN degree d ON d.entity_id = e.id
		WHERE r.tenant_id = $1
		  AND (r.source_id = $2 OR r.target_id = $2)
		  AND NOT (r.type = ANY($3::text[]))
		ORDER BY COALESCE(d.degree, 0) DESC, e.id
		LIMIT $4`,
		tenant, entityID, excludeTypes, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.Neighbor, 0)
	for rows.Next() {
		var (
			n   store.Neighbor
			vec *pgvector.Vector
		)
		if err := rows.Scan(
			&n.Entity.ID, &n.Entity.TenantID, &n.Entity.Name, &n.Entity.Type, &n.Entity.Description, &vec,
			&n.Relationship.ID, &n.Relationship.SourceID, &n.Relationship.TargetID,
			&n.Relationship.Type, &n.Relationship.Weight, &n.Relationship.Description,
			&n.Degree,
		); err != nil {
			return nil, err
		}
		if vec != nil {
			n.Entity.Embedding = vec.Slice()
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetSubgraph returns every entity and relationship for the tenant.
func (s *GraphDBStore) GetSubgraph(ctx context.Context, tenant string) ([]graph.Entity, []graph.Relationship, error) {
	rows, err := s.query(ctx, fmt.Sprintf(`
		SELECT %s FROM entities WHERE tenant_id = $1 ORDER BY id`, entityColumns), tenant)
	if err != nil {
		return nil, nil, err
	}
	entities, err := scanEntities(rows)
	rows.Close()
	if err != nil {
		return nil, nil, err
	}

	relRows, err := s.query(ctx, `
		SELECT id, source_id, target_id, type, weight, description
		FROM relationships WHERE tenant_id = $1 ORDER BY id`, tenant)
	if err != nil {
		return nil, nil, err
	}
	defer relRows.Close()

	relationships := make([]graph.Relationship, 0)
	for relRows.Next() {
		var r graph.Relationship
		if err := relRows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &r.Weight, &r.Description); err != nil {
			return nil, nil, err
		}
		relationships = append(relationships, r)
	}
	return entities, relationships, relRows.Err()
}

// GetEntityMentions returns every entity/chunk mention pair for the tenant.
func (s *GraphDBStore) GetEntityMentions(ctx context.Context, tenant string) ([]store.EntityMention, error) {
	rows, err := s.query(ctx, `
		SELECT entity_id, chunk_id, document_id, section_path
		FROM entity_mentions WHERE tenant_id = $1
		ORDER BY entity_id, chunk_id`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.EntityMention, 0)
	for rows.Next() {
		var m store.EntityMention
		if err := rows.Scan(&m.EntityID, &m.ChunkID, &m.DocumentID, &m.SectionPath); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
