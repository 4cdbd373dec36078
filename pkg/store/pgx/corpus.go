package pgx

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/murre-ai/murre/internal/util"
	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/store"
)

// SearchChunksLexical runs websearch-style full-text retrieval over chunk
// text, ranked by ts_rank_cd.
func (s *GraphDBStore) SearchChunksLexical(ctx context.Context, tenant, query string, k int) ([]store.ScoredChunk, error) {
	query = util.SanitizeText(query)

	rows, err := s.query(ctx, `
		SELECT id, text, document_id, section_path, tokens,
		       ts_rank_cd(tsv, websearch_to_tsquery('english', $2)) AS rank
		FROM chunks
		WHERE tenant_id = $1 AND tsv @@ websearch_to_tsquery('english', $2)
		ORDER BY rank DESC, id
		LIMIT $3`,
		tenant, query, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.ScoredChunk, 0)
	for rows.Next() {
		var sc store.ScoredChunk
		if err := rows.Scan(&sc.Chunk.ID, &sc.Chunk.Text, &sc.Chunk.DocumentID,
			&sc.Chunk.SectionPath, &sc.Chunk.Tokens, &sc.Score); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// SearchChunksByEmbedding returns the k chunks nearest to the query vector
// by cosine distance, scored as 1 - distance.
func (s *GraphDBStore) SearchChunksByEmbedding(ctx context.Context, tenant string, embedding []float32, k int) ([]store.ScoredChunk, error) {
	rows, err := s.query(ctx, `
		SELECT id, text, document_id, section_path, tokens,
		       1 - (embedding <=> $2) AS similarity
		FROM chunks
		WHERE tenant_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2, id
		LIMIT $3`,
		tenant, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.ScoredChunk, 0)
	for rows.Next() {
		var sc store.ScoredChunk
		if err := rows.Scan(&sc.Chunk.ID, &sc.Chunk.Text, &sc.Chunk.DocumentID,
			&sc.Chunk.SectionPath, &sc.Chunk.Tokens, &sc.Score); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// GetChunksMentioningEntities returns up to limit chunks that mention any
// of the given entities, ranked by how many of them each chunk mentions.
func (s *GraphDBStore) GetChunksMentioningEntities(ctx context.Context, tenant string, entityIDs []string, limit int) ([]store.ScoredChunk, error) {
	rows, err := s.query(ctx, `
		SELECT c.id, c.text, c.document_id, c.section_path, c.tokens,
		       count(DISTINCT m.entity_id) AS mentioned
		FROM entity_mentions m
		JOIN chunks c ON c.id = m.chunk_id
		WHERE m.tenant_id = $1 AND m.entity_id = ANY($2::text[])
		GROUP BY c.id, c.text, c.document_id, c.section_path, c.tokens
		ORDER BY mentioned DESC, c.id
		LIMIT $3`,
		tenant, entityIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.ScoredChunk, 0)
	for rows.Next() {
		var (
			sc        store.ScoredChunk
			mentioned int
		)
		if err := rows.Scan(&sc.Chunk.ID, &sc.Chunk.Text, &sc.Chunk.DocumentID,
			&sc.Chunk.SectionPath, &sc.Chunk.Tokens, &mentioned); err != nil {
			return nil, err
		}
		sc.Score = float64(mentioned)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ListDocuments returns every document for the tenant, sorted by id.
func (s *GraphDBStore) ListDocuments(ctx context.Context, tenant string) ([]graph.Document, error) {
	rows, err := s.query(ctx, `
		SELECT id, title, source_path, doc_date
		FROM documents WHERE tenant_id = $1 ORDER BY id`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]graph.Document, 0)
	for rows.Next() {
		var d graph.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.SourcePath, &d.Date); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetChunksByDocument returns every chunk of the document in corpus order.
func (s *GraphDBStore) GetChunksByDocument(ctx context.Context, tenant, documentID string) ([]graph.TextChunk, error) {
	rows, err := s.query(ctx, `
		SELECT id, text, document_id, section_path, tokens
		FROM chunks
		WHERE tenant_id = $1 AND document_id = $2
		ORDER BY section_path, id`,
		tenant, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]graph.TextChunk, 0)
	for rows.Next() {
		var c graph.TextChunk
		if err := rows.Scan(&c.ID, &c.Text, &c.DocumentID, &c.SectionPath, &c.Tokens); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCommunities returns every community for the tenant, sorted by
// descending rank.
func (s *GraphDBStore) ListCommunities(ctx context.Context, tenant string) ([]graph.Community, error) {
	rows, err := s.query(ctx, `
		SELECT id, level, title, summary, rank, member_ids
		FROM communities WHERE tenant_id = $1
		ORDER BY rank DESC, id`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]graph.Community, 0)
	for rows.Next() {
		var c graph.Community
		if err := rows.Scan(&c.ID, &c.Level, &c.Title, &c.Summary, &c.Rank, &c.MemberIDs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
