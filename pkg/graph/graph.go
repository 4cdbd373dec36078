package graph

// Entity represents a node in the knowledge graph. An entity can be an
// organization, person, location, or any other concept extracted from the
// document corpus. Entities are created at ingestion time and are read-only
// to the query engine.
type Entity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Embedding   []float32 `json:"-"`
	TenantID    string    `json:"tenant_id"`
}

// Relationship represents a typed edge between two entities. Relationships
// are directional, with a source and a target, and carry a weight used by
// the tracing strategies.
type Relationship struct {
	ID          string  `json:"id"`
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Type        string  `json:"type"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// Community is a cluster of related entities with a generated summary.
// Communities are produced by ingestion-time clustering and are used by
// the thematic route to match broad topical questions.
type Community struct {
	ID        string   `json:"id"`
	Level     int      `json:"level"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	MemberIDs []string `json:"member_ids"`
	Rank      float64  `json:"rank"`
}

// TextChunk is a retrievable passage with structural metadata. Chunks are
// the smallest retrieval unit and the provenance target of every citation.
type TextChunk struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	DocumentID  string    `json:"document_id"`
	SectionPath string    `json:"section_path"`
	Tokens      int       `json:"tokens"`
	Embedding   []float32 `json:"-"`
}

// Document is a source file in the corpus.
type Document struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	SourcePath string `json:"source_path"`
	Date       string `json:"date"`
}

// SeedEntity is a disambiguator output: a candidate name resolved (or not)
// to a graph node. Unresolved seeds carry an empty ResolvedID and are
// dropped before tracing.
type SeedEntity struct {
	RawName    string `json:"raw_name"`
	ResolvedID string `json:"resolved_id"`
	Strategy   string `json:"strategy"`
}

// Resolved reports whether the seed was matched to a graph node.
func (s SeedEntity) Resolved() bool {
	return s.ResolvedID != ""
}

// EvidenceNode is a scored entity produced by tracing. The provenance tag
// names the strategy or boost stage that added the node, for observability.
type EvidenceNode struct {
	Name       string  `json:"name"`
	EntityID   string  `json:"entity_id"`
	Score      float64 `json:"score"`
	Provenance string  `json:"provenance"`
}

// SourcePassage is a text chunk selected as supporting evidence for one
// query. The origin tag names the retrieval stage that selected it.
type SourcePassage struct {
	ChunkID     string  `json:"chunk_id"`
	Text        string  `json:"text"`
	DocumentID  string  `json:"document_id"`
	Document    string  `json:"document"`
	SectionPath string  `json:"section_path"`
	Score       float64 `json:"score"`
	Origin      string  `json:"origin"`
}

// Citation is a validated reference from the generated answer back to a
// source passage. Only markers that appeared in the synthesis context are
// accepted; unknown markers are dropped during parsing.
type Citation struct {
	Marker     int    `json:"marker"`
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Document   string `json:"document"`
	Preview    string `json:"preview"`
}

// Route identifies which retrieval pipeline answered a query.
type Route string

const (
	RouteVectorOnly    Route = "vector_only"
	RouteEntityFocused Route = "entity_focused"
	RouteThematic      Route = "thematic"
	RouteMultiHop      Route = "multi_hop"
)

// RouteResult is the final per-query output returned to the caller.
// Metadata documents which boosts and strategies fired; it is informational
// and never required for correctness.
type RouteResult struct {
	Response     string            `json:"response"`
	Route        Route             `json:"route"`
	Citations    []Citation        `json:"citations"`
	EvidencePath []EvidenceNode    `json:"evidence_path"`
	Context      string            `json:"context,omitempty"`
	Metadata     map[string]string `json:"metadata"`
}
