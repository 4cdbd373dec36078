package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/murre-ai/murre/internal/util"
	"github.com/murre-ai/murre/pkg/ai"
	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/store"
)

// ErrNoEvidence is returned when the entity-focused route finds hub
// entities but no source passages at all. Continuing would risk an
// ungrounded answer, so this is fatal rather than degraded.
var ErrNoEvidence = errors.New("no source passages for resolved entities")

// fatal reports whether a stage failure must abort the whole query rather
// than degrade it. Only a fully unreachable store qualifies: degrading
// every stage around a total outage would end in a refusal that presents
// an infrastructure failure as an answer about the corpus.
func fatal(err error) bool {
	return errors.Is(err, store.ErrUnavailable)
}

const (
	defaultSeedTopK    = 5
	defaultTraceTopK   = 15
	defaultHybridTopK  = 12
	defaultTokenBudget = 6000
)

// Options configures an Engine. Zero values select sensible defaults.
type Options struct {
	Profile  Profile
	Strategy Strategy

	SeedTopK   int
	TraceTopK  int
	HybridTopK int
	LexicalK   int
	VectorK    int
	RRFK       int

	MinDocuments int
	PerDocCap    int

	MaxHops   int
	BeamWidth int

	ContextTokenBudget int

	// DisableVector turns off embedding-backed retrieval; the router's
	// fast path then falls back to the full pipeline.
	DisableVector bool

	Observer Observer
}

// Request is one query against the engine.
type Request struct {
	Tenant string
	Text   string

	// PreviousAnswer carries the assistant's last answer in a
	// conversation. When set, vague follow-up questions are condensed
	// against it into a self-contained term for embedding search.
	PreviousAnswer string

	RouteHint      graph.Route
	ResponseStyle  ResponseStyle
	IncludeContext bool

	semanticText string
}

// semanticQuery is the text used for embedding search. It differs from
// Text only when a follow-up question was condensed against the previous
// answer.
func (r Request) semanticQuery() string {
	if r.semanticText != "" {
		return r.semanticText
	}
	return r.Text
}

// Engine composes the router, disambiguator, tracer strategies, hybrid
// search, gap fill, decomposition controller, and synthesizer into the
// single Query operation. It holds no per-query state; everything mutable
// lives in the advisory cache, which is recomputable.
type Engine struct {
	store store.GraphStore
	ai    ai.Client
	opts  Options
	cache *Cache

	router        *Router
	disambiguator *Disambiguator
	tracer        Tracer
	hybrid        *HybridSearcher
	gapFill       *GapFiller
	synth         *Synthesizer
	drift         *DriftController
}

func NewEngine(graphStore store.GraphStore, client ai.Client, opts Options) *Engine {
	if opts.SeedTopK <= 0 {
		opts.SeedTopK = defaultSeedTopK
	}
	if opts.TraceTopK <= 0 {
		opts.TraceTopK = defaultTraceTopK
	}
	if opts.HybridTopK <= 0 {
		opts.HybridTopK = defaultHybridTopK
	}
	if opts.ContextTokenBudget <= 0 {
		opts.ContextTokenBudget = defaultTokenBudget
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyBoundedHop
	}

	e := &Engine{
		store: graphStore,
		ai:    client,
		opts:  opts,
		cache: NewCache(),
	}

	e.router = &Router{AI: client, Profile: opts.Profile, VectorDisabled: opts.DisableVector}
	e.disambiguator = &Disambiguator{Store: graphStore, AI: client}
	e.tracer = e.buildTracer(opts.Strategy)
	e.hybrid = &HybridSearcher{
		Store:        graphStore,
		LexicalK:     opts.LexicalK,
		VectorK:      opts.VectorK,
		RRFK:         opts.RRFK,
		MinDocuments: opts.MinDocuments,
		PerDocCap:    opts.PerDocCap,
	}
	e.gapFill = &GapFiller{Store: graphStore}
	e.synth = &Synthesizer{AI: client, TokenBudget: opts.ContextTokenBudget}
	e.drift = &DriftController{
		Store:         graphStore,
		AI:            client,
		Disambiguator: e.disambiguator,
		Tracer:        &SemanticBeamTracer{Store: graphStore, MaxHops: opts.MaxHops, BeamWidth: opts.BeamWidth},
		SeedTopK:      opts.SeedTopK,
		TraceTopK:     opts.TraceTopK,
		Observer:      opts.Observer,
	}
	return e
}

// buildTracer maps the configured strategy name to an implementation.
// Unknown or empty names select bounded hop expansion, the fast default.
func (e *Engine) buildTracer(strategy Strategy) Tracer {
	switch strategy {
	case StrategyQueryBiased:
		return &QueryBiasedTracer{Store: e.store}
	case StrategyReranked:
		return &RerankedTracer{Base: &BoundedHopTracer{Store: e.store}, Store: e.store}
	case StrategyMatrixPPR:
		return &MatrixPPRTracer{Store: e.store, Cache: e.cache}
	case StrategySemanticBeam:
		return &SemanticBeamTracer{Store: e.store, MaxHops: e.opts.MaxHops, BeamWidth: e.opts.BeamWidth}
	default:
		return &BoundedHopTracer{Store: e.store}
	}
}

// ClearTenant drops all cached state for the tenant. Callers invoke this
// after re-ingestion so cached subgraph snapshots do not go stale.
func (e *Engine) ClearTenant(tenant string) {
	e.cache.Clear(tenant)
}

// Query answers one question. Soft failures degrade individual stages;
// only an unreachable store or the entity route's missing-evidence
// precondition produce an error.
func (e *Engine) Query(ctx context.Context, req Request) (*graph.RouteResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("empty query text")
	}

	queryID, err := gonanoid.New()
	if err != nil {
		queryID = "query"
	}

	observation := NewQueryObservation()
	observer := MultiObserver{observation, e.opts.Observer}

	if req.PreviousAnswer != "" {
		req.semanticText = e.condenseIntent(ctx, req.Text, req.PreviousAnswer)
	}

	route := req.RouteHint
	complexity := 1.0
	if route == "" {
		route, complexity = e.router.Route(ctx, req.Text)
	}
	logger.Debug("query routed", "query_id", queryID, "route", route, "complexity", complexity)

	var result *graph.RouteResult
	switch route {
	case graph.RouteVectorOnly:
		result, err = e.runVectorOnly(ctx, req, observer)
	case graph.RouteThematic:
		result, err = e.runThematic(ctx, req, observer)
	case graph.RouteMultiHop:
		result, err = e.runMultiHop(ctx, req, observer)
	default:
		route = graph.RouteEntityFocused
		result, err = e.runEntityFocused(ctx, req, observer)
	}
	if err != nil {
		return nil, err
	}

	result.Route = route
	if result.Metadata == nil {
		result.Metadata = make(map[string]string)
	}
	result.Metadata["query_id"] = queryID
	result.Metadata["complexity"] = strconv.FormatFloat(complexity, 'f', 2, 64)

	snapshot := observation.Snapshot()
	if len(snapshot.Strategies) > 0 {
		result.Metadata["strategies"] = strings.Join(snapshot.Strategies, ",")
	}
	if len(snapshot.QueriedEntityIDs) > 0 {
		result.Metadata["queried_entities"] = strconv.Itoa(len(snapshot.QueriedEntityIDs))
	}
	if len(snapshot.UsedChunkIDs) > 0 {
		result.Metadata["used_chunks"] = strconv.Itoa(len(snapshot.UsedChunkIDs))
	}

	if !req.IncludeContext {
		result.Context = ""
	}
	return result, nil
}

type queryIntent struct {
	SemanticTerm string `json:"semantic_term"`
}

// condenseIntent folds the previous answer into a vague follow-up
// question, producing one self-contained phrase for embedding search.
// Any failure degrades to the raw question text.
func (e *Engine) condenseIntent(ctx context.Context, text, previousAnswer string) string {
	var out queryIntent
	err := e.ai.GenerateCompletionWithFormat(ctx,
		"query_intent",
		"Self-contained semantic search term for a follow-up question",
		fmt.Sprintf(ai.QueryIntentPrompt, previousAnswer, text),
		&out,
		ai.WithTemperature(0),
	)
	if err != nil {
		logger.Warn("intent condensation failed, using raw question", "error", err)
		return ""
	}
	term := strings.TrimSpace(out.SemanticTerm)
	if term == "" {
		return ""
	}
	logger.Debug("condensed follow-up question", "semantic_term", term)
	return term
}

// embedQuery returns the query embedding, cached per tenant by content
// hash. A failing embedding call degrades to lexical-only retrieval.
func (e *Engine) embedQuery(ctx context.Context, tenant, text string) []float32 {
	if e.opts.DisableVector {
		return nil
	}
	key := "embed:" + util.ContentHash(text)
	if cached, ok := e.cache.Get(tenant, key); ok {
		if vec, ok := cached.([]float32); ok {
			return vec
		}
	}
	vec, err := e.ai.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		logger.Warn("query embedding degraded", "err", err)
		return nil
	}
	e.cache.Set(tenant, key, vec)
	return vec
}

// documentTitles maps document ids to titles so passages and citations can
// carry human-readable names.
func (e *Engine) documentTitles(ctx context.Context, tenant string) (map[string]string, error) {
	docs, err := e.store.ListDocuments(ctx, tenant)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		logger.Warn("document listing degraded", "err", err)
		return nil, nil
	}
	titles := make(map[string]string, len(docs))
	for _, d := range docs {
		titles[d.ID] = d.Title
	}
	return titles, nil
}

func fillDocumentTitles(passages []graph.SourcePassage, titles map[string]string) {
	for i := range passages {
		if passages[i].Document == "" {
			passages[i].Document = titles[passages[i].DocumentID]
		}
	}
}

func (e *Engine) finishResult(synthesis SynthesisResult, evidence []graph.EvidenceNode, metadata map[string]string) *graph.RouteResult {
	if metadata == nil {
		metadata = make(map[string]string)
	}
	if synthesis.Refused {
		metadata["refused"] = "true"
	}
	return &graph.RouteResult{
		Response:     synthesis.Response,
		Citations:    synthesis.Citations,
		EvidencePath: evidence,
		Context:      synthesis.Context,
		Metadata:     metadata,
	}
}

// passageChunkIDs collects chunk ids for observation recording.
func passageChunkIDs(passages []graph.SourcePassage) []string {
	ids := make([]string, 0, len(passages))
	for _, p := range passages {
		ids = append(ids, p.ChunkID)
	}
	return ids
}

func evidenceEntityIDs(evidence []graph.EvidenceNode) []string {
	ids := make([]string, 0, len(evidence))
	for _, n := range evidence {
		ids = append(ids, n.EntityID)
	}
	return ids
}

// appendUniquePassages appends from extra any passage whose chunk id is
// not already present in base.
func appendUniquePassages(base, extra []graph.SourcePassage) []graph.SourcePassage {
	seen := make(map[string]struct{}, len(base))
	for _, p := range base {
		seen[p.ChunkID] = struct{}{}
	}
	for _, p := range extra {
		if _, dup := seen[p.ChunkID]; dup {
			continue
		}
		seen[p.ChunkID] = struct{}{}
		base = append(base, p)
	}
	return base
}

func fmtScore(v float64) string {
	return fmt.Sprintf("%.3f", v)
}
