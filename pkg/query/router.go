package query

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/murre-ai/murre/pkg/ai"
	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
)

// Profile selects the routing posture of a deployment.
type Profile string

const (
	// ProfilePrecision always takes the full graph pipeline.
	ProfilePrecision Profile = "precision"

	// ProfileSpeed routes simple questions to the fast vector-only path
	// based on a complexity heuristic.
	ProfileSpeed Profile = "speed"
)

const (
	complexityThreshold = 0.5
	refineBandLow       = 0.3
	refineBandHigh      = 0.7
)

var (
	multiHopPhrases = []string{
		"and then", "which of", "that also", "related to", "connected to",
		"between", "across", "chain", "leads to", "result of",
	}
	ambiguityPhrases = []string{
		"it", "they", "them", "this", "that one", "those", "these",
	}
	analyticalPhrases = []string{
		"compare", "comparison", "versus", "trend", "why", "how does",
		"analyze", "summarize", "overall", "all documents", "every document",
	}
	simpleFactPhrases = []string{
		"what is the", "when is the", "who is the", "where is the",
		"how much is", "what date",
	}
	thematicPhrases = []string{
		"theme", "topic", "overall", "summarize", "summary of", "main points",
		"documents about", "across all",
	}
	multiHopRoutePhrases = []string{
		"and then", "which of", "that also", "compare", "versus",
		"between", "relationship between", "connected",
	}
)

// Router picks the retrieval pipeline for a query. The AI client is
// optional; without it the speed profile relies on the heuristic alone.
type Router struct {
	AI      ai.Client
	Profile Profile

	// VectorDisabled forces the fast path back onto the full pipeline
	// when no vector backend is configured.
	VectorDisabled bool
}

// Route returns the route for the query plus the complexity score that
// drove the decision (always 1.0 under the precision profile).
func (r *Router) Route(ctx context.Context, queryText string) (graph.Route, float64) {
	if r.Profile != ProfileSpeed {
		return r.fullPipelineRoute(queryText), 1.0
	}

	score := complexityHeuristic(queryText)
	if score >= refineBandLow && score <= refineBandHigh && r.AI != nil {
		score = r.refineComplexity(ctx, queryText, score)
	}

	if score < complexityThreshold {
		if r.VectorDisabled {
			return r.fullPipelineRoute(queryText), score
		}
		return graph.RouteVectorOnly, score
	}
	return r.fullPipelineRoute(queryText), score
}

// fullPipelineRoute picks among the graph-backed routes by query phrasing.
// Multi-hop phrasing wins over thematic; everything else is entity focused.
func (r *Router) fullPipelineRoute(queryText string) graph.Route {
	lower := strings.ToLower(queryText)
	if containsAnyPhrase(lower, multiHopRoutePhrases) {
		return graph.RouteMultiHop
	}
	if containsAnyPhrase(lower, thematicPhrases) {
		return graph.RouteThematic
	}
	return graph.RouteEntityFocused
}

// complexityHeuristic scores the query 0 to 1 by additive keyword scoring.
func complexityHeuristic(queryText string) float64 {
	lower := strings.ToLower(queryText)
	score := 0.0
	for _, p := range multiHopPhrases {
		if containsPhrase(lower, p) {
			score += 0.3
		}
	}
	for _, p := range ambiguityPhrases {
		if containsPhrase(lower, p) {
			score += 0.1
		}
	}
	for _, p := range analyticalPhrases {
		if containsPhrase(lower, p) {
			score += 0.2
		}
	}
	for _, p := range simpleFactPhrases {
		if containsPhrase(lower, p) {
			score -= 0.2
		}
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// refineComplexity asks the model to rate the query when the heuristic
// lands in the ambiguous band. Unparseable or failing responses keep the
// heuristic score.
func (r *Router) refineComplexity(ctx context.Context, queryText string, heuristic float64) float64 {
	raw, err := r.AI.GenerateCompletion(ctx, fmt.Sprintf(ai.ComplexityPrompt, queryText), ai.WithTemperature(0))
	if err != nil {
		logger.Warn("complexity rating degraded, keeping heuristic", "err", err)
		return heuristic
	}
	rated, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || rated < 0 || rated > 1 {
		return heuristic
	}
	return rated
}

func containsAnyPhrase(lower string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(lower, p) {
			return true
		}
	}
	return false
}

// containsPhrase matches on word boundaries so "it" does not fire inside
// "item" or "with".
func containsPhrase(lower, phrase string) bool {
	idx := 0
	for {
		rel := strings.Index(lower[idx:], phrase)
		if rel < 0 {
			return false
		}
		start := idx + rel
		end := start + len(phrase)
		if isWordBoundary(lower, start-1) && isWordBoundary(lower, end) {
			return true
		}
		idx = start + 1
	}
}
