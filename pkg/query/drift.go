package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/sync/errgroup"

	"github.com/murre-ai/murre/pkg/ai"
	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/store"
)

const (
	driftMaxAttempts       = 1
	driftMaxConcurrency    = 4
	driftSatisfiedMin      = 2
	driftConfidenceLow     = 0.5
	driftDiversityLow      = 0.3
	driftConcentratedConf  = 0.7
	driftConcentrationCap  = 0.2
	driftSatisfiedWeight   = 0.6
	driftDiversityWeight   = 0.4
	driftDefaultSeedTopK   = 3
	driftDefaultTraceTopK  = 10
	driftMinSubQuestions   = 2
	driftMaxSubQuestions   = 5
)

var (
	latestDocPattern = regexp.MustCompile(`(?i)\b(most recent|latest|newest)\b.{0,30}\bdocument\b`)
	oldestDocPattern = regexp.MustCompile(`(?i)\b(oldest|earliest|first)\b.{0,30}\bdocument\b`)
	countDocPattern  = regexp.MustCompile(`(?i)\bhow many\b.{0,30}\bdocuments\b`)
)

// decomposition is the schema-constrained shape of the decomposition
// prompts.
type decomposition struct {
	SubQuestions []string `json:"sub_questions"`
}

// DriftController runs the multi-hop route: decompose the question into
// sub-questions, run a discovery pass per sub-question, score confidence
// in the decomposition, and retry decomposition at most once before
// handing the merged evidence to synthesis.
//
// Retry is modeled as an explicit loop with an attempt counter, never as
// recursion, so the worst case is two decompositions per query.
type DriftController struct {
	Store         store.GraphStore
	AI            ai.Client
	Disambiguator *Disambiguator
	Tracer        Tracer

	SeedTopK  int
	TraceTopK int
	Observer  Observer
}

// DriftResult is the controller's output for synthesis.
type DriftResult struct {
	SubQuestions []string
	Evidence     []graph.EvidenceNode
	Confidence   float64
	Redecomposed bool
}

// subQuestionEvidence holds one discovery pass result.
type subQuestionEvidence struct {
	question string
	evidence []graph.EvidenceNode
}

// AnswerFromMetadata answers pure document-metadata questions directly
// from document dates, bypassing decomposition. The second return is false
// when the query is not a metadata question or dates cannot be parsed.
func (c *DriftController) AnswerFromMetadata(ctx context.Context, tenant, queryText string) (string, bool) {
	wantLatest := latestDocPattern.MatchString(queryText)
	wantOldest := oldestDocPattern.MatchString(queryText)
	wantCount := countDocPattern.MatchString(queryText)
	if !wantLatest && !wantOldest && !wantCount {
		return "", false
	}

	docs, err := c.Store.ListDocuments(ctx, tenant)
	if err != nil || len(docs) == 0 {
		return "", false
	}

	if wantCount {
		return fmt.Sprintf("The corpus contains %d documents.", len(docs)), true
	}

	type dated struct {
		doc  graph.Document
		date time.Time
	}
	parsed := make([]dated, 0, len(docs))
	for _, d := range docs {
		if d.Date == "" {
			continue
		}
		t, err := dateparse.ParseAny(d.Date)
		if err != nil {
			continue
		}
		parsed = append(parsed, dated{doc: d, date: t})
	}
	if len(parsed) == 0 {
		return "", false
	}

	best := parsed[0]
	for _, p := range parsed[1:] {
		newer := p.date.After(best.date)
		if (wantLatest && newer) || (wantOldest && !newer && p.date.Before(best.date)) {
			best = p
		}
	}
	if wantLatest {
		return fmt.Sprintf("The most recent document is %q, dated %s.", best.doc.Title, best.doc.Date), true
	}
	return fmt.Sprintf("The oldest document is %q, dated %s.", best.doc.Title, best.doc.Date), true
}

// Run executes the decomposition state machine and returns the merged
// evidence set.
func (c *DriftController) Run(ctx context.Context, tenant, queryText string) (DriftResult, error) {
	subQuestions, err := c.decompose(ctx, queryText)
	if err != nil {
		return DriftResult{}, err
	}

	results, err := c.discover(ctx, tenant, queryText, subQuestions)
	if err != nil {
		return DriftResult{}, err
	}
	confidence, diversity, concentrated := scoreConfidence(results)
	recordSubQuestions(c.Observer, len(results), evidenceCounts(results), confidence)

	redecomposed := false
	for attempt := 0; attempt < driftMaxAttempts && c.shouldRetry(confidence, diversity, concentrated, len(results)); attempt++ {
		retried, err := c.redecompose(ctx, queryText, results, concentrated)
		if err != nil {
			logger.Warn("re-decomposition degraded, keeping first pass", "err", err)
			break
		}
		results, err = c.discover(ctx, tenant, queryText, retried)
		if err != nil {
			return DriftResult{}, err
		}
		confidence, diversity, concentrated = scoreConfidence(results)
		recordSubQuestions(c.Observer, len(results), evidenceCounts(results), confidence)
		subQuestions = retried
		redecomposed = true
	}

	return DriftResult{
		SubQuestions: subQuestions,
		Evidence:     mergeEvidence(results),
		Confidence:   confidence,
		Redecomposed: redecomposed,
	}, nil
}

func (c *DriftController) decompose(ctx context.Context, queryText string) ([]string, error) {
	var out decomposition
	err := c.AI.GenerateCompletionWithFormat(ctx,
		"decomposition",
		"Sub-questions decomposing a complex user question",
		fmt.Sprintf(ai.DecomposePrompt, queryText),
		&out,
		ai.WithTemperature(0),
	)
	if err != nil {
		return nil, fmt.Errorf("query decomposition failed: %w", err)
	}
	subQuestions := clampSubQuestions(out.SubQuestions, queryText)
	return subQuestions, nil
}

// redecompose issues the consolidation prompt when entity concentration is
// the problem and the clarification prompt otherwise, never both.
func (c *DriftController) redecompose(ctx context.Context, queryText string, results []subQuestionEvidence, concentrated []string) ([]string, error) {
	previous := bulletLines(questionsOf(results))

	var prompt string
	if len(concentrated) > 0 {
		prompt = fmt.Sprintf(ai.RedecomposeConsolidatePrompt, queryText, previous, strings.Join(concentrated, ", "))
	} else {
		sparse := make([]string, 0)
		for _, r := range results {
			if len(r.evidence) < driftSatisfiedMin {
				sparse = append(sparse, r.question)
			}
		}
		prompt = fmt.Sprintf(ai.RedecomposeClarifyPrompt, queryText, previous, bulletLines(sparse))
	}

	var out decomposition
	err := c.AI.GenerateCompletionWithFormat(ctx,
		"decomposition",
		"Revised sub-questions for a complex user question",
		prompt,
		&out,
		ai.WithTemperature(0),
	)
	if err != nil {
		return nil, err
	}
	return clampSubQuestions(out.SubQuestions, queryText), nil
}

// discover runs the per-sub-question discovery passes concurrently with
// bounded fan-out and merges results in sub-question order after the join.
func (c *DriftController) discover(ctx context.Context, tenant, queryText string, subQuestions []string) ([]subQuestionEvidence, error) {
	seedTopK := c.SeedTopK
	if seedTopK <= 0 {
		seedTopK = driftDefaultSeedTopK
	}
	traceTopK := c.TraceTopK
	if traceTopK <= 0 {
		traceTopK = driftDefaultTraceTopK
	}

	results := make([]subQuestionEvidence, len(subQuestions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(driftMaxConcurrency)
	for i, question := range subQuestions {
		g.Go(func() error {
			seeds, err := c.Disambiguator.Disambiguate(gctx, tenant, question, seedTopK)
			if err != nil {
				return err
			}

			var queryVec []float32
			if vec, err := c.AI.GenerateEmbedding(gctx, []byte(question)); err == nil {
				queryVec = vec
			}

			evidence, err := c.Tracer.Trace(gctx, tenant, seeds, queryVec, traceTopK)
			if err != nil {
				if fatal(err) {
					return err
				}
				logger.Warn("discovery trace degraded", "sub_question", question, "err", err)
			}
			results[i] = subQuestionEvidence{question: question, evidence: evidence}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *DriftController) shouldRetry(confidence, diversity float64, concentrated []string, subQuestionCount int) bool {
	switch {
	case confidence < driftConfidenceLow && subQuestionCount > 1:
		return true
	case diversity < driftDiversityLow && subQuestionCount > 2:
		return true
	case len(concentrated) > 0 && confidence < driftConcentratedConf:
		return true
	}
	return false
}

// scoreConfidence computes 0.6 x satisfied ratio + 0.4 x entity diversity,
// minus a concentration penalty up to 0.2 when any single entity appears
// in over half the sub-questions. Also returns the concentrated entity
// names for the consolidation prompt.
func scoreConfidence(results []subQuestionEvidence) (confidence, diversity float64, concentrated []string) {
	if len(results) == 0 {
		return 0, 0, nil
	}

	satisfied := 0
	totalMentions := 0
	unique := make(map[string]struct{})
	perEntityQuestions := make(map[string]int)
	entityName := make(map[string]string)

	for _, r := range results {
		if len(r.evidence) >= driftSatisfiedMin {
			satisfied++
		}
		seenHere := make(map[string]struct{})
		for _, e := range r.evidence {
			totalMentions++
			unique[e.EntityID] = struct{}{}
			entityName[e.EntityID] = e.Name
			if _, dup := seenHere[e.EntityID]; !dup {
				seenHere[e.EntityID] = struct{}{}
				perEntityQuestions[e.EntityID]++
			}
		}
	}

	satisfiedRatio := float64(satisfied) / float64(len(results))
	if totalMentions > 0 {
		diversity = float64(len(unique)) / float64(totalMentions)
	}

	penalty := 0.0
	half := float64(len(results)) / 2
	for entityID, count := range perEntityQuestions {
		if float64(count) > half {
			concentrated = append(concentrated, entityName[entityID])
			share := float64(count) / float64(len(results))
			p := driftConcentrationCap * (share - 0.5) / 0.5
			if p > penalty {
				penalty = p
			}
		}
	}
	if penalty > driftConcentrationCap {
		penalty = driftConcentrationCap
	}

	confidence = driftSatisfiedWeight*satisfiedRatio + driftDiversityWeight*diversity - penalty
	if confidence < 0 {
		confidence = 0
	}
	return confidence, diversity, concentrated
}

// mergeEvidence deduplicates evidence across sub-questions keeping the
// maximum score per entity, ordered by score with sub-question order as
// the tiebreak.
func mergeEvidence(results []subQuestionEvidence) []graph.EvidenceNode {
	nodes := make(map[string]*scoredNode)
	order := 0
	provenance := make(map[string]string)
	for _, r := range results {
		for _, e := range r.evidence {
			if existing, ok := nodes[e.EntityID]; ok {
				if e.Score > existing.score {
					existing.score = e.Score
					provenance[e.EntityID] = e.Provenance
				}
				continue
			}
			nodes[e.EntityID] = &scoredNode{entityID: e.EntityID, name: e.Name, score: e.Score, firstSeen: order}
			provenance[e.EntityID] = e.Provenance
			order++
		}
	}
	merged := rankNodes(nodes, 0, "")
	for i := range merged {
		merged[i].Provenance = provenance[merged[i].EntityID]
	}
	return merged
}

func clampSubQuestions(subQuestions []string, queryText string) []string {
	cleaned := make([]string, 0, len(subQuestions))
	for _, q := range subQuestions {
		q = strings.TrimSpace(q)
		if q != "" {
			cleaned = append(cleaned, q)
		}
	}
	if len(cleaned) > driftMaxSubQuestions {
		cleaned = cleaned[:driftMaxSubQuestions]
	}
	if len(cleaned) < driftMinSubQuestions {
		// Too few sub-questions degrade to answering the query directly.
		// With zero usable sub-questions this leaves a single entry,
		// below the usual minimum of two: duplicating the question
		// would only repeat the same discovery pass.
		cleaned = append(cleaned, queryText)
	}
	return cleaned
}

func evidenceCounts(results []subQuestionEvidence) []int {
	out := make([]int, 0, len(results))
	for _, r := range results {
		out = append(out, len(r.evidence))
	}
	return out
}

func questionsOf(results []subQuestionEvidence) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.question)
	}
	return out
}

func bulletLines(items []string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteByte('\n')
	}
	return b.String()
}
