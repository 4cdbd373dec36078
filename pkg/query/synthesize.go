package query

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/murre-ai/murre/pkg/ai"
	"github.com/murre-ai/murre/pkg/graph"
)

// ResponseStyle selects the answer format of the synthesizer.
type ResponseStyle string

const (
	StyleDetailed   ResponseStyle = "detailed"
	StyleSummary    ResponseStyle = "summary"
	StyleAudit      ResponseStyle = "audit"
	StyleExtraction ResponseStyle = "extraction"
)

// RefusalText is the fixed answer returned when the corpus does not
// contain the requested information. It is byte-identical across runs so
// callers can test for it.
const RefusalText = "The available documents do not contain this information."

const (
	synthDefaultBudget = 6000
	citationPreviewLen = 120
)

// citationMarkerPattern matches the [[N]] markers the synthesis prompts
// require on every factual claim.
var citationMarkerPattern = regexp.MustCompile(`\[\[(\d+)\]\]`)

// Synthesizer turns evidence passages into a cited natural-language answer
// or a refusal. The context handed to the model is grouped by source
// document with a header declaring the distinct document count, so the
// model cannot over-count sections or exhibits as separate documents.
type Synthesizer struct {
	AI ai.Client

	// TokenBudget bounds the context string handed to the model.
	TokenBudget int
}

// SynthesisResult carries the generated answer plus the citation map built
// from it. Context is the exact string the model saw (empty for refusals).
type SynthesisResult struct {
	Response  string
	Citations []graph.Citation
	Context   string
	Refused   bool
}

func (s *Synthesizer) Synthesize(ctx context.Context, queryText string, passages []graph.SourcePassage, style ResponseStyle) (SynthesisResult, error) {
	if len(passages) == 0 {
		return SynthesisResult{Response: RefusalText, Refused: true}, nil
	}
	if ShouldRefuse(queryText, passages) {
		return SynthesisResult{Response: RefusalText, Refused: true}, nil
	}

	contextStr, byMarker := buildContext(passages)
	budget := s.TokenBudget
	if budget <= 0 {
		budget = synthDefaultBudget
	}
	contextStr = ai.TruncateToTokens(contextStr, budget)

	if style == StyleExtraction {
		response, citations := extractVerbatim(passages)
		return SynthesisResult{Response: response, Citations: citations, Context: contextStr}, nil
	}

	var template string
	switch style {
	case StyleSummary:
		template = ai.SummaryPrompt
	case StyleAudit:
		template = ai.AuditTrailPrompt
	default:
		template = ai.DetailedReportPrompt
	}
	prompt := fmt.Sprintf(template, ai.SynthesisRulesPrompt, contextStr, queryText)

	response, err := s.AI.GenerateCompletion(ctx, prompt, ai.WithTemperature(0.2))
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("answer generation failed: %w", err)
	}

	citations := parseCitations(response, byMarker)
	return SynthesisResult{Response: response, Citations: citations, Context: contextStr}, nil
}

// buildContext renders the passages as a citation-indexed context string
// grouped by source document. Markers are assigned in passage order and
// returned so citation parsing can validate against them.
func buildContext(passages []graph.SourcePassage) (string, map[int]graph.SourcePassage) {
	docOrder := make([]string, 0)
	byDoc := make(map[string][]int)
	for i, p := range passages {
		if _, ok := byDoc[p.DocumentID]; !ok {
			docOrder = append(docOrder, p.DocumentID)
		}
		byDoc[p.DocumentID] = append(byDoc[p.DocumentID], i)
	}

	byMarker := make(map[int]graph.SourcePassage, len(passages))
	var b strings.Builder
	fmt.Fprintf(&b, "The context below is drawn from %d distinct documents. Sections and exhibits of one document are NOT separate documents.\n", len(docOrder))

	marker := 0
	for _, docID := range docOrder {
		indices := byDoc[docID]
		title := passages[indices[0]].Document
		if title == "" {
			title = docID
		}
		fmt.Fprintf(&b, "\n## Document: %s\n", title)
		for _, i := range indices {
			p := passages[i]
			marker++
			byMarker[marker] = p
			if p.SectionPath != "" {
				fmt.Fprintf(&b, "[[%d]] (%s) %s\n", marker, p.SectionPath, p.Text)
			} else {
				fmt.Fprintf(&b, "[[%d]] %s\n", marker, p.Text)
			}
		}
	}
	return b.String(), byMarker
}

// parseCitations extracts [[N]] markers from the generated text, keeping
// only markers that exist in the context map, deduplicated in first-seen
// order. Unknown markers are dropped, not trusted.
func parseCitations(response string, byMarker map[int]graph.SourcePassage) []graph.Citation {
	matches := citationMarkerPattern.FindAllStringSubmatch(response, -1)
	seen := make(map[int]struct{}, len(matches))
	citations := make([]graph.Citation, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		p, ok := byMarker[n]
		if !ok {
			continue
		}
		seen[n] = struct{}{}
		citations = append(citations, graph.Citation{
			Marker:     n,
			ChunkID:    p.ChunkID,
			DocumentID: p.DocumentID,
			Document:   p.Document,
			Preview:    previewText(p.Text),
		})
	}
	return citations
}

// extractVerbatim bypasses generation entirely and echoes every passage
// with its citation marker. Used for reproducibility testing.
func extractVerbatim(passages []graph.SourcePassage) (string, []graph.Citation) {
	var b strings.Builder
	citations := make([]graph.Citation, 0, len(passages))
	for i, p := range passages {
		marker := i + 1
		fmt.Fprintf(&b, "[[%d]] %s\n", marker, p.Text)
		citations = append(citations, graph.Citation{
			Marker:     marker,
			ChunkID:    p.ChunkID,
			DocumentID: p.DocumentID,
			Document:   p.Document,
			Preview:    previewText(p.Text),
		})
	}
	return strings.TrimRight(b.String(), "\n"), citations
}

func previewText(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= citationPreviewLen {
		return text
	}
	return text[:citationPreviewLen]
}

// factProbe pairs a query pattern for a specific-fact question with the
// evidence vocabulary that must be present for the fact to be answerable.
type factProbe struct {
	name     string
	query    *regexp.Regexp
	evidence *regexp.Regexp
}

var factProbes = []factProbe{
	{
		name:     "governing_law",
		query:    regexp.MustCompile(`(?i)\bgoverning law\b|\bgoverned by\b|\bwhich (state|country|jurisdiction).{0,20}law\b`),
		evidence: regexp.MustCompile(`(?i)\bgoverning law\b|\bgoverned by\b|\blaws of\b|\bjurisdiction\b`),
	},
	{
		name:     "routing_number",
		query:    regexp.MustCompile(`(?i)\brouting (number|no\.?)\b|\baba (number|no\.?)\b`),
		evidence: regexp.MustCompile(`(?i)\brouting\b|\baba\b`),
	},
	{
		name:     "tax_id",
		query:    regexp.MustCompile(`(?i)\btax (id|identification|number)\b|\bein\b|\btin\b|\bvat (id|number)\b`),
		evidence: regexp.MustCompile(`(?i)\btax (id|identification|number)\b|\bein\b|\btin\b|\bvat\b`),
	},
	{
		name:     "shipping_method",
		query:    regexp.MustCompile(`(?i)\bshipping method\b|\bship(ped)? via\b|\bdelivery method\b`),
		evidence: regexp.MustCompile(`(?i)\bship(ping|ped|ment)?\b|\bfreight\b|\bcourier\b|\bfob\b|\bdeliver(y|ed)\b`),
	},
	{
		name:     "bank_code",
		query:    regexp.MustCompile(`(?i)\bswift( code)?\b|\biban\b|\bbic\b`),
		evidence: regexp.MustCompile(`(?i)\bswift\b|\biban\b|\bbic\b`),
	},
}

// ShouldRefuse reports whether the query asks for a specific fact type
// that is provably absent from the evidence text. It is a pure function of
// query text and evidence text, so the refuse/answer decision is stable
// across runs. On a refusal the language model is never invoked.
func ShouldRefuse(queryText string, passages []graph.SourcePassage) bool {
	var matched []factProbe
	for _, probe := range factProbes {
		if probe.query.MatchString(queryText) {
			matched = append(matched, probe)
		}
	}
	if len(matched) == 0 {
		return false
	}

	var b strings.Builder
	for _, p := range passages {
		b.WriteString(p.Text)
		b.WriteByte('\n')
	}
	evidenceText := b.String()

	for _, probe := range matched {
		if !probe.evidence.MatchString(evidenceText) {
			return true
		}
	}
	return false
}
