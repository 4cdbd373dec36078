package query

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/murre-ai/murre/pkg/graph"
)

func evidenceNodes(ids ...string) []graph.EvidenceNode {
	out := make([]graph.EvidenceNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, graph.EvidenceNode{EntityID: id, Name: id, Score: 1})
	}
	return out
}

func TestScoreConfidence_OneUnderEvidencedSubQuestion(t *testing.T) {
	// Three sub-questions, one with zero evidence: satisfied ratio 2/3.
	results := []subQuestionEvidence{
		{question: "q1", evidence: evidenceNodes("e1", "e2")},
		{question: "q2", evidence: evidenceNodes("e3", "e4")},
		{question: "q3"},
	}

	confidence, diversity, concentrated := scoreConfidence(results)

	// Four mentions, four unique entities: diversity 1, no concentration.
	wantConfidence := 0.6*(2.0/3.0) + 0.4*1.0
	if math.Abs(confidence-wantConfidence) > 1e-9 {
		t.Errorf("confidence = %v, want %v", confidence, wantConfidence)
	}
	if diversity != 1.0 {
		t.Errorf("diversity = %v, want 1.0", diversity)
	}
	if len(concentrated) != 0 {
		t.Errorf("concentrated = %v, want none", concentrated)
	}

	// Confidence 0.8 with full diversity must not trigger a retry; the
	// zero-evidence sub-question passes through to synthesis.
	c := &DriftController{}
	if c.shouldRetry(confidence, diversity, concentrated, len(results)) {
		t.Error("shouldRetry() = true, want pass-through without retry")
	}
}

func TestScoreConfidence_ConcentrationPenalty(t *testing.T) {
	// One entity appears in all three sub-questions.
	results := []subQuestionEvidence{
		{question: "q1", evidence: evidenceNodes("hub", "x")},
		{question: "q2", evidence: evidenceNodes("hub", "y")},
		{question: "q3", evidence: evidenceNodes("hub", "z")},
	}

	confidence, _, concentrated := scoreConfidence(results)
	if len(concentrated) != 1 || concentrated[0] != "hub" {
		t.Fatalf("concentrated = %v, want [hub]", concentrated)
	}

	// satisfied 3/3, diversity 4/6, full concentration penalty 0.2.
	want := 0.6*1.0 + 0.4*(4.0/6.0) - 0.2
	if math.Abs(confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", confidence, want)
	}

	c := &DriftController{}
	if !c.shouldRetry(confidence, 4.0/6.0, concentrated, len(results)) {
		t.Error("shouldRetry() = false, want retry for concentrated entities below 0.7")
	}
}

func TestShouldRetry_Bounds(t *testing.T) {
	c := &DriftController{}
	tests := []struct {
		name         string
		confidence   float64
		diversity    float64
		concentrated []string
		count        int
		want         bool
	}{
		{"low confidence single question", 0.2, 1, nil, 1, false},
		{"low confidence multiple questions", 0.2, 1, nil, 2, true},
		{"low diversity two questions", 0.9, 0.1, nil, 2, false},
		{"low diversity three questions", 0.9, 0.1, nil, 3, true},
		{"concentrated high confidence", 0.9, 1, []string{"hub"}, 3, false},
		{"healthy", 0.9, 0.9, nil, 3, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.shouldRetry(tc.confidence, tc.diversity, tc.concentrated, tc.count); got != tc.want {
				t.Errorf("shouldRetry() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMergeEvidence_MaxScoreDedupe(t *testing.T) {
	results := []subQuestionEvidence{
		{evidence: []graph.EvidenceNode{{EntityID: "e1", Name: "E1", Score: 0.5}}},
		{evidence: []graph.EvidenceNode{{EntityID: "e1", Name: "E1", Score: 0.9}, {EntityID: "e2", Name: "E2", Score: 0.7}}},
	}

	merged := mergeEvidence(results)
	if len(merged) != 2 {
		t.Fatalf("merged %d nodes, want 2", len(merged))
	}
	if merged[0].EntityID != "e1" || merged[0].Score != 0.9 {
		t.Errorf("top node = %+v, want e1 at max score 0.9", merged[0])
	}
}

func TestClampSubQuestions(t *testing.T) {
	many := []string{"a", "b", "c", "d", "e", "f"}
	if got := clampSubQuestions(many, "original"); len(got) != driftMaxSubQuestions {
		t.Errorf("clamp of 6 = %d sub-questions, want %d", len(got), driftMaxSubQuestions)
	}
	if got := clampSubQuestions(nil, "original"); len(got) != 1 || got[0] != "original" {
		t.Errorf("clamp of none = %v, want the original question", got)
	}
	if got := clampSubQuestions([]string{"  ", "one", ""}, "original"); len(got) != 2 {
		t.Errorf("clamp should drop blank entries, got %v", got)
	}
}

func TestDriftController_RunWithoutRetry(t *testing.T) {
	st := chainStore()
	model := &fakeAI{
		formatFn: func(prompt string, out any) error {
			d := out.(*decomposition)
			d.SubQuestions = []string{"What does Seed One supply?", "Who owns Beta?"}
			return nil
		},
		completionFn: func(prompt string) (string, error) {
			return "- Seed One\n- Beta", nil
		},
		embedFn: func(input []byte) ([]float32, error) {
			return []float32{1, 0, 0}, nil
		},
	}

	c := &DriftController{
		Store:         st,
		AI:            model,
		Disambiguator: &Disambiguator{Store: st, AI: model},
		Tracer:        &SemanticBeamTracer{Store: st},
	}

	result, err := c.Run(context.Background(), testTenant, "What does Seed One supply and who owns Beta?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.SubQuestions) != 2 {
		t.Errorf("sub-questions = %v, want 2", result.SubQuestions)
	}
	if len(result.Evidence) == 0 {
		t.Error("Run() produced no evidence")
	}
	if result.Redecomposed && model.formatCalls < 2 {
		t.Error("redecomposed flagged without a second decomposition call")
	}
}

func TestAnswerFromMetadata(t *testing.T) {
	st := chainStore()
	st.AddDocuments(testTenant,
		graph.Document{ID: "d1", Title: "Old Contract", Date: "2019-03-01"},
		graph.Document{ID: "d2", Title: "New Invoice", Date: "2024-11-15"},
	)

	c := &DriftController{Store: st}

	answer, ok := c.AnswerFromMetadata(context.Background(), testTenant, "Which is the most recent document?")
	if !ok {
		t.Fatal("AnswerFromMetadata() did not trigger for a metadata question")
	}
	if !strings.Contains(answer, "New Invoice") {
		t.Errorf("answer %q, want the newest document", answer)
	}

	answer, ok = c.AnswerFromMetadata(context.Background(), testTenant, "What is the oldest document?")
	if !ok || !strings.Contains(answer, "Old Contract") {
		t.Errorf("oldest answer = %q (%v), want Old Contract", answer, ok)
	}

	answer, ok = c.AnswerFromMetadata(context.Background(), testTenant, "How many documents are there?")
	if !ok || !strings.Contains(answer, "2") {
		t.Errorf("count answer = %q (%v), want 2", answer, ok)
	}

	if _, ok := c.AnswerFromMetadata(context.Background(), testTenant, "What are the payment terms?"); ok {
		t.Error("AnswerFromMetadata() triggered for a non-metadata question")
	}
}
