package rules

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	return NewEvaluator(newTestCEL(t))
}

func sampleContext() *BusinessDataContext {
	score := 85.0
	return &BusinessDataContext{
		OnboardingID: 7,
		StageID:      10,
		Checklists: []ChecklistData{{
			ChecklistID:    "123",
			Status:         "Completed",
			CompletedCount: 1,
			TotalCount:     1,
			Tasks:          []TaskStatusData{{TaskID: "456", Name: "Collect ID", IsCompleted: true}},
		}},
		Questionnaires: []QuestionnaireData{{
			QuestionnaireID: "q1",
			Status:          "Submitted",
			TotalScore:      &score,
			Answers:         map[string]any{"risk": "low"},
		}},
		Attachments: AttachmentData{FileCount: 2, TotalSize: 4096, FileNames: []string{"a.pdf", "b.pdf"}},
		Fields:      map[string]any{"region": "EU", "amount": 1200.0},
	}
}

func TestEvaluateTaskRule(t *testing.T) {
	set, skipped := NewTranslator("").Translate(FrontendRuleConfig{
		Logic: LogicAnd,
		Rules: []FrontendRule{{
			ComponentType: ComponentChecklist,
			ComponentID:   "123",
			FieldPath:     `input.checklist.tasks["123"]["456"].isCompleted`,
			Operator:      "==",
			Value:         true,
		}},
	})
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped rules: %+v", skipped)
	}

	result := newTestEvaluator(t).Evaluate(set, sampleContext())

	if !result.IsConditionMet {
		t.Fatalf("condition should be met: %+v", result)
	}
	if len(result.RuleResults) != 1 {
		t.Fatalf("expected 1 rule result, got %d", len(result.RuleResults))
	}
	detail := result.RuleResults[0]
	if !detail.IsSuccess || detail.ErrorMessage != "" {
		t.Errorf("unexpected detail: %+v", detail)
	}
	if detail.ActualValue != true {
		t.Errorf("ActualValue = %v, want true", detail.ActualValue)
	}
	if result.ErrorMessage != "" {
		t.Errorf("unexpected ErrorMessage: %s", result.ErrorMessage)
	}
}

func TestEvaluateStringValuesOnTypedProperties(t *testing.T) {
	set, skipped := NewTranslator("").Translate(FrontendRuleConfig{
		Rules: []FrontendRule{
			{ComponentType: ComponentChecklist, ComponentID: "123", FieldPath: `input.checklist.tasks["123"]["456"].isCompleted`, Operator: "==", Value: "true"},
			{ComponentType: ComponentChecklist, ComponentID: "123", FieldPath: "input.checklist.completedCount", Operator: "==", Value: "1"},
		},
	})
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped rules: %+v", skipped)
	}

	result := newTestEvaluator(t).Evaluate(set, sampleContext())
	for _, detail := range result.RuleResults {
		if !detail.IsSuccess {
			t.Errorf("rule %s (%s) failed: %+v", detail.RuleName, detail.Expression, detail)
		}
	}
	if !result.IsConditionMet {
		t.Errorf("condition should be met: %+v", result)
	}
}

func TestEvaluateLogic(t *testing.T) {
	passing := CanonicalRule{RuleName: "pass", Expression: `input.attachments.fileCount >= 2`}
	failing := CanonicalRule{RuleName: "fail", Expression: `input.fields.region == "US"`}
	broken := CanonicalRule{RuleName: "broken", Expression: `input.fields.missing == 1`}

	testCases := []struct {
		name  string
		logic Logic
		rules []CanonicalRule
		want  bool
	}{
		{"AND all pass", LogicAnd, []CanonicalRule{passing, passing}, true},
		{"AND one fails", LogicAnd, []CanonicalRule{failing, passing}, false},
		{"AND with error", LogicAnd, []CanonicalRule{passing, broken}, false},
		{"OR one passes", LogicOr, []CanonicalRule{failing, passing}, true},
		{"OR none pass", LogicOr, []CanonicalRule{failing, broken}, false},
		{"OR error then pass", LogicOr, []CanonicalRule{broken, passing}, true},
		{"Empty logic means AND", "", []CanonicalRule{passing, failing}, false},
	}

	ev := newTestEvaluator(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			set := CanonicalRuleSet{WorkflowName: "W", Logic: tc.logic, Rules: tc.rules}
			result := ev.Evaluate(set, sampleContext())

			if result.IsConditionMet != tc.want {
				t.Errorf("IsConditionMet = %v, want %v", result.IsConditionMet, tc.want)
			}
			// Every rule is reported even once the outcome is known.
			if len(result.RuleResults) != len(tc.rules) {
				t.Errorf("expected %d rule results, got %d", len(tc.rules), len(result.RuleResults))
			}
			if result.ErrorMessage != "" {
				t.Errorf("rule failures should not set ErrorMessage: %s", result.ErrorMessage)
			}
		})
	}
}

func TestEvaluateRecordsRuleErrors(t *testing.T) {
	set := CanonicalRuleSet{
		WorkflowName: "W",
		Rules: []CanonicalRule{
			{RuleName: "missing", Expression: `input.fields.missing == 1`},
			{RuleName: "guarded", Expression: `input.secrets.token == "x"`},
			{RuleName: "template", Expression: `input.fields.region == ${x}`},
		},
	}

	result := newTestEvaluator(t).Evaluate(set, sampleContext())

	for _, d := range result.RuleResults {
		if d.IsSuccess {
			t.Errorf("%s should fail", d.RuleName)
		}
		if d.ErrorMessage == "" {
			t.Errorf("%s should carry an error message", d.RuleName)
		}
	}
	if !strings.Contains(result.RuleResults[1].ErrorMessage, "prefix") {
		t.Errorf("guarded rule should report the prefix: %s", result.RuleResults[1].ErrorMessage)
	}
}

func TestEvaluateFatalContext(t *testing.T) {
	set := CanonicalRuleSet{
		WorkflowName: "W",
		Rules: []CanonicalRule{
			{RuleName: "a", Expression: `input.fields.region == "EU"`},
			{RuleName: "b", Expression: `input.attachments.hasAttachment`},
		},
	}
	broken := &BusinessDataContext{Checklists: []ChecklistData{{ChecklistID: ""}}}

	for name, ctx := range map[string]*BusinessDataContext{"nil": nil, "malformed": broken} {
		t.Run(name, func(t *testing.T) {
			result := newTestEvaluator(t).Evaluate(set, ctx)
			if result.IsConditionMet {
				t.Error("condition should not be met")
			}
			if result.ErrorMessage == "" {
				t.Error("fatal failure should set ErrorMessage")
			}
			if len(result.RuleResults) != 2 {
				t.Errorf("expected a detail per rule, got %d", len(result.RuleResults))
			}
		})
	}
}

func TestEvaluateEmptyRuleSet(t *testing.T) {
	result := newTestEvaluator(t).Evaluate(CanonicalRuleSet{WorkflowName: "W"}, sampleContext())
	if result.IsConditionMet {
		t.Error("empty rule set should not be met")
	}
	if result.ErrorMessage == "" {
		t.Error("empty rule set should set ErrorMessage")
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	set := CanonicalRuleSet{
		WorkflowName: "W",
		Logic:        LogicOr,
		Rules: []CanonicalRule{
			{RuleName: "answers", Expression: `input.questionnaire.answers["q1"].risk == "low"`},
			{RuleName: "score", Expression: `input.questionnaire.totalScore["q1"] > 80`},
			{RuleName: "files", Expression: `input.attachments.fileNames.exists(f, f == "a.pdf")`},
			{RuleName: "broken", Expression: `input.fields.nope > 1`},
		},
	}
	ev := newTestEvaluator(t)

	first, err := json.Marshal(ev.Evaluate(set, sampleContext()))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := json.Marshal(ev.Evaluate(set, sampleContext()))
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("evaluation %d differs:\n%s\n%s", i, first, again)
		}
	}
}
