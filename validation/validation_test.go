package validation

import (
	"encoding/json"
	"testing"

	"github.com/liamcoop/stageconditions/rules"
)

const goToStage = `[{"type":"GoToStage","order":1,"targetStageId":20}]`

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	ev, err := rules.NewCELEvaluator(0)
	if err != nil {
		t.Fatalf("NewCELEvaluator() failed: %v", err)
	}
	return New(rules.NewTranslator(""), ev)
}

func errorCodes(r *Result) []Code {
	codes := make([]Code, 0, len(r.Errors))
	for _, e := range r.Errors {
		codes = append(codes, e.Code)
	}
	return codes
}

func TestValidateCanonical(t *testing.T) {
	v := newTestValidator(t)
	r := v.Validate(
		[]byte(`{"workflowName":"KYC","rules":[{"ruleName":"docs","expression":"input.attachments.fileCount > 0"}]}`),
		[]byte(goToStage),
	)

	if !r.IsValid {
		t.Fatalf("expected valid, got errors %+v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Errorf("unexpected warnings: %+v", r.Warnings)
	}
	if r.Format != rules.FormatCanonical {
		t.Errorf("Format = %s, want canonical", r.Format)
	}
	if r.RuleSet == nil || len(r.RuleSet.Rules) != 1 {
		t.Errorf("RuleSet should hold the parsed rules: %+v", r.RuleSet)
	}
	if len(r.Actions) != 1 {
		t.Errorf("expected 1 decoded action, got %d", len(r.Actions))
	}
}

func TestValidateRulesErrors(t *testing.T) {
	testCases := []struct {
		name  string
		rules string
		want  Code
	}{
		{"Missing", ``, RulesRequired},
		{"Null", `null`, RulesRequired},
		{"Empty", `{"rules":[]}`, RulesEmpty},
		{"Broken JSON", `{"rules":`, InvalidJSON},
		{"Unknown shape", `{"conditions":[]}`, InvalidFormat},
		{"Missing name", `{"workflowName":"W","rules":[{"expression":"input.fields.a == 1"}]}`, RuleNameRequired},
		{"Missing expression", `{"workflowName":"W","rules":[{"ruleName":"a"}]}`, RuleExpressionRequired},
		{"Duplicate name", `{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.a == 1"},{"ruleName":"a","expression":"input.fields.b == 1"}]}`, DuplicateRuleName},
		{"Disallowed path", `{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.secret.x == 1"}]}`, InvalidExpression},
		{"Disallowed char", `{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.a == 1; true"}]}`, InvalidExpression},
		{"Does not compile", `{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.a =="}]}`, InvalidExpression},
		{"Not boolean", `{"workflowName":"W","rules":[{"ruleName":"a","expression":"size(input.fields.a)"}]}`, InvalidExpression},
		{"Untranslatable frontend rule", `{"rules":[{"componentType":"field","componentId":"f","fieldPath":"input.unknown.x","operator":"==","value":1}]}`, InvalidExpression},
	}

	v := newTestValidator(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := v.Validate([]byte(tc.rules), []byte(goToStage))
			if r.IsValid {
				t.Fatal("expected invalid result")
			}
			if !r.HasError(tc.want) {
				t.Errorf("expected %s, got %v", tc.want, errorCodes(r))
			}
		})
	}
}

func TestValidateActionsErrors(t *testing.T) {
	testCases := []struct {
		name    string
		actions string
		want    Code
	}{
		{"Missing", ``, ActionsRequired},
		{"Empty", `[]`, ActionsEmpty},
		{"Broken JSON", `[{"type":`, InvalidJSON},
		{"Not an array", `{"type":"GoToStage"}`, InvalidFormat},
		{"Missing type", `[{"order":1}]`, ActionTypeRequired},
		{"Unknown type", `[{"type":"Teleport"}]`, InvalidActionType},
		{"Bad payload", `[{"type":"GoToStage","targetStageId":"abc"}]`, InvalidFormat},
	}

	v := newTestValidator(t)
	rulesJSON := []byte(`{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.a == 1"}]}`)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := v.Validate(rulesJSON, []byte(tc.actions))
			if r.IsValid {
				t.Fatal("expected invalid result")
			}
			if !r.HasError(tc.want) {
				t.Errorf("expected %s, got %v", tc.want, errorCodes(r))
			}
			if r.Actions != nil {
				t.Error("Actions should be nil when any action fails to decode")
			}
		})
	}
}

func TestValidateReportsEveryBadAction(t *testing.T) {
	r := newTestValidator(t).Validate(
		[]byte(`{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.a == 1"}]}`),
		[]byte(`[{"order":1},{"type":"Nope"},{"type":"EndWorkflow"}]`),
	)
	if len(r.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %+v", r.Errors)
	}
	if r.Errors[0].Field != "actions[0].type" || r.Errors[1].Field != "actions[1].type" {
		t.Errorf("unexpected fields: %q, %q", r.Errors[0].Field, r.Errors[1].Field)
	}
}

func TestValidateWarnings(t *testing.T) {
	testCases := []struct {
		name    string
		source  int64
		rules   string
		actions string
		want    Code
	}{
		{
			name:    "Frontend converted",
			rules:   `{"logic":"AND","rules":[{"componentType":"field","componentId":"f","fieldPath":"input.fields.a","operator":"==","value":1}]}`,
			actions: goToStage,
			want:    FormatConverted,
		},
		{
			name:    "Workflow name empty",
			rules:   `{"rules":[{"ruleName":"a","expression":"input.fields.a == 1"}]}`,
			actions: goToStage,
			want:    WorkflowNameEmpty,
		},
		{
			name:    "Conflicting equality under AND",
			rules:   `{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.status == \"A\""},{"ruleName":"b","expression":"input.fields.status == \"B\""}]}`,
			actions: goToStage,
			want:    ConflictingRules,
		},
		{
			name:    "Two stage-control actions",
			rules:   `{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.a == 1"}]}`,
			actions: `[{"type":"GoToStage","order":1,"targetStageId":20},{"type":"EndWorkflow","order":2}]`,
			want:    ConflictingStageActions,
		},
		{
			name:    "Different GoToStage targets",
			rules:   `{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.a == 1"}]}`,
			actions: `[{"type":"GoToStage","order":1,"targetStageId":20},{"type":"GoToStage","order":2,"targetStageId":30}]`,
			want:    MultipleGoToStageTargets,
		},
		{
			name:    "Self loop",
			source:  20,
			rules:   `{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.a == 1"}]}`,
			actions: goToStage,
			want:    CircularReference,
		},
		{
			name:    "Missing parameter",
			rules:   `{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.a == 1"}]}`,
			actions: `[{"type":"UpdateField","order":1}]`,
			want:    MissingActionParameter,
		},
	}

	v := newTestValidator(t)
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := v.ValidateForStage(tc.source, []byte(tc.rules), []byte(tc.actions))
			if !r.IsValid {
				t.Fatalf("warnings must not block, got errors %+v", r.Errors)
			}
			if !r.HasWarning(tc.want) {
				t.Errorf("expected warning %s, got %+v", tc.want, r.Warnings)
			}
		})
	}
}

func TestValidateNoConflictUnderOr(t *testing.T) {
	r := newTestValidator(t).Validate(
		[]byte(`{"workflowName":"W","logic":"OR","rules":[{"ruleName":"a","expression":"input.fields.status == \"A\""},{"ruleName":"b","expression":"input.fields.status == \"B\""}]}`),
		[]byte(goToStage),
	)
	if r.HasWarning(ConflictingRules) {
		t.Error("alternatives under OR are not a conflict")
	}
}

func TestValidateSameEqualityNotConflict(t *testing.T) {
	r := newTestValidator(t).Validate(
		[]byte(`{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.n == 1"},{"ruleName":"b","expression":"input.fields.n == 1"},{"ruleName":"c","expression":"input.fields.n > 2"}]}`),
		[]byte(goToStage),
	)
	if r.HasWarning(ConflictingRules) {
		t.Errorf("unexpected conflict: %+v", r.Warnings)
	}
}

func TestValidateSelfLoopNeedsSourceStage(t *testing.T) {
	r := newTestValidator(t).Validate(
		[]byte(`{"workflowName":"W","rules":[{"ruleName":"a","expression":"input.fields.a == 1"}]}`),
		[]byte(goToStage),
	)
	if r.HasWarning(CircularReference) {
		t.Error("no source stage means no self-loop check")
	}
}

// Well-formed rule builder input stays valid after translation.
func TestTranslateThenValidate(t *testing.T) {
	configs := []rules.FrontendRuleConfig{
		{
			Logic: rules.LogicAnd,
			Rules: []rules.FrontendRule{
				{ComponentType: rules.ComponentChecklist, ComponentID: "123", FieldPath: `input.checklist.tasks["123"]["456"].isCompleted`, Operator: "==", Value: true},
				{ComponentType: rules.ComponentQuestionnaire, ComponentID: "q1", FieldPath: `input.questionnaire.totalScore["q1"]`, Operator: ">=", Value: "80"},
			},
		},
		{
			Logic: rules.LogicOr,
			Rules: []rules.FrontendRule{
				{ComponentType: rules.ComponentAttachment, ComponentID: "docs", FieldPath: "input.attachments.fileNames", Operator: "isNotEmpty"},
				{ComponentType: rules.ComponentField, ComponentID: "country", FieldPath: "input.fields.country", Operator: "in", Value: []any{"CA", "US"}},
				{ComponentType: rules.ComponentField, ComponentID: "name", FieldPath: "input.fields.name", Operator: "contains", Value: "Acme"},
			},
		},
	}

	tr := rules.NewTranslator("")
	v := newTestValidator(t)
	for i, cfg := range configs {
		set, skipped := tr.Translate(cfg)
		if len(skipped) != 0 {
			t.Fatalf("config %d: unexpected skipped rules %+v", i, skipped)
		}
		data, err := json.Marshal(set)
		if err != nil {
			t.Fatalf("config %d: marshal failed: %v", i, err)
		}

		r := v.Validate(data, []byte(goToStage))
		if !r.IsValid || len(r.Errors) != 0 {
			t.Errorf("config %d: expected valid, got %+v", i, r.Errors)
		}
	}
}

func TestNotFoundResult(t *testing.T) {
	r := NotFoundResult("condition 9")
	if r.IsValid || !r.HasError(NotFound) {
		t.Errorf("unexpected result: %+v", r)
	}
}
