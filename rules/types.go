package rules

import (
	"fmt"
	"strings"

	"github.com/liamcoop/stageconditions/actions"
)

// DefaultWorkflowName names canonical rule sets whose author supplied none
const DefaultWorkflowName = "StageCondition"

// Logic selects how rule outcomes aggregate into the condition outcome
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// ParseLogic normalizes a logic keyword. Empty means AND.
func ParseLogic(s string) (Logic, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND", "&&", "ALL":
		return LogicAnd, nil
	case "OR", "||", "ANY":
		return LogicOr, nil
	default:
		return "", fmt.Errorf("unknown logic %q (must be AND or OR)", s)
	}
}

// ComponentType is the kind of stage component a frontend rule reads from
type ComponentType string

const (
	ComponentChecklist     ComponentType = "checklist"
	ComponentQuestionnaire ComponentType = "questionnaire"
	ComponentField         ComponentType = "field"
	ComponentAttachment    ComponentType = "attachment"
)

func (c ComponentType) valid() bool {
	switch c {
	case ComponentChecklist, ComponentQuestionnaire, ComponentField, ComponentAttachment:
		return true
	}
	return false
}

// FrontendRule is one row of the rule builder. Ids decode from JSON strings or numbers.
type FrontendRule struct {
	SourceStageID actions.StageID `json:"sourceStageId,omitempty"`
	ComponentType ComponentType   `json:"componentType"`
	ComponentID   actions.ID      `json:"componentId"`
	FieldPath     string          `json:"fieldPath"`
	Operator      string          `json:"operator"`
	Value         any             `json:"value"`
}

// FrontendRuleConfig is the author-facing rule set produced by the rule builder
type FrontendRuleConfig struct {
	WorkflowName string         `json:"workflowName,omitempty"`
	Logic        Logic          `json:"logic"`
	Rules        []FrontendRule `json:"rules"`
}

// CanonicalRule is a named boolean expression over the input namespace
type CanonicalRule struct {
	RuleName   string `json:"ruleName"`
	Expression string `json:"expression"`
}

// CanonicalRuleSet is the evaluator's rule format. Logic defaults to AND.
type CanonicalRuleSet struct {
	WorkflowName string          `json:"workflowName"`
	Logic        Logic           `json:"logic,omitempty"`
	Rules        []CanonicalRule `json:"rules"`
}

// RuleEvaluationDetail is the outcome of one canonical rule
type RuleEvaluationDetail struct {
	RuleName     string `json:"ruleName"`
	IsSuccess    bool   `json:"isSuccess"`
	Expression   string `json:"expression"`
	ActualValue  any    `json:"actualValue,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ConditionEvaluationResult is the outcome of evaluating a condition, optionally followed by
// its actions
type ConditionEvaluationResult struct {
	IsConditionMet bool                      `json:"isConditionMet"`
	RuleResults    []RuleEvaluationDetail    `json:"ruleResults"`
	NextStageID    *int64                    `json:"nextStageId,omitempty"`
	ActionResults  []actions.ExecutionDetail `json:"actionResults,omitempty"`
	ErrorMessage   string                    `json:"errorMessage,omitempty"`
}
