package main

import (
	"encoding/json"

	"github.com/liamcoop/stageconditions/actions"
	"github.com/liamcoop/stageconditions/rules"
	"github.com/liamcoop/stageconditions/store"
)

// ValidateRequest validates inline rules and actions, or a stored condition when
// ConditionID is set and both documents are omitted
type ValidateRequest struct {
	ConditionID   int64           `json:"conditionId,omitempty"`
	SourceStageID int64           `json:"sourceStageId,omitempty"`
	Rules         json.RawMessage `json:"rules,omitempty"`
	Actions       json.RawMessage `json:"actions,omitempty"`
}

// TranslateResponse carries a translated rule set and the rules left out of it
type TranslateResponse struct {
	RuleSet rules.CanonicalRuleSet `json:"ruleSet"`
	Skipped []rules.SkippedRule    `json:"skipped"`
}

// EvaluateRequest evaluates rules in either shape against a supplied snapshot
type EvaluateRequest struct {
	Rules   json.RawMessage            `json:"rules"`
	Context *rules.BusinessDataContext `json:"context"`
}

// ExecuteRequest runs actions outside of an evaluation
type ExecuteRequest struct {
	OnboardingID   int64           `json:"onboardingId"`
	StageID        int64           `json:"stageId"`
	ConditionID    int64           `json:"conditionId,omitempty"`
	WorkflowStages []int64         `json:"workflowStages,omitempty"`
	Operator       string          `json:"operator,omitempty"`
	Actions        json.RawMessage `json:"actions"`
}

// RunRequest runs a condition end to end. Without rules the condition is loaded by id.
type RunRequest struct {
	OnboardingID   int64           `json:"onboardingId"`
	StageID        int64           `json:"stageId"`
	ConditionID    int64           `json:"conditionId"`
	Rules          json.RawMessage `json:"rules,omitempty"`
	Actions        json.RawMessage `json:"actions,omitempty"`
	WorkflowStages []int64         `json:"workflowStages,omitempty"`
	Operator       string          `json:"operator,omitempty"`
}

// RunsResponse lists an onboarding's recorded runs
type RunsResponse struct {
	OnboardingID int64              `json:"onboardingId"`
	Runs         []*store.RunRecord `json:"runs"`
	Count        int                `json:"count"`
}

// HealthResponse reports liveness and the process counters
type HealthResponse struct {
	Status   string           `json:"status"`
	Store    string           `json:"store"`
	Error    string           `json:"error,omitempty"`
	Counters map[string]int64 `json:"counters"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func failedActions(res *actions.ExecutionResult) int {
	if res == nil {
		return 0
	}
	n := 0
	for _, d := range res.Details {
		if !d.Success {
			n++
		}
	}
	return n
}
