package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/liamcoop/stageconditions/actions"
	"github.com/liamcoop/stageconditions/internal/logger"
	"github.com/liamcoop/stageconditions/rules"
	"github.com/liamcoop/stageconditions/store"
	"github.com/liamcoop/stageconditions/validation"
)

var (
	// ErrNotFound is returned by collaborators for an unknown condition or onboarding
	ErrNotFound = errors.New("not found")
	// ErrInvalidCondition is returned by Run when a stored condition fails validation
	ErrInvalidCondition = errors.New("condition is not valid")
	// ErrNoConditionSource is returned by Run when no rules were given and no source is set
	ErrNoConditionSource = errors.New("no condition source configured")
)

// DefaultSystemUser is the operator recorded for runs that name none
const DefaultSystemUser = "system"

// ComponentDataProvider returns the business data snapshot of an onboarding stage
type ComponentDataProvider interface {
	BusinessData(ctx context.Context, onboardingID, stageID int64) (*rules.BusinessDataContext, error)
}

// WorkflowStageProvider returns the ordered stage list of an onboarding's workflow.
// A ComponentDataProvider may implement it so SkipStage can resolve without the caller.
type WorkflowStageProvider interface {
	WorkflowStages(ctx context.Context, onboardingID int64) ([]int64, error)
}

// Condition is a stored condition definition
type Condition struct {
	ID            int64           `json:"id"`
	SourceStageID int64           `json:"sourceStageId"`
	Rules         json.RawMessage `json:"rules"`
	Actions       json.RawMessage `json:"actions"`
}

// ConditionSource loads condition definitions. Unknown IDs return an error wrapping ErrNotFound.
type ConditionSource interface {
	Condition(ctx context.Context, conditionID int64) (*Condition, error)
}

// Dependencies are the collaborators a Runtime dispatches to. Only Data is needed for Run;
// Conditions and Runs are optional.
type Dependencies struct {
	Collaborators actions.Collaborators
	Data          ComponentDataProvider
	Conditions    ConditionSource
	Runs          store.RunStore
}

// Options are the runtime's tunables
type Options struct {
	DefaultWorkflowName string
	SystemUser          string
	Executor            actions.Config
	ProgramCacheSize    int
	Logger              *slog.Logger
}

// Runtime wires translation, validation, evaluation and execution into one service.
// It is safe for concurrent use; Run serializes calls per (onboarding, stage, condition).
type Runtime struct {
	translator *rules.Translator
	evaluator  *rules.Evaluator
	validator  *validation.Validator
	executor   *actions.Executor
	deps       Dependencies
	locks      *keyedLock
	logger     *slog.Logger
	systemUser string
}

// New creates a runtime with a CEL expression engine
func New(deps Dependencies, opts Options) (*Runtime, error) {
	cel, err := rules.NewCELEvaluator(opts.ProgramCacheSize)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	systemUser := strings.TrimSpace(opts.SystemUser)
	if systemUser == "" {
		systemUser = DefaultSystemUser
	}

	translator := rules.NewTranslator(opts.DefaultWorkflowName)
	return &Runtime{
		translator: translator,
		evaluator:  rules.NewEvaluator(cel),
		validator:  validation.New(translator, cel),
		executor:   actions.NewExecutor(deps.Collaborators, opts.Executor, actions.WithLogger(logger)),
		deps:       deps,
		locks:      newKeyedLock(),
		logger:     logger,
		systemUser: systemUser,
	}, nil
}

// Validate checks a condition's rules and actions
func (rt *Runtime) Validate(rulesJSON, actionsJSON []byte) *validation.Result {
	return rt.validator.Validate(rulesJSON, actionsJSON)
}

// ValidateForStage checks a condition attached to sourceStageID
func (rt *Runtime) ValidateForStage(sourceStageID int64, rulesJSON, actionsJSON []byte) *validation.Result {
	return rt.validator.ValidateForStage(sourceStageID, rulesJSON, actionsJSON)
}

// ValidateCondition loads a stored condition and validates it. An unknown condition yields a
// NOT_FOUND result rather than an error.
func (rt *Runtime) ValidateCondition(ctx context.Context, conditionID int64) (*validation.Result, error) {
	cond, err := rt.loadCondition(ctx, conditionID)
	if errors.Is(err, ErrNotFound) {
		return validation.NotFoundResult(fmt.Sprintf("condition %d", conditionID)), nil
	}
	if err != nil {
		return nil, err
	}
	return rt.validator.ValidateForStage(cond.SourceStageID, cond.Rules, cond.Actions), nil
}

// Translate converts a rule builder config into a canonical rule set
func (rt *Runtime) Translate(cfg rules.FrontendRuleConfig) (rules.CanonicalRuleSet, []rules.SkippedRule) {
	return rt.translator.Translate(cfg)
}

// ParseRules reads rules JSON in either shape
func (rt *Runtime) ParseRules(data []byte) (*rules.ParsedRules, error) {
	return rt.translator.Parse(data)
}

// Evaluate evaluates set against a business data snapshot
func (rt *Runtime) Evaluate(set rules.CanonicalRuleSet, bdc *rules.BusinessDataContext) *rules.ConditionEvaluationResult {
	return rt.evaluator.Evaluate(set, bdc)
}

// Execute runs actions for an onboarding stage. An empty operator becomes the system user.
func (rt *Runtime) Execute(ctx context.Context, ec actions.ExecutionContext, list []actions.Action) *actions.ExecutionResult {
	if strings.TrimSpace(ec.Operator) == "" {
		ec.Operator = rt.systemUser
	}
	return rt.executor.Execute(ctx, ec, list)
}

// RunRequest identifies the stage a condition runs for. When RuleSet is nil the condition is
// loaded from the ConditionSource and must validate.
type RunRequest struct {
	OnboardingID   int64                   `json:"onboardingId"`
	StageID        int64                   `json:"stageId"`
	ConditionID    int64                   `json:"conditionId"`
	RuleSet        *rules.CanonicalRuleSet `json:"ruleSet,omitempty"`
	Actions        actions.List            `json:"actions,omitempty"`
	WorkflowStages []int64                 `json:"workflowStages,omitempty"`
	Operator       string                  `json:"operator,omitempty"`
}

// RunOutcome is the result of one Run
type RunOutcome struct {
	// RunID is empty when no RunStore is configured or recording failed
	RunID      string                           `json:"runId,omitempty"`
	Validation *validation.Result               `json:"validation,omitempty"`
	Evaluation *rules.ConditionEvaluationResult `json:"evaluation"`
	Execution  *actions.ExecutionResult         `json:"execution,omitempty"`
}

// Run fetches the stage's business data, evaluates the condition and, when it is met,
// executes its actions. Runs for the same (onboarding, stage, condition) never overlap.
// Rule and action failures are reported in the outcome; the returned error is reserved for
// runs that could not start.
func (rt *Runtime) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	unlock, err := rt.locks.Lock(ctx, runKey(req.OnboardingID, req.StageID, req.ConditionID))
	if err != nil {
		return nil, fmt.Errorf("waiting for run lock: %w", err)
	}
	defer unlock()

	start := time.Now()
	outcome := &RunOutcome{}
	set, list := req.RuleSet, req.Actions
	if set == nil {
		v, err := rt.resolveCondition(ctx, req.ConditionID, req.StageID)
		outcome.Validation = v
		if err != nil {
			return outcome, err
		}
		set, list = v.RuleSet, v.Actions
	}

	bdc, err := rt.businessData(ctx, req)
	if err != nil {
		rt.logger.Warn("business data unavailable",
			"onboarding_id", req.OnboardingID,
			"stage_id", req.StageID,
			"error", err,
		)
		outcome.Evaluation = rules.FailedEvaluation(*set, fmt.Sprintf("failed to build business data context: %v", err))
	} else {
		outcome.Evaluation = rt.evaluator.Evaluate(*set, bdc)
	}

	if outcome.Evaluation.IsConditionMet {
		ec := actions.ExecutionContext{
			OnboardingID:   req.OnboardingID,
			StageID:        req.StageID,
			ConditionID:    req.ConditionID,
			WorkflowStages: rt.workflowStages(ctx, req),
			Operator:       req.Operator,
		}
		outcome.Execution = rt.Execute(ctx, ec, list)
		outcome.Evaluation.NextStageID = outcome.Execution.NextStageID
		outcome.Evaluation.ActionResults = outcome.Execution.Details
	}

	rt.record(ctx, req, outcome)

	rt.logger.Info("condition run",
		"onboarding_id", req.OnboardingID,
		"stage_id", req.StageID,
		"condition_id", req.ConditionID,
		"condition_met", outcome.Evaluation.IsConditionMet,
		"actions", len(outcome.Evaluation.ActionResults),
		"duration", time.Since(start).String(),
	)
	return outcome, nil
}

func (rt *Runtime) loadCondition(ctx context.Context, conditionID int64) (*Condition, error) {
	if rt.deps.Conditions == nil {
		return nil, ErrNoConditionSource
	}
	cond, err := rt.deps.Conditions.Condition(ctx, conditionID)
	if err != nil {
		return nil, fmt.Errorf("loading condition %d: %w", conditionID, err)
	}
	return cond, nil
}

// resolveCondition loads and validates a stored condition. The condition's own source stage
// is used for the self-loop check, falling back to the stage being run.
func (rt *Runtime) resolveCondition(ctx context.Context, conditionID, stageID int64) (*validation.Result, error) {
	cond, err := rt.loadCondition(ctx, conditionID)
	if errors.Is(err, ErrNotFound) {
		return validation.NotFoundResult(fmt.Sprintf("condition %d", conditionID)), err
	}
	if err != nil {
		return nil, err
	}

	source := cond.SourceStageID
	if source == 0 {
		source = stageID
	}
	v := rt.validator.ValidateForStage(source, cond.Rules, cond.Actions)
	if !v.IsValid {
		return v, fmt.Errorf("condition %d: %w", conditionID, ErrInvalidCondition)
	}
	return v, nil
}

func (rt *Runtime) businessData(ctx context.Context, req RunRequest) (*rules.BusinessDataContext, error) {
	if rt.deps.Data == nil {
		return nil, errors.New("no component data provider configured")
	}
	return rt.deps.Data.BusinessData(ctx, req.OnboardingID, req.StageID)
}

func (rt *Runtime) workflowStages(ctx context.Context, req RunRequest) []int64 {
	if len(req.WorkflowStages) > 0 {
		return req.WorkflowStages
	}
	p, ok := rt.deps.Data.(WorkflowStageProvider)
	if !ok {
		return nil
	}
	stages, err := p.WorkflowStages(ctx, req.OnboardingID)
	if err != nil {
		// SkipStage fails on its own without the stage list.
		rt.logger.Warn("workflow stages unavailable", "onboarding_id", req.OnboardingID, "error", err)
		return nil
	}
	return stages
}

func (rt *Runtime) record(ctx context.Context, req RunRequest, outcome *RunOutcome) {
	if rt.deps.Runs == nil {
		return
	}
	rec := &store.RunRecord{
		OnboardingID:   req.OnboardingID,
		StageID:        req.StageID,
		ConditionID:    req.ConditionID,
		IsConditionMet: outcome.Evaluation.IsConditionMet,
		Evaluation:     outcome.Evaluation,
		Execution:      outcome.Execution,
	}
	// A cancelled run is still recorded.
	if err := rt.deps.Runs.Add(context.WithoutCancel(ctx), rec); err != nil {
		logger.RunNotRecorded()
		rt.logger.Error("failed to record run",
			"onboarding_id", req.OnboardingID,
			"stage_id", req.StageID,
			"error", err,
		)
		return
	}
	outcome.RunID = rec.ID
}

// Runs lists the recorded runs of an onboarding
func (rt *Runtime) Runs(ctx context.Context, onboardingID int64) ([]*store.RunRecord, error) {
	if rt.deps.Runs == nil {
		return []*store.RunRecord{}, nil
	}
	return rt.deps.Runs.ListByOnboarding(ctx, onboardingID)
}
