package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// DefaultEndStatus is used by EndWorkflow actions that carry no status
const DefaultEndStatus = "Completed"

// ExecutionDetail records the outcome of one attempted or skipped action
type ExecutionDetail struct {
	ActionType   ActionType     `json:"actionType"`
	Order        int            `json:"order"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	ResultData   map[string]any `json:"resultData,omitempty"`
}

// ExecutionResult contains the outcome of one Execute call
type ExecutionResult struct {
	Success bool              `json:"success"`
	Details []ExecutionDetail `json:"details"`
	// NextStageID is set by a winning GoToStage, or by SkipStage when it lands inside the workflow
	NextStageID   *int64 `json:"nextStageId,omitempty"`
	WorkflowEnded bool   `json:"workflowEnded,omitempty"`
	EndStatus     string `json:"endStatus,omitempty"`
	// Aborted is set when the caller cancelled before every action was attempted
	Aborted bool `json:"aborted,omitempty"`
}

// Executor runs condition actions against the collaborators.
// It holds no per-call state and is safe for concurrent use.
type Executor struct {
	collab Collaborators
	cfg    Config
	logger *slog.Logger
}

// Option customizes an Executor
type Option func(*Executor)

// WithLogger sets the logger used for retries, failures and skipped stage-control actions
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor. Zero fields in cfg fall back to DefaultConfig.
func NewExecutor(collab Collaborators, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		collab: collab,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the winning stage-control action followed by every side-effect action in
// ascending order. A failing action never stops the batch; cancelling ctx stops it after the
// in-flight actions return and keeps the details recorded so far.
func (e *Executor) Execute(ctx context.Context, ec ExecutionContext, list []Action) *ExecutionResult {
	stageControl, sideEffects := partition(list)
	res := &ExecutionResult{Details: make([]ExecutionDetail, 0, len(list))}

	if len(stageControl) > 0 {
		winner := stageControl[0]
		if len(stageControl) > 1 {
			e.logger.Warn("multiple stage-control actions, lowest order wins",
				"onboarding_id", ec.OnboardingID,
				"stage_id", ec.StageID,
				"winner", winner.Type(),
				"winner_order", winner.ExecutionOrder(),
				"skipped", len(stageControl)-1,
			)
		}
		if ctx.Err() != nil {
			res.Aborted = true
		} else {
			res.Details = append(res.Details, e.executeStageControl(ctx, ec, winner, res))
		}
		for _, a := range stageControl[1:] {
			res.Details = append(res.Details, skippedDetail(a, winner))
		}
	}

	if !res.Aborted {
		res.Details = append(res.Details, e.executeSideEffects(ctx, ec, sideEffects, res)...)
	}

	res.Success = !res.Aborted
	for _, d := range res.Details {
		if !d.Success {
			res.Success = false
			break
		}
	}
	return res
}

// partition splits list into stage-control and side-effect groups, each sorted by order.
// Equal orders keep their input position.
func partition(list []Action) (stageControl, sideEffects []Action) {
	for _, a := range list {
		if a == nil {
			continue
		}
		if a.Type().IsStageControl() {
			stageControl = append(stageControl, a)
		} else {
			sideEffects = append(sideEffects, a)
		}
	}
	byOrder := func(s []Action) func(i, j int) bool {
		return func(i, j int) bool { return s[i].ExecutionOrder() < s[j].ExecutionOrder() }
	}
	sort.SliceStable(stageControl, byOrder(stageControl))
	sort.SliceStable(sideEffects, byOrder(sideEffects))
	return stageControl, sideEffects
}

func skippedDetail(a, winner Action) ExecutionDetail {
	return ExecutionDetail{
		ActionType: a.Type(),
		Order:      a.ExecutionOrder(),
		Success:    true,
		ResultData: map[string]any{
			"skipped":     true,
			"reason":      "another stage-control action has a lower order",
			"winnerType":  string(winner.Type()),
			"winnerOrder": winner.ExecutionOrder(),
		},
	}
}

func (e *Executor) executeStageControl(ctx context.Context, ec ExecutionContext, a Action, res *ExecutionResult) ExecutionDetail {
	var (
		next   *int64
		ended  bool
		status string
		data   = map[string]any{}
		op     func(context.Context) error
	)

	switch v := a.(type) {
	case GoToStageAction:
		target := int64(v.TargetStageID)
		data["targetStageId"] = target
		if target == 0 {
			op = fail(errors.New("targetStageId is required"))
			break
		}
		next = &target
		op = e.moveTo(ec, target)

	case SkipStageAction:
		target, completed, err := implicitNextStage(ec, v.SkipCount)
		if err != nil {
			op = fail(err)
			break
		}
		if completed {
			ended, status = true, DefaultEndStatus
			data["workflowCompleted"] = true
			op = e.end(ec, status)
			break
		}
		data["targetStageId"] = target
		next = &target
		op = e.moveTo(ec, target)

	case EndWorkflowAction:
		status = v.EndStatus
		if status == "" {
			status = DefaultEndStatus
		}
		ended = true
		data["endStatus"] = status
		op = e.end(ec, status)

	default:
		op = fail(fmt.Errorf("%w: %s is not a stage-control action", ErrUnknownType, a.Type()))
	}

	d := e.run(ctx, ec, a, data, op)
	if d.Success {
		res.NextStageID = next
		res.WorkflowEnded = ended
		res.EndStatus = status
	}
	return d
}

// implicitNextStage resolves the stage SkipStage lands on. completed is true when the skip
// runs past the last stage.
func implicitNextStage(ec ExecutionContext, skipCount int) (next int64, completed bool, err error) {
	if len(ec.WorkflowStages) == 0 {
		return 0, false, errors.New("workflow stage order is required to resolve SkipStage")
	}
	idx := slices.Index(ec.WorkflowStages, ec.StageID)
	if idx < 0 {
		return 0, false, fmt.Errorf("stage %d is not part of the workflow", ec.StageID)
	}
	if skipCount <= 0 {
		skipCount = 1
	}
	target := idx + 1 + skipCount
	if target >= len(ec.WorkflowStages) {
		return 0, true, nil
	}
	return ec.WorkflowStages[target], false, nil
}

func (e *Executor) moveTo(ec ExecutionContext, target int64) func(context.Context) error {
	return func(ctx context.Context) error {
		if e.collab.Stages == nil {
			return nil
		}
		return e.retry(ctx, GoToStage, func(ctx context.Context) error {
			return e.collab.Stages.MoveToStage(ctx, ec.OnboardingID, ec.StageID, target)
		})
	}
}

func (e *Executor) end(ec ExecutionContext, status string) func(context.Context) error {
	return func(ctx context.Context) error {
		if e.collab.Stages == nil {
			return nil
		}
		return e.retry(ctx, EndWorkflow, func(ctx context.Context) error {
			return e.collab.Stages.EndWorkflow(ctx, ec.OnboardingID, status)
		})
	}
}

func fail(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

// executeSideEffects runs field updates, triggers and assignments one at a time and consecutive
// notifications as a bounded concurrent batch. Details keep the ascending order of list.
func (e *Executor) executeSideEffects(ctx context.Context, ec ExecutionContext, list []Action, res *ExecutionResult) []ExecutionDetail {
	details := make([]ExecutionDetail, 0, len(list))
	for i := 0; i < len(list); {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}
		if list[i].Type() != SendNotification {
			details = append(details, e.executeSideEffect(ctx, ec, list[i]))
			i++
			continue
		}

		j := i
		for j < len(list) && list[j].Type() == SendNotification {
			j++
		}
		batch := list[i:j]
		out := make([]ExecutionDetail, len(batch))
		var g errgroup.Group
		g.SetLimit(e.cfg.MaxParallel)
		for k, a := range batch {
			g.Go(func() error {
				out[k] = e.executeSideEffect(ctx, ec, a)
				return nil
			})
		}
		_ = g.Wait()
		details = append(details, out...)
		i = j
	}
	return details
}

func (e *Executor) executeSideEffect(ctx context.Context, ec ExecutionContext, a Action) ExecutionDetail {
	var (
		data map[string]any
		op   func(context.Context) error
	)

	switch v := a.(type) {
	case SendNotificationAction:
		recipients := v.AllRecipients()
		data = map[string]any{"recipients": len(recipients)}
		op = e.notify(ec, v, recipients)

	case UpdateFieldAction:
		stageID := int64(v.StageID)
		if stageID == 0 {
			stageID = ec.StageID
		}
		data = map[string]any{"stageId": stageID, "fieldId": string(v.FieldID)}
		switch {
		case v.FieldID == "":
			op = fail(errors.New("fieldId is required"))
		case e.collab.Fields == nil:
			op = fail(fmt.Errorf("%w: field updater", ErrNotConfigured))
		default:
			op = func(ctx context.Context) error {
				return e.retry(ctx, UpdateField, func(ctx context.Context) error {
					return e.collab.Fields.Update(ctx, stageID, string(v.FieldID), v.FieldValue)
				})
			}
		}

	case TriggerExternalAction:
		data = map[string]any{"actionDefinitionId": string(v.ActionDefinitionID)}
		switch {
		case v.ActionDefinitionID == "":
			op = fail(errors.New("actionDefinitionId is required"))
		case e.collab.Invoker == nil:
			op = fail(fmt.Errorf("%w: action invoker", ErrNotConfigured))
		default:
			params := withContextParams(v.Parameters, ec)
			op = func(ctx context.Context) error {
				return e.retry(ctx, TriggerAction, func(ctx context.Context) error {
					return e.collab.Invoker.Invoke(ctx, string(v.ActionDefinitionID), ec, params)
				})
			}
		}

	case AssignUserAction:
		assignee := Assignee{UserID: string(v.UserID), TeamID: string(v.TeamID)}
		data = map[string]any{}
		if assignee.UserID != "" {
			data["userId"] = assignee.UserID
		}
		if assignee.TeamID != "" {
			data["teamId"] = assignee.TeamID
		}
		switch {
		case assignee.UserID == "" && assignee.TeamID == "":
			op = fail(errors.New("userId or teamId is required"))
		case e.collab.Assigner == nil:
			op = fail(fmt.Errorf("%w: user assigner", ErrNotConfigured))
		default:
			op = func(ctx context.Context) error {
				return e.retry(ctx, AssignUser, func(ctx context.Context) error {
					return e.collab.Assigner.Assign(ctx, ec.OnboardingID, assignee)
				})
			}
		}

	default:
		op = fail(fmt.Errorf("%w: %s", ErrUnknownType, a.Type()))
	}

	return e.run(ctx, ec, a, data, op)
}

// notify fans the notification out to every recipient, bounded by MaxParallel.
// Each recipient is retried on its own; the action fails if any recipient fails.
func (e *Executor) notify(ec ExecutionContext, a SendNotificationAction, recipients []Recipient) func(context.Context) error {
	if len(recipients) == 0 {
		return fail(errors.New("notification has no recipients"))
	}
	if e.collab.Notifications == nil {
		return fail(fmt.Errorf("%w: notification sender", ErrNotConfigured))
	}
	params := withContextParams(a.Parameters, ec)

	return func(ctx context.Context) error {
		errs := make([]error, len(recipients))
		var g errgroup.Group
		g.SetLimit(e.cfg.MaxParallel)
		for i, r := range recipients {
			g.Go(func() error {
				err := e.retry(ctx, SendNotification, func(ctx context.Context) error {
					return e.collab.Notifications.Send(ctx, r.Type, string(r.ID), a.TemplateID, params)
				})
				if err != nil {
					errs[i] = fmt.Errorf("recipient %s/%s: %w", r.Type, r.ID, err)
				}
				return nil
			})
		}
		_ = g.Wait()
		return errors.Join(errs...)
	}
}

// withContextParams copies params and adds the onboarding identifiers when absent
func withContextParams(params map[string]any, ec ExecutionContext) map[string]any {
	out := make(map[string]any, len(params)+3)
	for k, v := range params {
		out[k] = v
	}
	if _, ok := out["onboardingId"]; !ok {
		out["onboardingId"] = ec.OnboardingID
	}
	if _, ok := out["stageId"]; !ok {
		out["stageId"] = ec.StageID
	}
	if _, ok := out["operator"]; !ok && ec.Operator != "" {
		out["operator"] = ec.Operator
	}
	return out
}

// run applies the per-type timeout to op and turns its outcome into a detail
func (e *Executor) run(ctx context.Context, ec ExecutionContext, a Action, data map[string]any, op func(context.Context) error) ExecutionDetail {
	timeout := e.cfg.TimeoutFor(a.Type())
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := op(actx)
	d := ExecutionDetail{
		ActionType: a.Type(),
		Order:      a.ExecutionOrder(),
		Success:    err == nil,
		ResultData: data,
	}
	if err == nil {
		return d
	}

	switch {
	case ctx.Err() != nil:
		err = fmt.Errorf("action cancelled: %w", ctx.Err())
	case errors.Is(actx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err)
	}
	d.ErrorMessage = err.Error()

	e.logger.Warn("action failed",
		"onboarding_id", ec.OnboardingID,
		"stage_id", ec.StageID,
		"type", a.Type(),
		"order", a.ExecutionOrder(),
		"error", err,
	)
	return d
}

// retry calls op until it succeeds, fails permanently or the attempt budget runs out.
// Delays grow exponentially from RetryBaseDelay up to RetryMaxDelay.
func (e *Executor) retry(ctx context.Context, t ActionType, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryBaseDelay
	b.MaxInterval = e.cfg.RetryMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.MaxAttempts-1)), ctx)
	return backoff.RetryNotify(func() error {
		err := callWithContext(ctx, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		e.logger.Info("retrying action", "type", t, "wait", wait, "error", err)
	})
}

// callWithContext returns when op returns or ctx is done, whichever comes first,
// so a collaborator that ignores ctx cannot hold the batch past its timeout.
func callWithContext(ctx context.Context, op func(context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("action panicked: %v", r)
			}
		}()
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
