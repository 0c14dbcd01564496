package actions

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ExecutionContext identifies the onboarding stage an action batch runs for
type ExecutionContext struct {
	OnboardingID int64 `json:"onboardingId"`
	StageID      int64 `json:"stageId"`
	ConditionID  int64 `json:"conditionId,omitempty"`
	// WorkflowStages is the ordered stage list of the workflow, used to resolve SkipStage
	WorkflowStages []int64 `json:"workflowStages,omitempty"`
	// Operator is recorded as the actor of every collaborator call
	Operator string `json:"operator,omitempty"`
}

// NotificationSender delivers a templated notification to one recipient
type NotificationSender interface {
	Send(ctx context.Context, recipientType string, recipientID string, templateID string, params map[string]any) error
}

// FieldUpdater writes a static field value on a stage
type FieldUpdater interface {
	Update(ctx context.Context, stageID int64, fieldID string, value any) error
}

// ActionInvoker runs an external action definition
type ActionInvoker interface {
	Invoke(ctx context.Context, actionDefinitionID string, ec ExecutionContext, params map[string]any) error
}

// Assignee is a user or a team; exactly one of the fields is expected
type Assignee struct {
	UserID string `json:"userId,omitempty"`
	TeamID string `json:"teamId,omitempty"`
}

// UserAssigner assigns a user or team to an onboarding
type UserAssigner interface {
	Assign(ctx context.Context, onboardingID int64, assignee Assignee) error
}

// StageController applies the winning stage-control action. It is optional: without it the
// executor only computes the next stage and leaves the transition to the caller.
type StageController interface {
	MoveToStage(ctx context.Context, onboardingID int64, fromStageID, toStageID int64) error
	EndWorkflow(ctx context.Context, onboardingID int64, status string) error
}

// Collaborators bundles the external services actions are dispatched to.
// A nil collaborator makes the corresponding action fail permanently.
type Collaborators struct {
	Notifications NotificationSender
	Fields        FieldUpdater
	Invoker       ActionInvoker
	Assigner      UserAssigner
	Stages        StageController
}

var (
	// ErrTransient marks a failure worth retrying (network or service unavailability)
	ErrTransient = errors.New("transient failure")
	// ErrTimeout is recorded when an action exceeds its type's timeout
	ErrTimeout = errors.New("action timeout")
	// ErrNotConfigured is returned when an action's collaborator is missing
	ErrNotConfigured = errors.New("collaborator not configured")
)

// Transient wraps err so the executor retries it
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err should be retried. Context errors never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}
