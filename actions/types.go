package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ActionType identifies one variant of the condition action union
type ActionType string

const (
	GoToStage        ActionType = "GoToStage"
	SkipStage        ActionType = "SkipStage"
	EndWorkflow      ActionType = "EndWorkflow"
	SendNotification ActionType = "SendNotification"
	UpdateField      ActionType = "UpdateField"
	TriggerAction    ActionType = "TriggerAction"
	AssignUser       ActionType = "AssignUser"
)

// AllTypes lists every supported action type in declaration order
var AllTypes = []ActionType{
	GoToStage, SkipStage, EndWorkflow,
	SendNotification, UpdateField, TriggerAction, AssignUser,
}

// ParseActionType matches s against the known action types, ignoring case
func ParseActionType(s string) (ActionType, bool) {
	s = strings.TrimSpace(s)
	for _, t := range AllTypes {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// IsStageControl reports whether t moves the onboarding between stages.
// At most one stage-control action executes per evaluation.
func (t ActionType) IsStageControl() bool {
	return t == GoToStage || t == SkipStage || t == EndWorkflow
}

// StageID identifies a workflow stage. It decodes from JSON numbers and numeric strings.
type StageID int64

func (s *StageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if str == "" {
			*s = 0
			return nil
		}
		data = []byte(str)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid stage id %s: %w", data, err)
	}
	*s = StageID(v)
	return nil
}

// ID is an opaque collaborator identifier (user, team, field, recipient, action definition).
// It decodes from JSON strings and numbers.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*id = ID(str)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid id %s: %w", data, err)
		}
		*id = ID(n.String())
	}
	return nil
}

// Action is one variant of the condition action union
type Action interface {
	Type() ActionType
	ExecutionOrder() int
	Params() map[string]any
}

// Base carries the fields shared by every action variant
type Base struct {
	Order      int            `json:"order"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

func (b Base) ExecutionOrder() int     { return b.Order }
func (b Base) Params() map[string]any { return b.Parameters }

// GoToStageAction moves the onboarding to an explicit stage
type GoToStageAction struct {
	Base
	TargetStageID StageID `json:"targetStageId" validate:"required"`
}

func (GoToStageAction) Type() ActionType { return GoToStage }

// SkipStageAction skips SkipCount stages after the current one (1 when unset)
type SkipStageAction struct {
	Base
	SkipCount int `json:"skipCount" validate:"gte=0"`
}

func (SkipStageAction) Type() ActionType { return SkipStage }

// EndWorkflowAction completes the onboarding workflow with EndStatus
type EndWorkflowAction struct {
	Base
	EndStatus string `json:"endStatus,omitempty"`
}

func (EndWorkflowAction) Type() ActionType { return EndWorkflow }

// Recipient addresses a single notification target
type Recipient struct {
	Type string `json:"type"`
	ID   ID     `json:"id" validate:"required"`
}

// SendNotificationAction notifies one or more recipients using a template
type SendNotificationAction struct {
	Base
	RecipientType string      `json:"recipientType,omitempty"`
	RecipientID   ID          `json:"recipientId,omitempty" validate:"required_without=Recipients"`
	Recipients    []Recipient `json:"recipients,omitempty" validate:"dive"`
	TemplateID    string      `json:"templateId,omitempty"`
}

func (SendNotificationAction) Type() ActionType { return SendNotification }

// AllRecipients returns the single recipient fields followed by the Recipients list
func (a SendNotificationAction) AllRecipients() []Recipient {
	out := make([]Recipient, 0, len(a.Recipients)+1)
	if a.RecipientID != "" {
		out = append(out, Recipient{Type: a.RecipientType, ID: a.RecipientID})
	}
	for _, r := range a.Recipients {
		if r.Type == "" {
			r.Type = a.RecipientType
		}
		out = append(out, r)
	}
	return out
}

// UpdateFieldAction writes FieldValue into a static field. StageID defaults to the current stage.
type UpdateFieldAction struct {
	Base
	StageID    StageID `json:"stageId,omitempty"`
	FieldID    ID      `json:"fieldId" validate:"required"`
	FieldValue any     `json:"fieldValue"`
}

func (UpdateFieldAction) Type() ActionType { return UpdateField }

// TriggerExternalAction invokes an external action definition
type TriggerExternalAction struct {
	Base
	ActionDefinitionID ID `json:"actionDefinitionId" validate:"required"`
}

func (TriggerExternalAction) Type() ActionType { return TriggerAction }

// AssignUserAction assigns a user or a team to the onboarding
type AssignUserAction struct {
	Base
	UserID ID `json:"userId,omitempty" validate:"required_without=TeamID"`
	TeamID ID `json:"teamId,omitempty"`
}

func (AssignUserAction) Type() ActionType { return AssignUser }
