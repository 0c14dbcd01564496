package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrTypeRequired is returned when an action has no type
	ErrTypeRequired = errors.New("action type is required")
	// ErrUnknownType is returned when an action type is not one of AllTypes
	ErrUnknownType = errors.New("unknown action type")
)

// wireAction is the flat JSON shape authored by the rule builder
type wireAction struct {
	Type               string         `json:"type"`
	Order              int            `json:"order"`
	TargetStageID      StageID        `json:"targetStageId,omitempty"`
	SkipCount          int            `json:"skipCount,omitempty"`
	EndStatus          string         `json:"endStatus,omitempty"`
	RecipientType      string         `json:"recipientType,omitempty"`
	RecipientID        ID             `json:"recipientId,omitempty"`
	Recipients         []Recipient    `json:"recipients,omitempty"`
	TemplateID         string         `json:"templateId,omitempty"`
	StageID            StageID        `json:"stageId,omitempty"`
	FieldID            ID             `json:"fieldId,omitempty"`
	FieldValue         any            `json:"fieldValue,omitempty"`
	ActionDefinitionID ID             `json:"actionDefinitionId,omitempty"`
	UserID             ID             `json:"userId,omitempty"`
	TeamID             ID             `json:"teamId,omitempty"`
	Parameters         map[string]any `json:"parameters,omitempty"`
}

// DecodeAction decodes a single action object into its variant
func DecodeAction(data []byte) (Action, error) {
	var w wireAction
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("invalid action: %w", err)
	}
	if strings.TrimSpace(w.Type) == "" {
		return nil, ErrTypeRequired
	}
	t, ok := ParseActionType(w.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}

	base := Base{Order: w.Order, Parameters: w.Parameters}
	switch t {
	case GoToStage:
		return GoToStageAction{Base: base, TargetStageID: w.TargetStageID}, nil
	case SkipStage:
		return SkipStageAction{Base: base, SkipCount: w.SkipCount}, nil
	case EndWorkflow:
		return EndWorkflowAction{Base: base, EndStatus: w.EndStatus}, nil
	case SendNotification:
		return SendNotificationAction{
			Base:          base,
			RecipientType: w.RecipientType,
			RecipientID:   w.RecipientID,
			Recipients:    w.Recipients,
			TemplateID:    w.TemplateID,
		}, nil
	case UpdateField:
		return UpdateFieldAction{Base: base, StageID: w.StageID, FieldID: w.FieldID, FieldValue: w.FieldValue}, nil
	case TriggerAction:
		return TriggerExternalAction{Base: base, ActionDefinitionID: w.ActionDefinitionID}, nil
	default:
		return AssignUserAction{Base: base, UserID: w.UserID, TeamID: w.TeamID}, nil
	}
}

// ParseActions decodes a JSON array of actions, failing on the first bad entry
func ParseActions(data []byte) (List, error) {
	var list List
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// List is an ordered action list that round-trips through the flat JSON shape
type List []Action

func (l *List) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("actions must be a JSON array: %w", err)
	}
	out := make(List, 0, len(raw))
	for i, item := range raw {
		a, err := DecodeAction(item)
		if err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
		out = append(out, a)
	}
	*l = out
	return nil
}

func (l List) MarshalJSON() ([]byte, error) {
	out := make([]wireAction, 0, len(l))
	for _, a := range l {
		out = append(out, toWire(a))
	}
	return json.Marshal(out)
}

func toWire(a Action) wireAction {
	w := wireAction{Type: string(a.Type()), Order: a.ExecutionOrder(), Parameters: a.Params()}
	switch v := a.(type) {
	case GoToStageAction:
		w.TargetStageID = v.TargetStageID
	case SkipStageAction:
		w.SkipCount = v.SkipCount
	case EndWorkflowAction:
		w.EndStatus = v.EndStatus
	case SendNotificationAction:
		w.RecipientType = v.RecipientType
		w.RecipientID = v.RecipientID
		w.Recipients = v.Recipients
		w.TemplateID = v.TemplateID
	case UpdateFieldAction:
		w.StageID = v.StageID
		w.FieldID = v.FieldID
		w.FieldValue = v.FieldValue
	case TriggerExternalAction:
		w.ActionDefinitionID = v.ActionDefinitionID
	case AssignUserAction:
		w.UserID = v.UserID
		w.TeamID = v.TeamID
	}
	return w
}

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// MissingParameters reports the payload fields a has left empty, by JSON name.
// An empty result means the action carries everything it needs to run.
func MissingParameters(a Action) []string {
	err := payloadValidator.Struct(a)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Namespace()[strings.Index(fe.Namespace(), ".")+1:])
	}
	return out
}
