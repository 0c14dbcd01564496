package actions

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestParseActions_DecodesEveryVariant(t *testing.T) {
	data := []byte(`[
		{"type": "GoToStage", "order": 1, "targetStageId": 99},
		{"type": "skipstage", "order": 2, "skipCount": 2},
		{"type": "EndWorkflow", "order": 3, "endStatus": "Rejected"},
		{"type": "SendNotification", "order": 4, "recipientType": "team", "recipientId": "QA", "templateId": "tpl"},
		{"type": "UpdateField", "order": 5, "fieldId": 12, "fieldValue": true},
		{"type": "TriggerAction", "order": 6, "actionDefinitionId": "def-1", "parameters": {"k": "v"}},
		{"type": "AssignUser", "order": 7, "teamId": "ops"}
	]`)

	list, err := ParseActions(data)
	if err != nil {
		t.Fatalf("ParseActions() failed: %v", err)
	}

	want := []Action{
		GoToStageAction{Base: Base{Order: 1}, TargetStageID: 99},
		SkipStageAction{Base: Base{Order: 2}, SkipCount: 2},
		EndWorkflowAction{Base: Base{Order: 3}, EndStatus: "Rejected"},
		SendNotificationAction{Base: Base{Order: 4}, RecipientType: "team", RecipientID: "QA", TemplateID: "tpl"},
		UpdateFieldAction{Base: Base{Order: 5}, FieldID: "12", FieldValue: true},
		TriggerExternalAction{Base: Base{Order: 6, Parameters: map[string]any{"k": "v"}}, ActionDefinitionID: "def-1"},
		AssignUserAction{Base: Base{Order: 7}, TeamID: "ops"},
	}
	if len(list) != len(want) {
		t.Fatalf("expected %d actions, got %d", len(want), len(list))
	}
	for i := range want {
		if !reflect.DeepEqual(list[i], want[i]) {
			t.Errorf("action %d = %#v, want %#v", i, list[i], want[i])
		}
	}
}

func TestParseActions_StageIDFromString(t *testing.T) {
	list, err := ParseActions([]byte(`[{"type": "GoToStage", "order": 1, "targetStageId": "42"}]`))
	if err != nil {
		t.Fatalf("ParseActions() failed: %v", err)
	}
	if got := list[0].(GoToStageAction).TargetStageID; got != 42 {
		t.Errorf("TargetStageID = %d, want 42", got)
	}
}

func TestDecodeAction_Errors(t *testing.T) {
	if _, err := DecodeAction([]byte(`{"order": 1}`)); !errors.Is(err, ErrTypeRequired) {
		t.Errorf("missing type: got %v, want ErrTypeRequired", err)
	}
	if _, err := DecodeAction([]byte(`{"type": "Teleport"}`)); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type: got %v, want ErrUnknownType", err)
	}
	if _, err := DecodeAction([]byte(`{"type": "GoToStage", "targetStageId": "abc"}`)); err == nil {
		t.Error("non-numeric stage id should fail")
	}
}

func TestList_RoundTrip(t *testing.T) {
	in := List{
		GoToStageAction{Base: Base{Order: 1}, TargetStageID: 5},
		AssignUserAction{Base: Base{Order: 2}, UserID: "u-1"},
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	var got, want any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`[
		{"type": "GoToStage", "order": 1, "targetStageId": 5},
		{"type": "AssignUser", "order": 2, "userId": "u-1"}
	]`), &want); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("encoded %s", data)
	}

	var out List
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip = %#v, want %#v", out, in)
	}
}

func TestMissingParameters(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   []string
	}{
		{"goto without target", GoToStageAction{}, []string{"targetStageId"}},
		{"goto with target", GoToStageAction{TargetStageID: 3}, nil},
		{"notification without recipient", SendNotificationAction{}, []string{"recipientId"}},
		{"notification with list", SendNotificationAction{Recipients: []Recipient{{Type: "user", ID: "1"}}}, nil},
		{"update without field", UpdateFieldAction{}, []string{"fieldId"}},
		{"trigger without definition", TriggerExternalAction{}, []string{"actionDefinitionId"}},
		{"assign team only", AssignUserAction{TeamID: "ops"}, nil},
		{"assign nobody", AssignUserAction{}, []string{"userId"}},
		{"end workflow", EndWorkflowAction{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MissingParameters(tt.action); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MissingParameters() = %v, want %v", got, tt.want)
			}
		})
	}
}
