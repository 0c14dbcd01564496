package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"WARNING", LevelWarning, false},
		{" error ", LevelError, false},
		{"trace", LevelTrace, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Settings{Level: "warn", SampleRate: 1, Output: &buf}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = Init(Settings{}) })

	Info("dropped")
	before := TotalWarnings.Load()
	Warn("kept", "conditionId", 7)

	if TotalWarnings.Load() != before+1 {
		t.Errorf("TotalWarnings not incremented")
	}
	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "dropped") {
		t.Errorf("info record logged below warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("output is not one JSON record: %v (%s)", err, out)
	}
	if rec["msg"] != "kept" || rec["conditionId"] != float64(7) {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestSamplingStillCounts(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(Settings{SampleRate: 1_000_000, Output: &buf}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = Init(Settings{}) })

	before := TotalErrors.Load()
	for i := 0; i < 10; i++ {
		Error("sampled")
	}
	if got := TotalErrors.Load() - before; got != 10 {
		t.Errorf("TotalErrors grew by %d, want 10", got)
	}
}

func TestDomainCounters(t *testing.T) {
	evaluated, met, failed := ConditionsEvaluated.Load(), ConditionsMet.Load(), ActionFailures.Load()
	ConditionEvaluated(true)
	ConditionEvaluated(false)
	ActionsFailed(2)
	ActionsFailed(0)

	c := Counters()
	if c["conditionsEvaluated"] != evaluated+2 || c["conditionsMet"] != met+1 || c["actionFailures"] != failed+2 {
		t.Errorf("unexpected counters %v", c)
	}
}
