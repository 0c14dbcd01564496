package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/stageconditions/rules"
)

func sampleRun(onboardingID int64) *RunRecord {
	return &RunRecord{
		OnboardingID:   onboardingID,
		StageID:        10,
		ConditionID:    3,
		IsConditionMet: false,
		Evaluation:     &rules.ConditionEvaluationResult{RuleResults: []rules.RuleEvaluationDetail{{RuleName: "r1"}}},
	}
}

func TestInMemoryRunStoreAddAssignsIdentity(t *testing.T) {
	s := NewInMemoryRunStore()
	rec := sampleRun(1)

	if err := s.Add(context.Background(), rec); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		t.Errorf("ID should be a UUID, got %q", rec.ID)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	got, err := s.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.OnboardingID != 1 || got.Evaluation.RuleResults[0].RuleName != "r1" {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestInMemoryRunStoreDuplicate(t *testing.T) {
	s := NewInMemoryRunStore()
	rec := sampleRun(1)
	rec.ID = "fixed"

	if err := s.Add(context.Background(), rec); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	dup := sampleRun(1)
	dup.ID = "fixed"
	if err := s.Add(context.Background(), dup); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestInMemoryRunStoreGetNotFound(t *testing.T) {
	_, err := NewInMemoryRunStore().Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryRunStoreListByOnboarding(t *testing.T) {
	s := NewInMemoryRunStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	late := sampleRun(7)
	late.CreatedAt = base.Add(time.Minute)
	early := sampleRun(7)
	early.CreatedAt = base
	tieA := sampleRun(7)
	tieA.CreatedAt = base.Add(2 * time.Minute)
	tieB := sampleRun(7)
	tieB.CreatedAt = base.Add(2 * time.Minute)
	other := sampleRun(8)

	for _, rec := range []*RunRecord{late, early, tieA, tieB, other} {
		if err := s.Add(context.Background(), rec); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	runs, err := s.ListByOnboarding(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListByOnboarding() failed: %v", err)
	}
	want := []string{early.ID, late.ID, tieA.ID, tieB.ID}
	if len(runs) != len(want) {
		t.Fatalf("expected %d runs, got %d", len(want), len(runs))
	}
	for i, id := range want {
		if runs[i].ID != id {
			t.Errorf("runs[%d] = %s, want %s", i, runs[i].ID, id)
		}
	}

	empty, err := s.ListByOnboarding(context.Background(), 99)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("unknown onboarding should list no runs, got %v, %v", empty, err)
	}
}

func TestInMemoryRunStoreReturnsCopies(t *testing.T) {
	s := NewInMemoryRunStore()
	rec := sampleRun(1)
	if err := s.Add(context.Background(), rec); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	got, _ := s.Get(context.Background(), rec.ID)
	got.StageID = 999

	again, _ := s.Get(context.Background(), rec.ID)
	if again.StageID != 10 {
		t.Error("modifying a returned record should not change the store")
	}
}

func TestInMemoryRunStoreConcurrentAdd(t *testing.T) {
	s := NewInMemoryRunStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Add(context.Background(), sampleRun(5)); err != nil {
				t.Errorf("Add() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	runs, _ := s.ListByOnboarding(context.Background(), 5)
	if len(runs) != 20 {
		t.Errorf("expected 20 runs, got %d", len(runs))
	}
}
