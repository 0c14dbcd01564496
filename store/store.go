package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/stageconditions/actions"
	"github.com/liamcoop/stageconditions/rules"
)

var (
	ErrNotFound      = errors.New("run not found")
	ErrAlreadyExists = errors.New("run already exists")
)

// RunRecord is the recorded outcome of one condition run
type RunRecord struct {
	ID             string                           `json:"id"`
	OnboardingID   int64                            `json:"onboardingId"`
	StageID        int64                            `json:"stageId"`
	ConditionID    int64                            `json:"conditionId"`
	IsConditionMet bool                             `json:"isConditionMet"`
	Evaluation     *rules.ConditionEvaluationResult `json:"evaluation"`
	// Execution is nil when the condition was not met
	Execution *actions.ExecutionResult `json:"execution,omitempty"`
	CreatedAt time.Time                `json:"createdAt"`
}

// RunStore keeps condition run records
type RunStore interface {
	// Add stores rec, assigning an ID and CreatedAt when they are empty
	Add(ctx context.Context, rec *RunRecord) error

	// Get returns the run with id or ErrNotFound
	Get(ctx context.Context, id string) (*RunRecord, error)

	// ListByOnboarding returns the runs of an onboarding, oldest first
	ListByOnboarding(ctx context.Context, onboardingID int64) ([]*RunRecord, error)
}

// prepare fills the generated fields of rec
func prepare(rec *RunRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

// InMemoryRunStore implements RunStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryRunStore struct {
	runs map[string]*RunRecord
	seq  map[string]int
	next int
	mu   sync.RWMutex
}

// NewInMemoryRunStore creates a new in-memory run store
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{
		runs: make(map[string]*RunRecord),
		seq:  make(map[string]int),
	}
}

func (s *InMemoryRunStore) Add(_ context.Context, rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prepare(rec)
	if _, exists := s.runs[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
	}
	copied := *rec
	s.runs[rec.ID] = &copied
	s.seq[rec.ID] = s.next
	s.next++
	return nil
}

func (s *InMemoryRunStore) Get(_ context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	copied := *rec
	return &copied, nil
}

func (s *InMemoryRunStore) ListByOnboarding(_ context.Context, onboardingID int64) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*RunRecord{}
	for _, rec := range s.runs {
		if rec.OnboardingID == onboardingID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}
