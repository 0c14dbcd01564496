package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/liamcoop/stageconditions/actions"
	"github.com/liamcoop/stageconditions/rules"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key
const uniqueViolation = "23505"

// PostgresRunStore implements RunStore backed by PostgreSQL
type PostgresRunStore struct {
	db *sql.DB
}

// NewPostgresRunStore creates a PostgreSQL-backed RunStore. The schema is created by the
// migrations under migrations/.
func NewPostgresRunStore(db *sql.DB) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

// Add inserts a run
func (s *PostgresRunStore) Add(ctx context.Context, rec *RunRecord) error {
	prepare(rec)

	evaluation, err := json.Marshal(rec.Evaluation)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation: %w", err)
	}
	var execution []byte
	if rec.Execution != nil {
		if execution, err = json.Marshal(rec.Execution); err != nil {
			return fmt.Errorf("failed to encode execution: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO condition_runs (id, onboarding_id, stage_id, condition_id, is_condition_met, evaluation, execution, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.OnboardingID, rec.StageID, rec.ConditionID, rec.IsConditionMet,
		evaluation, execution, rec.CreatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// Get retrieves a run by ID
func (s *PostgresRunStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, onboarding_id, stage_id, condition_id, is_condition_met, evaluation, execution, created_at
		FROM condition_runs
		WHERE id = $1
	`, id)

	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return rec, nil
}

// ListByOnboarding returns the runs of an onboarding, oldest first
func (s *PostgresRunStore) ListByOnboarding(ctx context.Context, onboardingID int64) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, onboarding_id, stage_id, condition_id, is_condition_met, evaluation, execution, created_at
		FROM condition_runs
		WHERE onboarding_id = $1
		ORDER BY created_at ASC
	`, onboardingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var rec RunRecord
	var evaluation, execution []byte
	if err := row.Scan(
		&rec.ID,
		&rec.OnboardingID,
		&rec.StageID,
		&rec.ConditionID,
		&rec.IsConditionMet,
		&evaluation,
		&execution,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.Evaluation = &rules.ConditionEvaluationResult{}
	if err := json.Unmarshal(evaluation, rec.Evaluation); err != nil {
		return nil, fmt.Errorf("invalid evaluation for run %s: %w", rec.ID, err)
	}
	if len(execution) > 0 {
		rec.Execution = &actions.ExecutionResult{}
		if err := json.Unmarshal(execution, rec.Execution); err != nil {
			return nil, fmt.Errorf("invalid execution for run %s: %w", rec.ID, err)
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
