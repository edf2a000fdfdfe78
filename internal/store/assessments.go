package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AssessmentRepo tracks one-time placement assessments per learner.
type AssessmentRepo interface {
	// Mark records that the learner completed an assessment at grade.
	Mark(ctx context.Context, learnerID string, grade int, at time.Time) error
	// Completed reports whether the learner already took an assessment.
	Completed(ctx context.Context, learnerID string) (bool, error)
}

// AssessmentRepo returns the assessment repository backed by this store.
func (s *Store) AssessmentRepo() AssessmentRepo {
	return &assessmentRepo{db: s.db}
}

type assessmentRepo struct {
	db *sql.DB
}

func (r *assessmentRepo) Mark(ctx context.Context, learnerID string, grade int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO assessments (learner_id, grade, completed_at) VALUES (?, ?, ?)
		 ON CONFLICT(learner_id) DO NOTHING`,
		learnerID, grade, at.Unix())
	if err != nil {
		return fmt.Errorf("mark assessment: %w", err)
	}
	return nil
}

func (r *assessmentRepo) Completed(ctx context.Context, learnerID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM assessments WHERE learner_id = ?`, learnerID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check assessment: %w", err)
	}
	return true, nil
}
