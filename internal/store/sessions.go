package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SessionRecord is the durable row for one tutoring session. In-memory
// session state may be evicted; these rows are retained indefinitely.
type SessionRecord struct {
	ID                 string
	LearnerID          string
	StartedAt          time.Time
	EndedAt            *time.Time
	Active             bool
	LastActivity       time.Time
	TurnCount          int
	QuestionsAttempted int
}

// SessionRepo persists session lifecycle records.
type SessionRepo interface {
	Create(ctx context.Context, rec SessionRecord) error
	Get(ctx context.Context, id string) (*SessionRecord, error)
	Touch(ctx context.Context, id string, at time.Time, turnDelta, questionDelta int) error
	End(ctx context.Context, id string, at time.Time) error
	ActiveForLearner(ctx context.Context, learnerID string) (*SessionRecord, error)
}

// SessionRepo returns the session repository backed by this store.
func (s *Store) SessionRepo() SessionRepo {
	return &sessionRepo{db: s.db}
}

type sessionRepo struct {
	db *sql.DB
}

func (r *sessionRepo) Create(ctx context.Context, rec SessionRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, learner_id, started_at, active, last_activity, turn_count, questions_attempted)
		 VALUES (?, ?, ?, 1, ?, 0, 0)`,
		rec.ID, rec.LearnerID, rec.StartedAt.Unix(), rec.LastActivity.Unix())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*SessionRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, learner_id, started_at, ended_at, active, last_activity, turn_count, questions_attempted
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (r *sessionRepo) Touch(ctx context.Context, id string, at time.Time, turnDelta, questionDelta int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ?, turn_count = turn_count + ?, questions_attempted = questions_attempted + ?
		 WHERE id = ?`,
		at.Unix(), turnDelta, questionDelta, id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %q", id)
	}
	return nil
}

func (r *sessionRepo) End(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0, ended_at = ?, last_activity = ? WHERE id = ?`,
		at.Unix(), at.Unix(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %q", id)
	}
	return nil
}

func (r *sessionRepo) ActiveForLearner(ctx context.Context, learnerID string) (*SessionRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, learner_id, started_at, ended_at, active, last_activity, turn_count, questions_attempted
		 FROM sessions WHERE learner_id = ? AND active = 1 ORDER BY started_at DESC LIMIT 1`, learnerID)
	rec, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var started, lastActivity int64
	var ended sql.NullInt64
	var active int
	err := row.Scan(&rec.ID, &rec.LearnerID, &started, &ended, &active,
		&lastActivity, &rec.TurnCount, &rec.QuestionsAttempted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	rec.StartedAt = time.Unix(started, 0).UTC()
	rec.LastActivity = time.Unix(lastActivity, 0).UTC()
	rec.Active = active == 1
	if ended.Valid {
		t := time.Unix(ended.Int64, 0).UTC()
		rec.EndedAt = &t
	}
	return &rec, nil
}
