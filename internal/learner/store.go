package learner

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store provides transactionally consistent access to learner skill state
// and attempt history. Mutations for the same learner are serialized.
type Store interface {
	// GetState returns the state for (learner, skill), creating the
	// default state lazily when absent.
	GetState(ctx context.Context, learnerID, skillID string) (SkillState, error)

	// GetStates returns all persisted skill states for a learner.
	// Skills with no row are at the default state.
	GetStates(ctx context.Context, learnerID string) (map[string]SkillState, error)

	// UpdateState applies mutate to the current state of (learner, skill)
	// and persists the result as a single consistent update.
	UpdateState(ctx context.Context, learnerID, skillID string, mutate func(*SkillState)) error

	// AppendAttempt records one attempt. Append-only.
	AppendAttempt(ctx context.Context, a Attempt) error

	// History returns the learner's most recent attempts, newest first,
	// bounded by limit.
	History(ctx context.Context, learnerID string, limit int) ([]Attempt, error)
}

// SQLStore is the sqlite-backed Store. A per-learner mutex serializes
// read-modify-write cycles so concurrent updates for the same learner
// cannot interleave.
type SQLStore struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSQLStore creates a Store over the given database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, locks: make(map[string]*sync.Mutex)}
}

func (s *SQLStore) learnerLock(learnerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[learnerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[learnerID] = l
	}
	return l
}

func (s *SQLStore) GetState(ctx context.Context, learnerID, skillID string) (SkillState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT strength, last_practice, practice_count, correct_count
		 FROM learner_skill_state WHERE learner_id = ? AND skill_id = ?`,
		learnerID, skillID)

	var st SkillState
	var lastPractice sql.NullInt64
	err := row.Scan(&st.Strength, &lastPractice, &st.PracticeCount, &st.CorrectCount)
	if err == sql.ErrNoRows {
		return SkillState{}, nil // lazy default
	}
	if err != nil {
		return SkillState{}, fmt.Errorf("get skill state: %w", err)
	}
	if lastPractice.Valid {
		t := time.Unix(lastPractice.Int64, 0).UTC()
		st.LastPractice = &t
	}
	return st, nil
}

func (s *SQLStore) GetStates(ctx context.Context, learnerID string) (map[string]SkillState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT skill_id, strength, last_practice, practice_count, correct_count
		 FROM learner_skill_state WHERE learner_id = ?`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("get skill states: %w", err)
	}
	defer rows.Close()

	result := make(map[string]SkillState)
	for rows.Next() {
		var skillID string
		var st SkillState
		var lastPractice sql.NullInt64
		if err := rows.Scan(&skillID, &st.Strength, &lastPractice, &st.PracticeCount, &st.CorrectCount); err != nil {
			return nil, fmt.Errorf("scan skill state: %w", err)
		}
		if lastPractice.Valid {
			t := time.Unix(lastPractice.Int64, 0).UTC()
			st.LastPractice = &t
		}
		result[skillID] = st
	}
	return result, rows.Err()
}

func (s *SQLStore) UpdateState(ctx context.Context, learnerID, skillID string, mutate func(*SkillState)) error {
	lock := s.learnerLock(learnerID)
	lock.Lock()
	defer lock.Unlock()

	st, err := s.GetState(ctx, learnerID, skillID)
	if err != nil {
		return err
	}

	mutate(&st)
	st.Strength = ClampStrength(st.Strength)
	if st.CorrectCount > st.PracticeCount {
		return fmt.Errorf("invalid state for %s/%s: correct %d > practice %d",
			learnerID, skillID, st.CorrectCount, st.PracticeCount)
	}

	var lastPractice any
	if st.LastPractice != nil {
		lastPractice = st.LastPractice.Unix()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO learner_skill_state (learner_id, skill_id, strength, last_practice, practice_count, correct_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (learner_id, skill_id) DO UPDATE SET
		   strength = excluded.strength,
		   last_practice = excluded.last_practice,
		   practice_count = excluded.practice_count,
		   correct_count = excluded.correct_count`,
		learnerID, skillID, st.Strength, lastPractice, st.PracticeCount, st.CorrectCount)
	if err != nil {
		return fmt.Errorf("update skill state: %w", err)
	}
	return nil
}

func (s *SQLStore) AppendAttempt(ctx context.Context, a Attempt) error {
	skillIDs, err := json.Marshal(a.SkillIDs)
	if err != nil {
		return fmt.Errorf("marshal skill ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attempts (learner_id, question_id, correct, skill_ids, response_secs, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.LearnerID, a.QuestionID, boolToInt(a.Correct), string(skillIDs), a.ResponseSecs, a.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

func (s *SQLStore) History(ctx context.Context, learnerID string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, correct, skill_ids, response_secs, timestamp
		 FROM attempts WHERE learner_id = ? ORDER BY id DESC LIMIT ?`,
		learnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var result []Attempt
	for rows.Next() {
		a := Attempt{LearnerID: learnerID}
		var correct int
		var skillIDs string
		var ts int64
		if err := rows.Scan(&a.QuestionID, &correct, &skillIDs, &a.ResponseSecs, &ts); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Correct = correct == 1
		a.Timestamp = time.Unix(ts, 0).UTC()
		if err := json.Unmarshal([]byte(skillIDs), &a.SkillIDs); err != nil {
			return nil, fmt.Errorf("unmarshal skill ids: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
