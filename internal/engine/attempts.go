package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/dash"
	"github.com/brightpath/tutorcore/internal/learner"
)

// historyExclusionLimit caps how far back answered questions are excluded
// from new selections.
const historyExclusionLimit = 200

// AttemptResult reports the state changes caused by one answer.
type AttemptResult struct {
	// AffectedSkills lists every skill whose state changed, including
	// prerequisites weakened by an incorrect answer.
	AffectedSkills []string
}

// SubmitAttempt records an answered question and updates memory state for
// every skill it exercises.
func (e *Engine) SubmitAttempt(ctx context.Context, sessionID string, a learner.Attempt) (*AttemptResult, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if a.LearnerID == "" || a.QuestionID == "" || len(a.SkillIDs) == 0 {
		return nil, fmt.Errorf("%w: attempt missing learner, question or skills", ErrNotFound)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	affected, err := e.scheduler.ApplyAttempt(ctx, a)
	if err != nil {
		return nil, err
	}

	if sessionID != "" {
		if err := e.sessions.Touch(ctx, sessionID, a.Timestamp, 0, 1); err != nil {
			e.log.Warn("session touch failed",
				zap.String("session", sessionID),
				zap.Error(err))
		}
	}
	return &AttemptResult{AffectedSkills: affected}, nil
}

// NextQuestions selects up to count practice questions for a learner,
// never repeating a question answered in recent history. Returns
// ErrNotFound when nothing is selectable.
func (e *Engine) NextQuestions(ctx context.Context, learnerID string, count int) ([]dash.Selection, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if count <= 0 {
		count = 1
	}

	exclude, err := e.answeredQuestions(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	selections, err := e.scheduler.SelectBatch(ctx, learnerID, time.Now(), count, exclude)
	if err != nil {
		return nil, err
	}
	if len(selections) == 0 {
		return nil, fmt.Errorf("%w: no selectable question for learner %q", ErrNotFound, learnerID)
	}
	return selections, nil
}

// StartAssessment builds a one-time placement assessment for a learner at
// the stated grade. A learner assesses once; repeats conflict.
func (e *Engine) StartAssessment(ctx context.Context, learnerID string, grade int) ([]dash.Selection, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	done, err := e.assessments.Completed(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, fmt.Errorf("%w: learner %q already assessed", ErrConflict, learnerID)
	}

	exclude, err := e.answeredQuestions(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	selections, err := e.scheduler.SelectAssessment(ctx, learnerID, grade, exclude)
	if err != nil {
		return nil, err
	}
	if len(selections) == 0 {
		return nil, fmt.Errorf("%w: no assessment questions for grade %d", ErrNotFound, grade)
	}

	if err := e.assessments.Mark(ctx, learnerID, grade, time.Now()); err != nil {
		return nil, err
	}
	e.log.Info("assessment started",
		zap.String("learner", learnerID),
		zap.Int("grade", grade),
		zap.Int("questions", len(selections)))
	return selections, nil
}

// answeredQuestions builds the exclusion set from recent attempt history.
func (e *Engine) answeredQuestions(ctx context.Context, learnerID string) (map[string]bool, error) {
	history, err := e.learners.History(ctx, learnerID, historyExclusionLimit)
	if err != nil {
		return nil, err
	}
	exclude := make(map[string]bool, len(history))
	for _, a := range history {
		exclude[a.QuestionID] = true
	}
	return exclude, nil
}
