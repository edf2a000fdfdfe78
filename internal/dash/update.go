package dash

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/learner"
)

const (
	incorrectPenalty     = 0.2
	prereqPenalty        = 0.1
	slowResponseFactor   = 0.5
	normalResponseFactor = 1.0
)

// ApplyAttempt records an attempt and updates learner state for every skill
// the question exercises. On an incorrect answer the penalty propagates to
// every transitive prerequisite: its strength drops by 0.1 and its
// last-practice time is refreshed, without counting as practice.
// Returns the full list of affected skill ids.
func (s *Scheduler) ApplyAttempt(ctx context.Context, a learner.Attempt) ([]string, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	if err := s.store.AppendAttempt(ctx, a); err != nil {
		return nil, fmt.Errorf("append attempt: %w", err)
	}

	affected := make([]string, 0, len(a.SkillIDs))
	for _, skillID := range a.SkillIDs {
		skill, err := s.graph.Get(skillID)
		if err != nil {
			return nil, err
		}

		now := a.Timestamp
		err = s.store.UpdateState(ctx, a.LearnerID, skillID, func(st *learner.SkillState) {
			current := Strength(*st, skill.Lambda, now)
			if a.Correct {
				// Diminishing returns: the more correct answers banked,
				// the smaller each new increment.
				increment := 1 / (1 + 0.1*float64(st.CorrectCount))
				penalty := normalResponseFactor
				if a.ResponseSecs > s.cfg.TimePenaltySeconds {
					penalty = slowResponseFactor
				}
				st.Strength = learner.ClampStrength(current + increment*penalty)
				st.PracticeCount++
				st.CorrectCount++
			} else {
				st.Strength = learner.ClampStrength(current - incorrectPenalty)
				st.PracticeCount++
			}
			t := now
			st.LastPractice = &t
		})
		if err != nil {
			return nil, err
		}
		affected = append(affected, skillID)

		if !a.Correct {
			prereqs, err := s.propagateMiss(ctx, a.LearnerID, skillID, a.Timestamp)
			if err != nil {
				return nil, err
			}
			affected = append(affected, prereqs...)
		}
	}

	s.log.Info("attempt applied",
		zap.String("learner", a.LearnerID),
		zap.String("question", a.QuestionID),
		zap.Bool("correct", a.Correct),
		zap.Strings("affected_skills", affected))
	return affected, nil
}

// propagateMiss weakens every transitive prerequisite of skillID. Models
// "miss a concept, re-expose its foundations": foundations look fresher
// (last practice refreshed) but weaker, so they resurface sooner.
func (s *Scheduler) propagateMiss(ctx context.Context, learnerID, skillID string, now time.Time) ([]string, error) {
	prereqs := s.graph.Prerequisites(skillID)
	for _, pid := range prereqs {
		pSkill, err := s.graph.Get(pid)
		if err != nil {
			return nil, err
		}
		err = s.store.UpdateState(ctx, learnerID, pid, func(st *learner.SkillState) {
			current := Strength(*st, pSkill.Lambda, now)
			st.Strength = learner.ClampStrength(current - prereqPenalty)
			t := now
			st.LastPractice = &t
			// Practice and correct counts untouched: exposure, not practice.
		})
		if err != nil {
			return nil, err
		}
	}
	if len(prereqs) > 0 {
		s.log.Debug("miss propagated to prerequisites",
			zap.String("learner", learnerID),
			zap.String("skill", skillID),
			zap.Strings("prerequisites", prereqs))
	}
	return prereqs, nil
}
