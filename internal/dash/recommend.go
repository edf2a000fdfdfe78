package dash

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/skillgraph"
)

// Recommendation is one skill the learner should practice next, with its
// predicted recall probability.
type Recommendation struct {
	Skill       skillgraph.Skill
	Probability float64
}

// Recommend returns the learning-journey ordering of eligible skills:
// skills the learner has not yet consolidated (p below threshold) whose
// direct prerequisites are all consolidated. Structural progression
// (grade, order) dominates; need for practice breaks ties.
//
// Given the same graph, the result is a pure deterministic function of
// (learner state, now, threshold).
func (s *Scheduler) Recommend(ctx context.Context, learnerID string, now time.Time) ([]Recommendation, error) {
	states, err := s.store.GetStates(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}

	probs := make(map[string]float64)
	for _, skill := range s.graph.All() {
		probs[skill.ID] = PredictRecall(states[skill.ID], skill, now)
	}

	var recs []Recommendation
	type skipped struct {
		id      string
		blocker string
		p       float64
	}
	var skips []skipped

	for _, skill := range s.graph.All() {
		p := probs[skill.ID]
		if p >= s.cfg.ProbabilityThreshold {
			continue // already consolidated
		}

		ready := true
		for _, prereq := range skill.Prerequisites {
			if probs[prereq] < s.cfg.ProbabilityThreshold {
				ready = false
				skips = append(skips, skipped{id: skill.ID, blocker: prereq, p: probs[prereq]})
				break
			}
		}
		if !ready {
			continue
		}

		recs = append(recs, Recommendation{Skill: skill, Probability: p})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Skill.GradeLevel != b.Skill.GradeLevel {
			return a.Skill.GradeLevel < b.Skill.GradeLevel
		}
		if a.Skill.OrderInGrade != b.Skill.OrderInGrade {
			return a.Skill.OrderInGrade < b.Skill.OrderInGrade
		}
		return a.Probability < b.Probability
	})

	fields := []zap.Field{
		zap.String("learner", learnerID),
		zap.Int("recommended", len(recs)),
		zap.Int("skipped_on_prerequisites", len(skips)),
	}
	for _, sk := range skips {
		fields = append(fields, zap.String("skipped_"+sk.id,
			fmt.Sprintf("prerequisite %s at p=%.3f", sk.blocker, sk.p)))
	}
	s.log.Debug("recommendations computed", fields...)

	return recs, nil
}
