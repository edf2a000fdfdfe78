package dash

import (
	"context"

	"go.uber.org/zap"
)

// Performance component weights: correctness dominates, pace refines.
const (
	correctnessWeight = 0.6
	timeWeight        = 0.4
)

// DifficultyOffset analyzes the learner's recent attempts and returns the
// difficulty adjustment for the next selection. Positive offsets push
// toward harder questions, negative toward easier. No history means no
// adjustment.
func (s *Scheduler) DifficultyOffset(ctx context.Context, learnerID string) (float64, error) {
	history, err := s.store.History(ctx, learnerID, s.cfg.LookbackCount)
	if err != nil {
		return 0, err
	}
	if len(history) == 0 {
		return 0, nil
	}

	correct := 0
	ratioSum := 0.0
	ratioCount := 0
	for _, a := range history {
		if a.Correct {
			correct++
		}
		q, err := s.bank.Get(a.QuestionID)
		if err != nil || q.ExpectedSecs <= 0 {
			continue // question unknown or malformed; skip the pace sample
		}
		ratioSum += a.ResponseSecs / q.ExpectedSecs
		ratioCount++
	}

	c := float64(correct) / float64(len(history))
	correctnessScore := 2*c - 1

	// With no usable pace samples, treat pace as neutral.
	timeScore := 0.0
	if ratioCount > 0 {
		r := ratioSum / float64(ratioCount)
		if r > 2 {
			r = 2
		}
		timeScore = 2*(1-r/2) - 1
	}

	performance := correctnessWeight*correctnessScore + timeWeight*timeScore
	offset := offsetFor(performance)

	s.log.Debug("difficulty analysis",
		zap.String("learner", learnerID),
		zap.Int("attempts", len(history)),
		zap.Float64("correctness_score", correctnessScore),
		zap.Float64("time_score", timeScore),
		zap.Float64("performance", performance),
		zap.Float64("offset", offset))
	return offset, nil
}

// offsetFor maps a performance score to a difficulty offset step.
func offsetFor(performance float64) float64 {
	switch {
	case performance < -0.3:
		return -0.30
	case performance < -0.1:
		return -0.15
	case performance <= 0.1:
		return 0
	case performance <= 0.3:
		return 0.15
	default:
		return 0.30
	}
}
