package dash

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/questionbank"
)

// difficultyWindow is the half-width of the acceptable difficulty band
// around the adjusted target.
const difficultyWindow = 0.2

// Selection is one chosen question with the skill that drove the choice.
type Selection struct {
	Question questionbank.Question
	SkillID  string
	// Fallback is true when no candidate fell inside the difficulty
	// window and the closest question overall was taken instead.
	Fallback bool
}

// SelectNext picks the next question for a learner. excludeQuestions holds
// question ids already answered or already chosen in this batch;
// excludeSkills (optional) removes whole skills from consideration. The
// returned question is never in the exclusion set; (nil, nil) means no
// selectable question exists.
func (s *Scheduler) SelectNext(ctx context.Context, learnerID string, now time.Time, excludeQuestions map[string]bool, excludeSkills map[string]bool) (*Selection, error) {
	recs, err := s.Recommend(ctx, learnerID, now)
	if err != nil {
		return nil, err
	}

	offset, err := s.DifficultyOffset(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		if excludeSkills != nil && excludeSkills[rec.Skill.ID] {
			continue
		}

		target := rec.Skill.Difficulty + offset
		candidates := s.bank.Filter(rec.Skill.ID, excludeQuestions, nil)
		if len(candidates) == 0 {
			continue
		}

		pick, inWindow := closestQuestion(candidates, target)

		s.log.Info("question selected",
			zap.String("learner", learnerID),
			zap.String("skill", rec.Skill.ID),
			zap.Float64("target_difficulty", target),
			zap.Float64("window_low", target-difficultyWindow),
			zap.Float64("window_high", target+difficultyWindow),
			zap.String("question", pick.ID),
			zap.Bool("fallback", !inWindow))

		return &Selection{Question: pick, SkillID: rec.Skill.ID, Fallback: !inWindow}, nil
	}

	s.log.Info("no selectable question",
		zap.String("learner", learnerID),
		zap.Int("recommendations", len(recs)))
	return nil, nil
}

// SelectBatch picks up to count questions, feeding each choice back into
// the exclusion set so a batch never repeats a question.
func (s *Scheduler) SelectBatch(ctx context.Context, learnerID string, now time.Time, count int, excludeQuestions map[string]bool) ([]Selection, error) {
	exclude := make(map[string]bool, len(excludeQuestions)+count)
	for id := range excludeQuestions {
		exclude[id] = true
	}

	var out []Selection
	for len(out) < count {
		sel, err := s.SelectNext(ctx, learnerID, now, exclude, nil)
		if err != nil {
			return nil, err
		}
		if sel == nil {
			break
		}
		exclude[sel.Question.ID] = true
		out = append(out, *sel)
	}
	return out, nil
}

// closestQuestion returns the candidate closest to target difficulty,
// preferring candidates inside the window. Ties keep the earlier (stable)
// candidate. Reports whether the pick fell inside the window.
func closestQuestion(candidates []questionbank.Question, target float64) (questionbank.Question, bool) {
	var windowed []questionbank.Question
	for _, q := range candidates {
		if q.Difficulty >= target-difficultyWindow && q.Difficulty <= target+difficultyWindow {
			windowed = append(windowed, q)
		}
	}

	pool := windowed
	inWindow := true
	if len(pool) == 0 {
		pool = candidates
		inWindow = false
	}

	best := pool[0]
	bestDist := math.Abs(best.Difficulty - target)
	for _, q := range pool[1:] {
		d := math.Abs(q.Difficulty - target)
		if d < bestDist {
			best = q
			bestDist = d
		}
	}
	return best, inWindow
}
