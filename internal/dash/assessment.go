package dash

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/questionbank"
	"github.com/brightpath/tutorcore/internal/skillgraph"
)

// AssessmentSize is the fixed number of questions in an assessment.
const AssessmentSize = 10

// maxDiversifyRetries bounds how many alternative skills are tried per
// slot before repeating an already-used skill.
const maxDiversifyRetries = 3

// gradeBucket is one slice of the assessment distribution.
type gradeBucket struct {
	grade int
	count int
}

// assessmentDistribution returns the deterministic grade buckets for a
// learner at grade g: {g-2:2, g-1:4, g:2, g+1:2}, clamped at grade 1.
// Clamped buckets merge, so totals always sum to AssessmentSize.
func assessmentDistribution(grade int) []gradeBucket {
	raw := []gradeBucket{
		{grade: grade - 2, count: 2},
		{grade: grade - 1, count: 4},
		{grade: grade, count: 2},
		{grade: grade + 1, count: 2},
	}

	merged := make(map[int]int)
	var order []int
	for _, b := range raw {
		g := b.grade
		if g < 1 {
			g = 1
		}
		if _, seen := merged[g]; !seen {
			order = append(order, g)
		}
		merged[g] += b.count
	}

	out := make([]gradeBucket, 0, len(order))
	for _, g := range order {
		out = append(out, gradeBucket{grade: g, count: merged[g]})
	}
	return out
}

// SelectAssessment builds a 10-question assessment spread across grades
// around the learner's grade, diversifying skills within each bucket with
// a bounded number of retries per slot.
func (s *Scheduler) SelectAssessment(ctx context.Context, learnerID string, grade int, exclude map[string]bool) ([]Selection, error) {
	if grade < 1 || grade > 12 {
		return nil, fmt.Errorf("grade must be 1-12, got %d", grade)
	}

	used := make(map[string]bool, len(exclude))
	for id := range exclude {
		used[id] = true
	}
	usedSkills := make(map[string]bool)

	var out []Selection
	for _, bucket := range assessmentDistribution(grade) {
		skills := s.graph.ByGrade(bucket.grade)
		if len(skills) == 0 {
			s.log.Warn("assessment bucket has no skills",
				zap.String("learner", learnerID),
				zap.Int("grade", bucket.grade))
			continue
		}

		for slot := 0; slot < bucket.count; slot++ {
			sel := s.pickAssessmentQuestion(skills, used, usedSkills, slot)
			if sel == nil {
				continue // bucket exhausted
			}
			used[sel.Question.ID] = true
			usedSkills[sel.SkillID] = true
			out = append(out, *sel)
		}
	}

	s.log.Info("assessment selected",
		zap.String("learner", learnerID),
		zap.Int("grade", grade),
		zap.Int("questions", len(out)))
	return out, nil
}

// pickAssessmentQuestion walks the bucket's skills starting at a
// slot-dependent position, preferring skills not yet represented. After
// maxDiversifyRetries it settles for any skill with an available question.
func (s *Scheduler) pickAssessmentQuestion(skills []skillgraph.Skill, used map[string]bool, usedSkills map[string]bool, slot int) *Selection {
	pick := func(skill skillgraph.Skill) *questionbank.Question {
		candidates := s.bank.Filter(skill.ID, used, nil)
		if len(candidates) == 0 {
			return nil
		}
		q := candidates[0]
		return &q
	}

	// First pass: unused skills only, bounded retries.
	retries := 0
	for i := 0; i < len(skills) && retries < maxDiversifyRetries; i++ {
		skill := skills[(slot+i)%len(skills)]
		if usedSkills[skill.ID] {
			continue
		}
		retries++
		if q := pick(skill); q != nil {
			return &Selection{Question: *q, SkillID: skill.ID}
		}
	}

	// Second pass: any skill with a remaining question.
	for i := 0; i < len(skills); i++ {
		skill := skills[(slot+i)%len(skills)]
		if q := pick(skill); q != nil {
			return &Selection{Question: *q, SkillID: skill.ID}
		}
	}
	return nil
}
