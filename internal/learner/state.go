// Package learner persists per-learner per-skill memory state and the
// append-only attempt history the scheduler reads.
package learner

import "time"

// Strength bounds for the memory-strength scalar.
const (
	MinStrength = -2.0
	MaxStrength = 5.0
)

// SkillState is one learner's memory state for one skill.
// A learner who has never practiced a skill holds the zero-value state
// (strength 0, nil last practice).
type SkillState struct {
	Strength      float64
	LastPractice  *time.Time
	PracticeCount int
	CorrectCount  int
}

// Attempt is one answered question. Append-only.
type Attempt struct {
	LearnerID    string
	QuestionID   string
	Correct      bool
	SkillIDs     []string
	ResponseSecs float64
	Timestamp    time.Time
}

// ClampStrength bounds v to [MinStrength, MaxStrength].
func ClampStrength(v float64) float64 {
	if v < MinStrength {
		return MinStrength
	}
	if v > MaxStrength {
		return MaxStrength
	}
	return v
}
