// Package dash implements the adaptive question scheduler: an exponential
// memory-decay model over the skill graph, attempt updates with prerequisite
// propagation, journey-ordered recommendations, and difficulty-windowed
// question selection.
package dash

import (
	"math"
	"time"

	"github.com/brightpath/tutorcore/internal/learner"
	"github.com/brightpath/tutorcore/internal/skillgraph"
)

// Strength returns the decayed memory strength for a skill state at time
// now. Decay is exponential in days since last practice; a skill never
// practiced (or practiced at now) keeps its stored strength.
func Strength(st learner.SkillState, lambda float64, now time.Time) float64 {
	if st.LastPractice == nil {
		return st.Strength
	}
	days := now.Sub(*st.LastPractice).Hours() / 24
	if days <= 0 {
		return st.Strength
	}
	return st.Strength * math.Exp(-lambda*days)
}

// PredictRecall returns the predicted probability of a correct answer for
// the skill at time now: a sigmoid of decayed strength minus intrinsic
// difficulty.
func PredictRecall(st learner.SkillState, skill skillgraph.Skill, now time.Time) float64 {
	s := Strength(st, skill.Lambda, now)
	return 1 / (1 + math.Exp(-(s - skill.Difficulty)))
}
