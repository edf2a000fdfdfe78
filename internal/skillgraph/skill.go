package skillgraph

// DefaultLambda is the forgetting rate used when a skill record omits one.
const DefaultLambda = 0.1

// Skill is a single node in the skill graph. Immutable after load.
type Skill struct {
	ID            string
	Name          string
	GradeLevel    int     // ordinal grade, 1-12 (K maps to 1)
	OrderInGrade  int     // tie-breaker within a grade
	Lambda        float64 // forgetting rate (exponential decay constant)
	Difficulty    float64 // intrinsic difficulty on the strength scale
	Prerequisites []string
}

// Record is the loader input shape for one skill. Order is optional: when
// absent, order is assigned by appearance within the grade.
type Record struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	GradeLevel    int      `json:"grade_level"`
	Order         *int     `json:"order,omitempty"`
	Lambda        *float64 `json:"lambda,omitempty"`
	Difficulty    float64  `json:"difficulty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}
