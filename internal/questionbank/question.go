// Package questionbank indexes the loaded question pool for O(1) retrieval
// by question id and by skill id. Read-only reference data after load.
package questionbank

// Question is a single question record. Immutable after load.
type Question struct {
	ID            string
	SkillIDs      []string
	Difficulty    float64
	ExpectedSecs  float64 // expected response time in seconds
}
