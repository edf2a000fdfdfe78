package questionbank

import (
	"encoding/json"
	"fmt"
	"os"
)

// record is the file shape of one question.
type record struct {
	ID           string   `json:"id"`
	SkillIDs     []string `json:"skill_ids"`
	Difficulty   float64  `json:"difficulty"`
	ExpectedSecs float64  `json:"expected_seconds"`
}

// LoadFile reads a JSON array of question records and builds the index.
func LoadFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse question bank %s: %w", path, err)
	}
	questions := make([]Question, 0, len(records))
	for _, r := range records {
		questions = append(questions, Question{
			ID:           r.ID,
			SkillIDs:     r.SkillIDs,
			Difficulty:   r.Difficulty,
			ExpectedSecs: r.ExpectedSecs,
		})
	}
	return NewIndex(questions)
}
