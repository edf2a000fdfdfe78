package questionbank

import (
	"fmt"
	"slices"
	"sort"
)

// Index maps question id to record and skill id to question ids.
type Index struct {
	byID    map[string]*Question
	bySkill map[string][]string
}

// NewIndex builds the index from loaded questions. Duplicate question ids
// are a load-time error.
func NewIndex(questions []Question) (*Index, error) {
	idx := &Index{
		byID:    make(map[string]*Question, len(questions)),
		bySkill: make(map[string][]string),
	}
	qs := slices.Clone(questions)
	for i := range qs {
		q := &qs[i]
		if _, dup := idx.byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question ID: %q", q.ID)
		}
		idx.byID[q.ID] = q
		for _, sid := range q.SkillIDs {
			idx.bySkill[sid] = append(idx.bySkill[sid], q.ID)
		}
	}
	// Stable per-skill ordering makes selection ties deterministic.
	for sid := range idx.bySkill {
		sort.Strings(idx.bySkill[sid])
	}
	return idx, nil
}

// Get returns the question for an id.
func (idx *Index) Get(id string) (Question, error) {
	q, ok := idx.byID[id]
	if !ok {
		return Question{}, fmt.Errorf("question not found: %q", id)
	}
	return *q, nil
}

// BySkill returns the question ids exercising a skill, in stable order.
func (idx *Index) BySkill(skillID string) []string {
	return slices.Clone(idx.bySkill[skillID])
}

// Filter returns the questions for a skill, skipping ids in exclude and
// anything rejected by predicate. Either filter may be nil.
func (idx *Index) Filter(skillID string, exclude map[string]bool, predicate func(Question) bool) []Question {
	ids := idx.bySkill[skillID]
	result := make([]Question, 0, len(ids))
	for _, id := range ids {
		if exclude != nil && exclude[id] {
			continue
		}
		q := *idx.byID[id]
		if predicate != nil && !predicate(q) {
			continue
		}
		result = append(result, q)
	}
	return result
}

// Len returns the number of indexed questions.
func (idx *Index) Len() int {
	return len(idx.byID)
}
