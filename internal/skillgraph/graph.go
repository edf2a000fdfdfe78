package skillgraph

import (
	"fmt"
	"slices"
	"sort"
)

// Graph holds the immutable skill DAG with precomputed indices.
// Build it once at startup with Load and share it freely; it is never
// mutated afterwards.
type Graph struct {
	skills    []Skill
	byID      map[string]*Skill
	byGrade   map[int][]Skill
	transRefs map[string][]string // transitive prerequisite closure per skill
}

// Load builds a Graph from raw records. Records without an explicit order
// are numbered by appearance within their grade. Unknown prerequisite ids
// and cycles are load-time errors: a malformed graph must fail before any
// scheduling runs.
func Load(records []Record) (*Graph, error) {
	skills := make([]Skill, 0, len(records))
	nextOrder := make(map[int]int)

	for _, r := range records {
		order := nextOrder[r.GradeLevel]
		if r.Order != nil {
			order = *r.Order
		} else {
			nextOrder[r.GradeLevel]++
		}

		lambda := DefaultLambda
		if r.Lambda != nil {
			lambda = *r.Lambda
		}

		skills = append(skills, Skill{
			ID:            r.ID,
			Name:          r.Name,
			GradeLevel:    r.GradeLevel,
			OrderInGrade:  order,
			Lambda:        lambda,
			Difficulty:    r.Difficulty,
			Prerequisites: slices.Clone(r.Prerequisites),
		})
	}

	if err := validateSkills(skills); err != nil {
		return nil, err
	}

	g := &Graph{
		skills:    skills,
		byID:      make(map[string]*Skill, len(skills)),
		byGrade:   make(map[int][]Skill),
		transRefs: make(map[string][]string, len(skills)),
	}
	for i := range g.skills {
		g.byID[g.skills[i].ID] = &g.skills[i]
	}

	// Grade index, ordered by (order, id) for deterministic iteration.
	for i := range g.skills {
		s := g.skills[i]
		g.byGrade[s.GradeLevel] = append(g.byGrade[s.GradeLevel], s)
	}
	for grade, group := range g.byGrade {
		sort.Slice(group, func(i, j int) bool {
			if group[i].OrderInGrade != group[j].OrderInGrade {
				return group[i].OrderInGrade < group[j].OrderInGrade
			}
			return group[i].ID < group[j].ID
		})
		g.byGrade[grade] = group
	}

	// Precompute transitive closures; the graph is acyclic at this point.
	for i := range g.skills {
		g.transRefs[g.skills[i].ID] = g.computeClosure(g.skills[i].ID)
	}

	return g, nil
}

// Get returns the skill for an id.
func (g *Graph) Get(id string) (Skill, error) {
	s, ok := g.byID[id]
	if !ok {
		return Skill{}, fmt.Errorf("skill not found: %q", id)
	}
	return *s, nil
}

// All returns every skill in load order.
func (g *Graph) All() []Skill {
	return slices.Clone(g.skills)
}

// ByGrade returns skills for a grade level, ordered by (order, id).
func (g *Graph) ByGrade(grade int) []Skill {
	return slices.Clone(g.byGrade[grade])
}

// DirectPrerequisites returns the direct prerequisite skills of id.
func (g *Graph) DirectPrerequisites(id string) []Skill {
	s, ok := g.byID[id]
	if !ok {
		return nil
	}
	result := make([]Skill, 0, len(s.Prerequisites))
	for _, pid := range s.Prerequisites {
		if p, ok := g.byID[pid]; ok {
			result = append(result, *p)
		}
	}
	return result
}

// Prerequisites returns the transitive prerequisite closure of id, in
// deterministic first-seen order with duplicates removed. The skill itself
// is not included.
func (g *Graph) Prerequisites(id string) []string {
	return slices.Clone(g.transRefs[id])
}

// computeClosure walks direct prerequisites depth-first in declaration
// order, keeping the first occurrence of each id.
func (g *Graph) computeClosure(id string) []string {
	var out []string
	seen := map[string]bool{id: true}

	var walk func(string)
	walk = func(cur string) {
		s, ok := g.byID[cur]
		if !ok {
			return
		}
		for _, pid := range s.Prerequisites {
			if seen[pid] {
				continue
			}
			seen[pid] = true
			out = append(out, pid)
			walk(pid)
		}
	}
	walk(id)
	return out
}
