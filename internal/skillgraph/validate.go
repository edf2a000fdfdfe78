package skillgraph

import (
	"fmt"
	"strings"
)

// validateSkills runs every structural check over the skill set and
// reports all failures at once, so a bad data file can be fixed in one
// round trip.
func validateSkills(skills []Skill) error {
	var errs []string

	ids := make(map[string]bool, len(skills))
	for _, s := range skills {
		if ids[s.ID] {
			errs = append(errs, fmt.Sprintf("duplicate skill ID: %q", s.ID))
		}
		ids[s.ID] = true
	}

	for _, s := range skills {
		for _, pre := range s.Prerequisites {
			if !ids[pre] {
				errs = append(errs, fmt.Sprintf("skill %q references nonexistent prerequisite %q", s.ID, pre))
			}
		}
		if s.GradeLevel < 1 || s.GradeLevel > 12 {
			errs = append(errs, fmt.Sprintf("skill %q: grade level must be 1-12, got %d", s.ID, s.GradeLevel))
		}
		if s.Lambda <= 0 {
			errs = append(errs, fmt.Sprintf("skill %q: lambda must be > 0, got %f", s.ID, s.Lambda))
		}
	}

	if cycle := findCycle(skills); len(cycle) > 0 {
		errs = append(errs, fmt.Sprintf("cycle detected involving skills: %s", strings.Join(cycle, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("skill graph validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// findCycle runs Kahn's topological sort and returns the IDs left with
// unresolved prerequisites, which are exactly the nodes on or behind a
// cycle. An empty result means the graph is acyclic.
func findCycle(skills []Skill) []string {
	remaining := make(map[string]int, len(skills))
	dependents := make(map[string][]string)
	for _, s := range skills {
		remaining[s.ID] = len(s.Prerequisites)
		for _, pre := range s.Prerequisites {
			dependents[pre] = append(dependents[pre], s.ID)
		}
	}

	var frontier []string
	for _, s := range skills {
		if remaining[s.ID] == 0 {
			frontier = append(frontier, s.ID)
		}
	}

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, dep := range dependents[id] {
			remaining[dep]--
			if remaining[dep] == 0 {
				frontier = append(frontier, dep)
			}
		}
	}

	var stuck []string
	for _, s := range skills {
		if remaining[s.ID] > 0 {
			stuck = append(stuck, s.ID)
		}
	}
	return stuck
}
