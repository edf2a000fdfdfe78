// Package memstore is the per-learner vector memory store. Each learner
// gets one index, namespaced by memory category, with dedupe-on-write and
// weighted similarity search.
package memstore

import (
	"strings"
	"time"
)

// Category partitions a learner's memories.
type Category string

const (
	CategoryAcademic   Category = "academic"
	CategoryPersonal   Category = "personal"
	CategoryPreference Category = "preference"
	CategoryContext    Category = "context"
)

// Categories returns all categories in canonical order.
func Categories() []Category {
	return []Category{CategoryAcademic, CategoryPersonal, CategoryPreference, CategoryContext}
}

// Valid reports whether c is a recognized category.
func (c Category) Valid() bool {
	switch c {
	case CategoryAcademic, CategoryPersonal, CategoryPreference, CategoryContext:
		return true
	}
	return false
}

// Memory is one stored fact about a learner.
type Memory struct {
	ID         string
	Category   Category
	Text       string
	Importance float64
	LearnerID  string
	SessionID  string
	Counter    int
	FirstEpoch time.Time
	LastEpoch  time.Time
	Metadata   map[string]string
}

// SanitizeLearnerID normalizes a learner id for use in an index name:
// lowercase, non-alphanumeric runs become single hyphens, leading and
// trailing hyphens trimmed. Empty input maps to "anonymous".
func SanitizeLearnerID(id string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	s := strings.Trim(b.String(), "-")
	if s == "" {
		return "anonymous"
	}
	return s
}

// IndexName returns the vector index name for a learner.
func IndexName(learnerID string) string {
	return "memory-" + SanitizeLearnerID(learnerID)
}
