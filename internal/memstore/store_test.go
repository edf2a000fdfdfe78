package memstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brightpath/tutorcore/internal/config"
	"github.com/brightpath/tutorcore/internal/embedding"
	"github.com/brightpath/tutorcore/internal/store"
)

func TestSanitizeLearnerID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice", "alice"},
		{"alice.smith@example.com", "alice-smith-example-com"},
		{"  Bob  Jones ", "bob-jones"},
		{"___", "anonymous"},
		{"", "anonymous"},
		{"learner42", "learner42"},
	}
	for _, tt := range tests {
		if got := SanitizeLearnerID(tt.in); got != tt.want {
			t.Errorf("SanitizeLearnerID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIndexName(t *testing.T) {
	if got := IndexName("Alice Smith"); got != "memory-alice-smith" {
		t.Errorf("IndexName = %q", got)
	}
}

func newTestStore(t *testing.T) (*Store, *embedding.MockEngine) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := embedding.NewMockEngine()
	cfg := config.Default().Memory
	return NewStore(db.DB(), engine, cfg, "", nil), engine
}

func TestSave_RejectsJunkAndShort(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, text := range []string{"yes", "OKAY", "k", "two words", ""} {
		_, err := s.Save(ctx, Memory{Category: CategoryAcademic, Text: text, LearnerID: "a"})
		if !errors.Is(err, ErrRejected) {
			t.Errorf("Save(%q): expected ErrRejected, got %v", text, err)
		}
	}

	if _, err := s.Save(ctx, Memory{Category: CategoryAcademic, Text: "understands the chain rule", LearnerID: "a"}); err != nil {
		t.Errorf("valid text rejected: %v", err)
	}
}

func TestSave_RejectsUnknownCategory(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Save(context.Background(), Memory{Category: "emotional", Text: "three word text", LearnerID: "a"})
	if err == nil {
		t.Fatal("expected error for unknown category")
	}
}

// Saving the same fact twice reinforces one record: counter 2, importance
// keeps the max, text takes the latest phrasing, first-seen is preserved.
func TestSave_DedupeReinforces(t *testing.T) {
	s, engine := newTestStore(t)
	ctx := context.Background()

	// Pin both phrasings to near-identical vectors so similarity clears
	// the threshold.
	engine.Pin("understands the chain rule", []float32{1, 0, 0, 0})
	engine.Pin("has mastered the chain rule", []float32{0.99, 0.1, 0, 0})
	engine.Pin("chain rule understanding", []float32{1, 0, 0, 0})

	res, err := s.Save(ctx, Memory{
		Category: CategoryAcademic, Text: "understands the chain rule",
		Importance: 0.6, LearnerID: "alice", SessionID: "s1",
	})
	if err != nil || res != SaveNew {
		t.Fatalf("first save: res=%v err=%v", res, err)
	}

	res, err = s.Save(ctx, Memory{
		Category: CategoryAcademic, Text: "has mastered the chain rule",
		Importance: 0.9, LearnerID: "alice", SessionID: "s2",
	})
	if err != nil || res != SaveUpdated {
		t.Fatalf("second save: res=%v err=%v", res, err)
	}

	hits, err := s.Search(ctx, "alice", "chain rule understanding", SearchOptions{Category: CategoryAcademic})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one record after dedupe, got %d", len(hits))
	}
	m := hits[0].Memory
	if m.Counter != 2 {
		t.Errorf("counter = %d, want 2", m.Counter)
	}
	if m.Importance != 0.9 {
		t.Errorf("importance = %v, want 0.9", m.Importance)
	}
	if m.Text != "has mastered the chain rule" {
		t.Errorf("text = %q, want latest phrasing", m.Text)
	}
	if m.LastEpoch.Before(m.FirstEpoch) {
		t.Errorf("last epoch %v before first epoch %v", m.LastEpoch, m.FirstEpoch)
	}
}

func TestSave_DistinctTextsInsertSeparately(t *testing.T) {
	s, engine := newTestStore(t)
	ctx := context.Background()

	engine.Pin("loves dinosaurs very much", []float32{1, 0, 0, 0})
	engine.Pin("struggles with long division", []float32{0, 1, 0, 0})

	s.Save(ctx, Memory{Category: CategoryPersonal, Text: "loves dinosaurs very much", LearnerID: "alice"})
	s.Save(ctx, Memory{Category: CategoryPersonal, Text: "struggles with long division", LearnerID: "alice"})

	counts, err := s.Count(ctx, "alice")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[CategoryPersonal] != 2 {
		t.Errorf("personal count = %d, want 2", counts[CategoryPersonal])
	}
}

func TestSearch_ExcludesSessionAndRespectsTopK(t *testing.T) {
	s, engine := newTestStore(t)
	ctx := context.Background()

	engine.Pin("enjoys geometry proofs a lot", []float32{1, 0, 0, 0})
	engine.Pin("dislikes fraction word problems", []float32{0, 1, 0, 0})
	engine.Pin("query about geometry", []float32{1, 0, 0, 0})

	s.Save(ctx, Memory{Category: CategoryAcademic, Text: "enjoys geometry proofs a lot", LearnerID: "a", SessionID: "s1"})
	s.Save(ctx, Memory{Category: CategoryAcademic, Text: "dislikes fraction word problems", LearnerID: "a", SessionID: "s2"})

	hits, err := s.Search(ctx, "a", "query about geometry", SearchOptions{ExcludeSession: "s1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, h := range hits {
		if h.Memory.SessionID == "s1" {
			t.Errorf("excluded session leaked: %+v", h.Memory)
		}
	}

	hits, _ = s.Search(ctx, "a", "query about geometry", SearchOptions{TopK: 1})
	if len(hits) != 1 {
		t.Fatalf("topK=1 returned %d hits", len(hits))
	}
	if hits[0].Memory.Text != "enjoys geometry proofs a lot" {
		t.Errorf("most similar memory not ranked first: %q", hits[0].Memory.Text)
	}
}

func TestSearch_IsolatesLearners(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Save(ctx, Memory{Category: CategoryAcademic, Text: "working through algebra basics", LearnerID: "alice"})

	hits, err := s.Search(ctx, "bob", "algebra basics progress", SearchOptions{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("bob sees alice's memories: %d hits", len(hits))
	}
}

func TestSaveBatch_Stats(t *testing.T) {
	s, engine := newTestStore(t)
	engine.Pin("knows the quadratic formula", []float32{1, 0})
	engine.Pin("recalls the quadratic formula", []float32{0.999, 0.01})

	stats := s.SaveBatch(context.Background(), []Memory{
		{Category: CategoryAcademic, Text: "knows the quadratic formula", LearnerID: "a"},
		{Category: CategoryAcademic, Text: "recalls the quadratic formula", LearnerID: "a"},
		{Category: CategoryAcademic, Text: "ok", LearnerID: "a"},
		{Category: "bogus", Text: "some valid length text", LearnerID: "a"},
	})

	if stats.Processed != 4 {
		t.Errorf("processed = %d, want 4", stats.Processed)
	}
	if stats.New != 1 || stats.Updated != 1 || stats.Errors != 2 {
		t.Errorf("stats = %+v, want 1 new, 1 updated, 2 errors", stats)
	}
}

func TestRecency_Blend(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Now()

	// Fresh memory, counter 10: both halves at maximum.
	if got := s.recency(now, now, 10); got < 0.999 {
		t.Errorf("fresh saturated memory recency = %v, want ~1", got)
	}

	// 24h old, counter 1: time part 0.5, freq part 0.1.
	got := s.recency(now, now.Add(-24*time.Hour), 1)
	want := 0.5*0.5 + 0.5*0.1
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("recency = %v, want %v", got, want)
	}
}

func TestMirror_WritesCategoryFile(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	s := NewStore(db.DB(), embedding.NewMockEngine(), config.Default().Memory, dir, nil)

	if _, err := s.Save(context.Background(), Memory{
		Category: CategoryAcademic, Text: "comfortable with basic fractions", LearnerID: "Alice",
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	path := filepath.Join(TeachingAssistantDir(dir, "Alice"), "academic.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("mirror file missing: %v", err)
	}
	if len(data) == 0 {
		t.Error("mirror file empty")
	}
}
