package learner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brightpath/tutorcore/internal/store"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewSQLStore(st.DB())
}

func TestGetState_LazyDefault(t *testing.T) {
	s := newTestStore(t)
	st, err := s.GetState(context.Background(), "alice", "addition_basic")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if st.Strength != 0 || st.LastPractice != nil || st.PracticeCount != 0 {
		t.Errorf("expected zero-value default, got %+v", st)
	}
}

func TestUpdateState_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	err := s.UpdateState(ctx, "alice", "addition_basic", func(st *SkillState) {
		st.Strength = 1.5
		st.LastPractice = &now
		st.PracticeCount = 3
		st.CorrectCount = 2
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	st, err := s.GetState(ctx, "alice", "addition_basic")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Strength != 1.5 || st.PracticeCount != 3 || st.CorrectCount != 2 {
		t.Errorf("round trip mismatch: %+v", st)
	}
	if st.LastPractice == nil || !st.LastPractice.Equal(now) {
		t.Errorf("last practice mismatch: %v vs %v", st.LastPractice, now)
	}
}

func TestUpdateState_ClampsStrength(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, tc := range []struct {
		set  float64
		want float64
	}{
		{set: 99, want: MaxStrength},
		{set: -99, want: MinStrength},
	} {
		err := s.UpdateState(ctx, "alice", "sk", func(st *SkillState) { st.Strength = tc.set })
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		st, _ := s.GetState(ctx, "alice", "sk")
		if st.Strength != tc.want {
			t.Errorf("strength %v should clamp to %v, got %v", tc.set, tc.want, st.Strength)
		}
	}
}

func TestUpdateState_RejectsCorrectAbovePractice(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateState(context.Background(), "alice", "sk", func(st *SkillState) {
		st.PracticeCount = 1
		st.CorrectCount = 2
	})
	if err == nil {
		t.Fatal("expected invariant violation error")
	}
}

func TestUpdateState_ConcurrentIncrementsSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.UpdateState(ctx, "alice", "sk", func(st *SkillState) {
				st.PracticeCount++
			})
		}()
	}
	wg.Wait()

	st, err := s.GetState(ctx, "alice", "sk")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.PracticeCount != n {
		t.Errorf("expected %d practices after concurrent updates, got %d", n, st.PracticeCount)
	}
}

func TestHistory_NewestFirstAndBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := s.AppendAttempt(ctx, Attempt{
			LearnerID:    "alice",
			QuestionID:   string(rune('a' + i)),
			Correct:      i%2 == 0,
			SkillIDs:     []string{"sk"},
			ResponseSecs: float64(i),
			Timestamp:    time.Now(),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.History(ctx, "alice", 5)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5, got %d", len(got))
	}
	if got[0].QuestionID != "j" {
		t.Errorf("expected newest first, got %q", got[0].QuestionID)
	}
}
