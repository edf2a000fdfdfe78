package questionbank

import "testing"

func testQuestions() []Question {
	return []Question{
		{ID: "q1", SkillIDs: []string{"add"}, Difficulty: 0.1, ExpectedSecs: 30},
		{ID: "q2", SkillIDs: []string{"add"}, Difficulty: 0.4, ExpectedSecs: 45},
		{ID: "q3", SkillIDs: []string{"add", "sub"}, Difficulty: 0.7, ExpectedSecs: 60},
		{ID: "q4", SkillIDs: []string{"sub"}, Difficulty: 0.2, ExpectedSecs: 30},
	}
}

func TestNewIndex_RejectsDuplicateID(t *testing.T) {
	qs := testQuestions()
	qs = append(qs, Question{ID: "q1", SkillIDs: []string{"add"}})
	if _, err := NewIndex(qs); err == nil {
		t.Fatal("expected duplicate-id error")
	}
}

func TestBySkill_MultiSkillQuestionAppearsInBoth(t *testing.T) {
	idx, err := NewIndex(testQuestions())
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	add := idx.BySkill("add")
	sub := idx.BySkill("sub")
	if len(add) != 3 || len(sub) != 2 {
		t.Errorf("skill buckets wrong: add=%v sub=%v", add, sub)
	}
}

func TestFilter_ExcludeAndPredicate(t *testing.T) {
	idx, err := NewIndex(testQuestions())
	if err != nil {
		t.Fatalf("index: %v", err)
	}

	got := idx.Filter("add", map[string]bool{"q1": true}, func(q Question) bool {
		return q.Difficulty < 0.5
	})
	if len(got) != 1 || got[0].ID != "q2" {
		t.Errorf("expected [q2], got %v", got)
	}
}

func TestFilter_NilFiltersReturnAll(t *testing.T) {
	idx, err := NewIndex(testQuestions())
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if got := idx.Filter("add", nil, nil); len(got) != 3 {
		t.Errorf("expected 3, got %d", len(got))
	}
}
