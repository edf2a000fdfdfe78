package skillgraph

import (
	"strings"
	"testing"
)

func intp(v int) *int { return &v }

func testRecords() []Record {
	return []Record{
		{ID: "counting_1_10", Name: "Counting 1-10", GradeLevel: 1, Difficulty: -1.0},
		{ID: "addition_basic", Name: "Basic Addition", GradeLevel: 1, Difficulty: 0.0, Prerequisites: []string{"counting_1_10"}},
		{ID: "multiplication_intro", Name: "Intro Multiplication", GradeLevel: 2, Difficulty: 0.5, Prerequisites: []string{"addition_basic"}},
		{ID: "multiplication_tables", Name: "Multiplication Tables", GradeLevel: 3, Difficulty: 0.8, Prerequisites: []string{"multiplication_intro"}},
		{ID: "division_basic", Name: "Basic Division", GradeLevel: 3, Difficulty: 1.0, Prerequisites: []string{"multiplication_tables", "addition_basic"}},
	}
}

func TestLoad_AssignsOrderByAppearance(t *testing.T) {
	g, err := Load(testRecords())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	grade3 := g.ByGrade(3)
	if len(grade3) != 2 {
		t.Fatalf("expected 2 grade-3 skills, got %d", len(grade3))
	}
	if grade3[0].ID != "multiplication_tables" || grade3[1].ID != "division_basic" {
		t.Errorf("appearance order not preserved: %v, %v", grade3[0].ID, grade3[1].ID)
	}
}

func TestLoad_ExplicitOrderWins(t *testing.T) {
	recs := testRecords()
	recs[3].Order = intp(5) // multiplication_tables
	recs[4].Order = intp(1) // division_basic

	g, err := Load(recs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	grade3 := g.ByGrade(3)
	if grade3[0].ID != "division_basic" {
		t.Errorf("explicit order ignored, got %q first", grade3[0].ID)
	}
}

func TestLoad_DefaultLambda(t *testing.T) {
	g, err := Load(testRecords())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, err := g.Get("addition_basic")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Lambda != DefaultLambda {
		t.Errorf("expected default lambda %v, got %v", DefaultLambda, s.Lambda)
	}
}

func TestLoad_RejectsUnknownPrerequisite(t *testing.T) {
	recs := []Record{
		{ID: "a", GradeLevel: 1},
		{ID: "b", GradeLevel: 1, Prerequisites: []string{"missing"}},
	}
	_, err := Load(recs)
	if err == nil {
		t.Fatal("expected error for unknown prerequisite, got nil")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error should name the missing id, got: %v", err)
	}
}

func TestLoad_RejectsCycle(t *testing.T) {
	recs := []Record{
		{ID: "a", GradeLevel: 1, Prerequisites: []string{"b"}},
		{ID: "b", GradeLevel: 1, Prerequisites: []string{"a"}},
	}
	_, err := Load(recs)
	if err == nil {
		t.Fatal("expected error for cycle, got nil")
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error should mention cycle, got: %v", err)
	}
}

func TestPrerequisites_TransitiveFirstSeenOrder(t *testing.T) {
	g, err := Load(testRecords())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	got := g.Prerequisites("division_basic")
	want := []string{"multiplication_tables", "multiplication_intro", "addition_basic", "counting_1_10"}
	if len(got) != len(want) {
		t.Fatalf("closure length: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("closure[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPrerequisites_Deterministic(t *testing.T) {
	g, err := Load(testRecords())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	first := g.Prerequisites("division_basic")
	for i := 0; i < 10; i++ {
		again := g.Prerequisites("division_basic")
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("closure order not stable on call %d", i)
			}
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	g, err := Load(testRecords())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := g.Get("nope"); err == nil {
		t.Fatal("expected not-found error")
	}
}
