package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/config"
	"github.com/brightpath/tutorcore/internal/consolidate"
	"github.com/brightpath/tutorcore/internal/dash"
	"github.com/brightpath/tutorcore/internal/embedding"
	"github.com/brightpath/tutorcore/internal/extractor"
	"github.com/brightpath/tutorcore/internal/learner"
	"github.com/brightpath/tutorcore/internal/llm"
	"github.com/brightpath/tutorcore/internal/memstore"
	"github.com/brightpath/tutorcore/internal/pipeline"
	"github.com/brightpath/tutorcore/internal/questionbank"
	"github.com/brightpath/tutorcore/internal/retrieval"
	"github.com/brightpath/tutorcore/internal/sessionctx"
	"github.com/brightpath/tutorcore/internal/skillgraph"
	"github.com/brightpath/tutorcore/internal/store"
)

func testGraph(t *testing.T) *skillgraph.Graph {
	t.Helper()
	g, err := skillgraph.Load([]skillgraph.Record{
		{ID: "counting_1_10", Name: "Counting 1-10", GradeLevel: 1, Difficulty: -1.0},
		{ID: "addition_basic", Name: "Basic Addition", GradeLevel: 1, Difficulty: 0.0, Prerequisites: []string{"counting_1_10"}},
		{ID: "multiplication_intro", Name: "Intro Multiplication", GradeLevel: 2, Difficulty: 0.5, Prerequisites: []string{"addition_basic"}},
	})
	if err != nil {
		t.Fatalf("load graph: %v", err)
	}
	return g
}

func testBank(t *testing.T) *questionbank.Index {
	t.Helper()
	idx, err := questionbank.NewIndex([]questionbank.Question{
		{ID: "c1", SkillIDs: []string{"counting_1_10"}, Difficulty: -1.0, ExpectedSecs: 20},
		{ID: "c2", SkillIDs: []string{"counting_1_10"}, Difficulty: -0.8, ExpectedSecs: 20},
		{ID: "a1", SkillIDs: []string{"addition_basic"}, Difficulty: 0.0, ExpectedSecs: 30},
		{ID: "a2", SkillIDs: []string{"addition_basic"}, Difficulty: 0.2, ExpectedSecs: 30},
		{ID: "m1", SkillIDs: []string{"multiplication_intro"}, Difficulty: 0.5, ExpectedSecs: 60},
	})
	if err != nil {
		t.Fatalf("build index: %v", err)
	}
	return idx
}

// newTestEngine wires a full engine over an in-memory database, the mock
// embedding engine and the given provider. The opening poll is shortened
// so session starts without an artifact return quickly.
func newTestEngine(t *testing.T, provider llm.Provider) *Engine {
	t.Helper()
	st, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	ls := learner.NewSQLStore(st.DB())
	sched := dash.NewScheduler(testGraph(t), testBank(t), ls, cfg.Dash, zap.NewNop())

	contexts, err := sessionctx.NewManager(cfg.Pipeline.MaxSessions, cfg.Pipeline.MaxHistoryPerSession, cfg.DataDir, nil)
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	pool := pipeline.NewPool(cfg.Pipeline.WorkerPoolSize, nil)
	pipe := pipeline.New(pipeline.NewQueue(64), contexts, pool, cfg.Pipeline, nil)

	memories := memstore.NewStore(st.DB(), embedding.NewMockEngine(), cfg.Memory, cfg.DataDir, nil)
	retriever := retrieval.New(provider, memories, cfg.Pipeline, nil)
	consolidator := consolidate.New(extractor.New(provider, nil), memories, provider, cfg.DataDir, 3, nil)

	e := New(Deps{
		Scheduler:    sched,
		Learners:     ls,
		Sessions:     st.SessionRepo(),
		Assessments:  st.AssessmentRepo(),
		Contexts:     contexts,
		Pipeline:     pipe,
		Retriever:    retriever,
		Consolidator: consolidator,
		Pool:         pool,
		Config:       cfg,
		Log:          zap.NewNop(),
	})
	e.markReady()
	e.openingPoll = 50 * time.Millisecond
	return e
}

func TestStartSession_FallbackGreeting(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())
	ctx := context.Background()

	start, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if start.SessionID == "" {
		t.Fatal("empty session id")
	}
	if start.Greeting != fallbackGreeting {
		t.Errorf("greeting = %q, want fallback", start.Greeting)
	}

	got, ok := e.NextInstruction(ctx, start.SessionID)
	if !ok || got != fallbackGreeting {
		t.Errorf("NextInstruction = %q, %v; want greeting", got, ok)
	}
}

func TestStartSession_ConflictWhenActive(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())
	ctx := context.Background()

	if _, err := e.StartSession(ctx, "alice"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := e.StartSession(ctx, "alice")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second start error = %v, want ErrConflict", err)
	}
}

func TestStartSession_NotReady(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())
	e.ready.Store(false)

	if _, err := e.StartSession(context.Background(), "alice"); !errors.Is(err, ErrNotReady) {
		t.Errorf("error = %v, want ErrNotReady", err)
	}
}

func TestEndSession_NotFound(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())

	if _, err := e.EndSession(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestEndSession_TwiceConflicts(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())
	ctx := context.Background()

	start, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := e.EndSession(ctx, start.SessionID); err != nil {
		t.Fatalf("first end: %v", err)
	}
	if _, err := e.EndSession(ctx, start.SessionID); !errors.Is(err, ErrConflict) {
		t.Errorf("second end error = %v, want ErrConflict", err)
	}
}

// Ending a session pushes the closing message before closing the queue, so
// a consumer draining the instruction stream still receives the goodbye.
func TestEndSession_DeliversClosingThenCloses(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())
	ctx := context.Background()

	start, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if got, ok := e.NextInstruction(ctx, start.SessionID); !ok || got != fallbackGreeting {
		t.Fatalf("greeting = %q, %v", got, ok)
	}

	closing, err := e.EndSession(ctx, start.SessionID)
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if closing != fallbackClosing {
		t.Errorf("closing = %q, want fallback", closing)
	}

	if got, ok := e.NextInstruction(ctx, start.SessionID); !ok || got != fallbackClosing {
		t.Errorf("closing instruction = %q, %v", got, ok)
	}
	if _, ok := e.NextInstruction(ctx, start.SessionID); ok {
		t.Error("queue should be closed after the closing instruction")
	}
}

// A learner who ends one session and starts another is greeted with the
// opener generated from the first session's record.
func TestSessionContinuity_OpeningArtifactGreeting(t *testing.T) {
	provider := llm.NewMockProvider(
		// Detached opening generation after session end.
		llm.MockResponse{Content: json.RawMessage(`{
			"welcome_hook": "Last time you cracked two-digit addition!",
			"personal_relevance": "Good luck at the soccer game later.",
			"suggested_opener": "Ready to pick up where we left off with addition?"
		}`)},
	)
	e := newTestEngine(t, provider)
	ctx := context.Background()

	first, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("start first session: %v", err)
	}
	if _, err := e.EndSession(ctx, first.SessionID); err != nil {
		t.Fatalf("end first session: %v", err)
	}
	e.pool.Wait() // detached opening generation

	second, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("start second session: %v", err)
	}
	// The greeting leads with the welcome hook's callback to the prior
	// session, then the suggested opener.
	want := "Last time you cracked two-digit addition! Ready to pick up where we left off with addition?"
	if second.Greeting != want {
		t.Errorf("greeting = %q, want %q", second.Greeting, want)
	}

	// The artifact is consumed: a third start falls back again.
	if _, err := e.EndSession(ctx, second.SessionID); err != nil {
		t.Fatalf("end second session: %v", err)
	}
	e.pool.Wait()
	third, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("start third session: %v", err)
	}
	// The second end also generated an opening, but its LLM call had no
	// canned response, so only the partial artifact fields exist.
	if third.Greeting != fallbackGreeting {
		t.Errorf("third greeting = %q, want fallback", third.Greeting)
	}
}

func TestSubmitAttempt_UpdatesStateAndSession(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())
	ctx := context.Background()

	start, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	res, err := e.SubmitAttempt(ctx, start.SessionID, learner.Attempt{
		LearnerID:    "alice",
		QuestionID:   "c1",
		Correct:      true,
		SkillIDs:     []string{"counting_1_10"},
		ResponseSecs: 12,
	})
	if err != nil {
		t.Fatalf("submit attempt: %v", err)
	}
	if len(res.AffectedSkills) != 1 || res.AffectedSkills[0] != "counting_1_10" {
		t.Errorf("affected = %v", res.AffectedSkills)
	}

	rec, err := e.sessions.Get(ctx, start.SessionID)
	if err != nil || rec == nil {
		t.Fatalf("get session: %v", err)
	}
	if rec.QuestionsAttempted != 1 {
		t.Errorf("questions attempted = %d, want 1", rec.QuestionsAttempted)
	}
}

func TestSubmitAttempt_RejectsIncomplete(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())

	_, err := e.SubmitAttempt(context.Background(), "", learner.Attempt{LearnerID: "alice"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestNextQuestions_ExcludesAnsweredHistory(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())
	ctx := context.Background()

	if _, err := e.SubmitAttempt(ctx, "", learner.Attempt{
		LearnerID: "alice", QuestionID: "c1", Correct: false,
		SkillIDs: []string{"counting_1_10"}, ResponseSecs: 30,
	}); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	selections, err := e.NextQuestions(ctx, "alice", 3)
	if err != nil {
		t.Fatalf("next questions: %v", err)
	}
	for _, sel := range selections {
		if sel.Question.ID == "c1" {
			t.Error("answered question c1 selected again")
		}
	}
}

func TestNextQuestions_NotFoundWhenExhausted(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())
	ctx := context.Background()

	// Answer every question in the bank.
	for _, q := range []struct{ id, skill string }{
		{"c1", "counting_1_10"}, {"c2", "counting_1_10"},
		{"a1", "addition_basic"}, {"a2", "addition_basic"},
		{"m1", "multiplication_intro"},
	} {
		if _, err := e.SubmitAttempt(ctx, "", learner.Attempt{
			LearnerID: "alice", QuestionID: q.id, Correct: false,
			SkillIDs: []string{q.skill}, ResponseSecs: 30,
		}); err != nil {
			t.Fatalf("seed attempt %s: %v", q.id, err)
		}
	}

	_, err := e.NextQuestions(ctx, "alice", 2)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStartAssessment_OncePerLearner(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())
	ctx := context.Background()

	selections, err := e.StartAssessment(ctx, "alice", 1)
	if err != nil {
		t.Fatalf("start assessment: %v", err)
	}
	if len(selections) == 0 {
		t.Fatal("no assessment questions")
	}

	_, err = e.StartAssessment(ctx, "alice", 1)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("repeat error = %v, want ErrConflict", err)
	}
}

func TestSubmitText_UnknownSession(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())

	err := e.SubmitText(context.Background(), "missing", "alice", sessionctx.SpeakerUser, "hello")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestComposeGreeting(t *testing.T) {
	tests := []struct {
		name     string
		artifact *consolidate.OpeningArtifact
		want     string
	}{
		{"nil artifact", nil, fallbackGreeting},
		{"hook leads, opener follows", &consolidate.OpeningArtifact{
			WelcomeHook: "hook", SuggestedOpener: "opener",
		}, "hook opener"},
		{"hook only", &consolidate.OpeningArtifact{
			WelcomeHook: "hook",
		}, "hook"},
		{"opener only", &consolidate.OpeningArtifact{
			SuggestedOpener: "opener",
		}, "opener"},
		{"empty artifact", &consolidate.OpeningArtifact{}, fallbackGreeting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := composeGreeting(tt.artifact); got != tt.want {
				t.Errorf("composeGreeting = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInactivitySkill_EndsQuietSessions(t *testing.T) {
	e := newTestEngine(t, llm.NewMockProvider())
	ctx := context.Background()

	start, err := e.StartSession(ctx, "alice")
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	sc, ok := e.contexts.Peek(start.SessionID)
	if !ok {
		t.Fatal("context missing")
	}

	skill := &inactivitySkill{engine: e, timeout: 10 * time.Minute}

	// Recent activity keeps the session alive.
	skill.Tick(ctx, sc, time.Now())
	e.pool.Wait()
	rec, _ := e.sessions.Get(ctx, start.SessionID)
	if rec == nil || !rec.Active {
		t.Fatal("session ended despite recent activity")
	}

	// The end runs on the worker pool, off the tick path.
	skill.Tick(ctx, sc, time.Now().Add(11*time.Minute))
	e.pool.Wait()
	rec, _ = e.sessions.Get(ctx, start.SessionID)
	if rec == nil || rec.Active {
		t.Error("session still active after inactivity timeout")
	}
}
