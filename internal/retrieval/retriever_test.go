package retrieval

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/brightpath/tutorcore/internal/config"
	"github.com/brightpath/tutorcore/internal/embedding"
	"github.com/brightpath/tutorcore/internal/llm"
	"github.com/brightpath/tutorcore/internal/memstore"
	"github.com/brightpath/tutorcore/internal/sessionctx"
	"github.com/brightpath/tutorcore/internal/store"
)

func TestIDWindow_SlidesOut(t *testing.T) {
	w := newIDWindow(3)
	for _, id := range []string{"a", "b", "c"} {
		w.Add(id)
	}
	if !w.Has("a") {
		t.Fatal("a should be tracked")
	}
	w.Add("d")
	if w.Has("a") {
		t.Error("oldest id should have slid out")
	}
	if !w.Has("b") || !w.Has("d") {
		t.Error("newer ids lost")
	}
	w.Add("b") // re-add is a no-op
	if w.Len() != 3 {
		t.Errorf("len = %d, want 3", w.Len())
	}
}

func TestInstructionQueue_FIFOAtMostOnce(t *testing.T) {
	q := NewInstructionQueue()
	q.Push("first")
	q.Push("second")

	got, ok := q.Pop()
	if !ok || got != "first" {
		t.Fatalf("pop = %q, %v", got, ok)
	}
	got, _ = q.Pop()
	if got != "second" {
		t.Fatalf("pop = %q", got)
	}
	if _, ok := q.Pop(); ok {
		t.Error("drained queue delivered again")
	}
}

func TestInstructionQueue_NextBlocksAndCloses(t *testing.T) {
	q := NewInstructionQueue()

	done := make(chan string, 1)
	go func() {
		instr, ok := q.Next(context.Background())
		if !ok {
			done <- ""
			return
		}
		done <- instr
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("wake up")
	select {
	case got := <-done:
		if got != "wake up" {
			t.Errorf("Next = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Next never woke")
	}

	q.Close()
	if _, ok := q.Next(context.Background()); ok {
		t.Error("closed empty queue returned an instruction")
	}
	q.Push("after close")
	if q.Len() != 0 {
		t.Error("push after close retained")
	}
}

// memoryFixture seeds a store with one pinned memory per call.
type fixture struct {
	retriever *Retriever
	store     *memstore.Store
	engine    *embedding.MockEngine
	provider  *llm.MockProvider
	sc        *sessionctx.Context
}

func newFixture(t *testing.T, responses ...llm.MockResponse) *fixture {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := embedding.NewMockEngine()
	ms := memstore.NewStore(db.DB(), engine, config.Default().Memory, "", nil)
	provider := llm.NewMockProvider(responses...)
	r := New(provider, ms, config.Default().Pipeline, nil)
	sc := sessionctx.NewContext("s-live", "alice", 50)
	return &fixture{retriever: r, store: ms, engine: engine, provider: provider, sc: sc}
}

func analysisResponse(needed bool, query string) llm.MockResponse {
	body, _ := json.Marshal(map[string]any{"retrieval_needed": needed, "query": query})
	return llm.MockResponse{Content: body}
}

func reflectorResponse(text string) llm.MockResponse {
	body, _ := json.Marshal(text)
	return llm.MockResponse{Content: body}
}

func TestLightRetrieve_InjectsInstruction(t *testing.T) {
	f := newFixture(t,
		analysisResponse(true, "dinosaur interests"),
		reflectorResponse("Mention their love of dinosaurs when framing the next example."),
	)
	f.engine.Pin("loves dinosaurs very much", []float32{1, 0})
	f.engine.Pin("dinosaur interests", []float32{1, 0})
	f.store.Save(context.Background(), memstore.Memory{
		Category: memstore.CategoryPersonal, Text: "loves dinosaurs very much",
		LearnerID: "alice", SessionID: "s-old",
	})

	f.sc.AppendText(sessionctx.SpeakerUser, "can we do another word problem", time.Now())
	if err := f.retriever.LightRetrieve(context.Background(), f.sc, "can we do another word problem", ""); err != nil {
		t.Fatalf("light retrieve: %v", err)
	}

	q := f.retriever.Queue("s-live")
	instr, ok := q.Pop()
	if !ok {
		t.Fatal("no instruction queued")
	}
	if instr == "" || instr[:len(instructionPrefix)] != instructionPrefix {
		t.Errorf("instruction missing prefix: %q", instr)
	}
}

func TestLightRetrieve_NotNeededSkipsSearch(t *testing.T) {
	f := newFixture(t, analysisResponse(false, "whatever"))

	if err := f.retriever.LightRetrieve(context.Background(), f.sc, "ok thanks", ""); err != nil {
		t.Fatalf("light retrieve: %v", err)
	}
	if f.retriever.Queue("s-live").Len() != 0 {
		t.Error("instruction queued despite retrieval not needed")
	}
	// Only the analysis call happened.
	if f.provider.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1", f.provider.CallCount())
	}
}

func TestLightRetrieve_ReflectorNoneSuppresses(t *testing.T) {
	f := newFixture(t,
		analysisResponse(true, "geometry struggles"),
		reflectorResponse("NONE"),
	)
	f.engine.Pin("struggles with proofs lately", []float32{1, 0})
	f.engine.Pin("geometry struggles", []float32{1, 0})
	f.store.Save(context.Background(), memstore.Memory{
		Category: memstore.CategoryAcademic, Text: "struggles with proofs lately",
		LearnerID: "alice", SessionID: "s-old",
	})

	f.retriever.LightRetrieve(context.Background(), f.sc, "proofs again please", "")
	if f.retriever.Queue("s-live").Len() != 0 {
		t.Error("sentinel NONE did not suppress injection")
	}
}

// Once a memory is injected, later retrievals returning the same memory
// produce no second instruction.
func TestSynthesize_InjectedMemoryNotRepeated(t *testing.T) {
	f := newFixture(t,
		analysisResponse(true, "dinosaur interests"),
		reflectorResponse("Work dinosaurs into the next problem."),
		// Deep retrieval query synthesis response.
		llm.MockResponse{Content: json.RawMessage(`{"query": "dinosaur interests"}`)},
	)
	f.engine.Pin("loves dinosaurs very much", []float32{1, 0})
	f.engine.Pin("dinosaur interests", []float32{1, 0})
	f.store.Save(context.Background(), memstore.Memory{
		Category: memstore.CategoryPersonal, Text: "loves dinosaurs very much",
		LearnerID: "alice", SessionID: "s-old",
	})

	f.sc.AppendText(sessionctx.SpeakerUser, "another problem please", time.Now())
	f.retriever.LightRetrieve(context.Background(), f.sc, "another problem please", "")

	q := f.retriever.Queue("s-live")
	if _, ok := q.Pop(); !ok {
		t.Fatal("first injection missing")
	}

	// Deep retrieval finds the same memory; the candidate filter drops
	// it and nothing reaches the queue.
	if err := f.retriever.DeepRetrieve(context.Background(), f.sc); err != nil {
		t.Fatalf("deep retrieve: %v", err)
	}
	if q.Len() != 0 {
		t.Error("already-injected memory produced a second instruction")
	}
}

func TestLightRetrieve_EmptyResultsNoInjection(t *testing.T) {
	f := newFixture(t, analysisResponse(true, "anything at all"))

	f.retriever.LightRetrieve(context.Background(), f.sc, "hello there", "")
	if f.retriever.Queue("s-live").Len() != 0 {
		t.Error("empty retrieval produced an instruction")
	}
	// Reflector must not be consulted with no candidates.
	if f.provider.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (analysis only)", f.provider.CallCount())
	}
}

func TestAnalyzeQuery_FallbackOnFailure(t *testing.T) {
	f := newFixture(t) // empty provider queue: generate fails
	needed, query := f.retriever.analyzeQuery(context.Background(), "raw user text", "")
	if !needed || query != "raw user text" {
		t.Errorf("fallback = (%v, %q), want (true, raw text)", needed, query)
	}
}

func TestDeepDue_TimerBehavior(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	period := 3 * time.Minute

	if f.retriever.DeepDue("s1", now, period) {
		t.Error("first tick should only arm the timer")
	}
	if f.retriever.DeepDue("s1", now.Add(time.Minute), period) {
		t.Error("fired before the period elapsed")
	}
	if !f.retriever.DeepDue("s1", now.Add(period+time.Second), period) {
		t.Error("did not fire after the period")
	}
	if f.retriever.DeepDue("s1", now.Add(period+2*time.Second), period) {
		t.Error("timer did not reset after firing")
	}
}

// stallingProvider parks inside Generate until released, standing in for
// a slow upstream model.
type stallingProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *stallingProvider) Generate(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	close(p.started)
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return nil, &llm.ErrProviderUnavailable{}
}

func (p *stallingProvider) ModelID() string { return "stall" }

// An in-flight Reflector call must not hold the session lock: the tick
// path (DeepDue) has to stay responsive while the LLM is busy.
func TestSynthesize_ReflectorDoesNotBlockTimer(t *testing.T) {
	f := newFixture(t)
	stall := &stallingProvider{started: make(chan struct{}), release: make(chan struct{})}
	f.retriever.provider = stall

	st := f.retriever.state(f.sc.SessionID)
	st.mu.Lock()
	st.lightCache = []memstore.Scored{{Memory: memstore.Memory{ID: "m1", Text: "loves dinosaurs"}}}
	st.mu.Unlock()

	done := make(chan struct{})
	go func() {
		f.retriever.synthesize(context.Background(), f.sc)
		close(done)
	}()
	<-stall.started

	fired := make(chan bool, 1)
	go func() {
		fired <- f.retriever.DeepDue(f.sc.SessionID, time.Now(), time.Minute)
	}()
	select {
	case <-fired:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("DeepDue blocked behind an in-flight Reflector call")
	}

	// A second synthesis arriving mid-call returns instead of queueing.
	f.retriever.synthesize(context.Background(), f.sc)

	close(stall.release)
	<-done
	if f.retriever.Queue(f.sc.SessionID).Len() != 0 {
		t.Error("failed reflection should not inject")
	}
}

func TestEndSession_ClosesQueueAndDropsState(t *testing.T) {
	f := newFixture(t)
	q := f.retriever.Queue("s1")
	f.retriever.EndSession("s1")

	if _, ok := q.Next(context.Background()); ok {
		t.Error("closed queue still delivering")
	}
}
