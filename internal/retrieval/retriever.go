package retrieval

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brightpath/tutorcore/internal/config"
	"github.com/brightpath/tutorcore/internal/llm"
	"github.com/brightpath/tutorcore/internal/memstore"
	"github.com/brightpath/tutorcore/internal/sessionctx"
)

// lightTopK is the candidate count for per-turn retrieval.
const lightTopK = 10

// deepTopK maps each category to its fan-out result count.
var deepTopK = map[memstore.Category]int{
	memstore.CategoryAcademic:   5,
	memstore.CategoryPersonal:   3,
	memstore.CategoryPreference: 3,
	memstore.CategoryContext:    3,
}

// deepTurnCount is how much recent conversation feeds the thematic query.
const deepTurnCount = 10

// Retriever owns per-session retrieval state and the synthesis path that
// turns retrieved memories into agent instructions.
type Retriever struct {
	provider llm.Provider
	store    *memstore.Store
	cfg      config.Pipeline
	log      *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates a Retriever.
func New(provider llm.Provider, store *memstore.Store, cfg config.Pipeline, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{
		provider: provider,
		store:    store,
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*sessionState),
	}
}

// state returns the session's retrieval state, creating it on first use.
func (r *Retriever) state(sessionID string) *sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		st = newSessionState(r.cfg.MaxInjectedIDs)
		r.sessions[sessionID] = st
	}
	return st
}

// Queue returns the session's instruction queue for streaming.
func (r *Retriever) Queue(sessionID string) *InstructionQueue {
	return r.state(sessionID).queue
}

// PushInstruction enqueues an out-of-band instruction (greetings,
// closings) onto the session's FIFO.
func (r *Retriever) PushInstruction(sessionID, instruction string) {
	r.state(sessionID).queue.Push(instruction)
}

// EndSession closes the instruction queue and drops retrieval state.
func (r *Retriever) EndSession(sessionID string) {
	r.mu.Lock()
	st, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if ok {
		st.queue.Close()
	}
}

// LightRetrieve runs the per-turn retrieval path: analyze the need,
// search across all categories excluding this session's own memories,
// cache the hits and synthesize.
func (r *Retriever) LightRetrieve(ctx context.Context, sc *sessionctx.Context, userText, prevAgentText string) error {
	needed, query := r.analyzeQuery(ctx, userText, prevAgentText)
	if !needed {
		r.log.Debug("retrieval not needed", zap.String("session", sc.SessionID))
		return nil
	}

	hits, err := r.store.Search(ctx, sc.LearnerID, query, memstore.SearchOptions{
		TopK:           lightTopK,
		ExcludeSession: sc.SessionID,
	})
	if err != nil {
		return err
	}

	st := r.state(sc.SessionID)
	st.mu.Lock()
	st.lightCache = hits
	st.mu.Unlock()

	r.log.Debug("light retrieval complete",
		zap.String("session", sc.SessionID),
		zap.String("query", query),
		zap.Int("hits", len(hits)))

	r.synthesize(ctx, sc)
	return nil
}

// DeepRetrieve runs the periodic thematic retrieval: one synthesized
// query fanned out across the four categories in parallel. A failing
// category contributes nothing but does not fail the rest.
func (r *Retriever) DeepRetrieve(ctx context.Context, sc *sessionctx.Context) error {
	turns := sc.Recent(deepTurnCount)
	if len(turns) == 0 {
		return nil
	}
	query := r.deepQuery(ctx, turns)

	var mu sync.Mutex
	var hits []memstore.Scored
	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range memstore.Categories() {
		g.Go(func() error {
			catHits, err := r.store.Search(gctx, sc.LearnerID, query, memstore.SearchOptions{
				Category:       cat,
				TopK:           deepTopK[cat],
				ExcludeSession: sc.SessionID,
			})
			if err != nil {
				r.log.Warn("deep retrieval category failed",
					zap.String("category", string(cat)),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			hits = append(hits, catHits...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	st := r.state(sc.SessionID)
	st.mu.Lock()
	st.deepCache = hits
	st.mu.Unlock()

	r.log.Debug("deep retrieval complete",
		zap.String("session", sc.SessionID),
		zap.String("query", query),
		zap.Int("hits", len(hits)))

	r.synthesize(ctx, sc)
	return nil
}

// synthesize assembles candidates from both caches, drops already
// injected memories, and asks the Reflector whether to instruct the
// agent. A successful injection records the candidate ids and clears the
// caches so the next injection is driven by fresh retrievals.
//
// The session lock is held only to snapshot candidates and to commit:
// the Reflector's LLM call runs unlocked so ticks and other events keep
// flowing while it is in flight. The reflecting flag keeps at most one
// Reflector call per session; a synthesis arriving mid-call returns, and
// its cache updates are picked up by the next turn since caches only
// clear on successful injection.
func (r *Retriever) synthesize(ctx context.Context, sc *sessionctx.Context) {
	st := r.state(sc.SessionID)

	st.mu.Lock()
	if st.reflecting {
		st.mu.Unlock()
		return
	}
	seen := make(map[string]bool)
	var candidates []memstore.Scored
	for _, cache := range [][]memstore.Scored{st.lightCache, st.deepCache} {
		for _, hit := range cache {
			id := hit.Memory.ID
			if seen[id] || st.injected.Has(id) {
				continue
			}
			seen[id] = true
			candidates = append(candidates, hit)
		}
	}
	if len(candidates) == 0 {
		st.mu.Unlock()
		r.log.Debug("no injectable candidates", zap.String("session", sc.SessionID))
		return
	}
	st.reflecting = true
	st.mu.Unlock()

	instruction, ok := r.reflect(ctx, candidates, sc.Recent(6))

	st.mu.Lock()
	st.reflecting = false
	if !ok {
		st.mu.Unlock()
		r.log.Debug("injection suppressed", zap.String("session", sc.SessionID))
		return
	}
	st.queue.Push(instruction)
	for _, c := range candidates {
		st.injected.Add(c.Memory.ID)
	}
	st.lightCache = nil
	st.deepCache = nil
	st.mu.Unlock()

	r.log.Info("instruction injected",
		zap.String("session", sc.SessionID),
		zap.Int("memories", len(candidates)))
}

// DeepDue reports whether the session's deep retrieval timer has fired,
// and if so resets it.
func (r *Retriever) DeepDue(sessionID string, now time.Time, period time.Duration) bool {
	st := r.state(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastDeep.IsZero() {
		// First tick arms the timer; deep retrieval needs some
		// conversation to summarize anyway.
		st.lastDeep = now
		return false
	}
	if now.Sub(st.lastDeep) < period {
		return false
	}
	st.lastDeep = now
	return true
}
