package retrieval

import (
	"context"
	"time"

	"github.com/brightpath/tutorcore/internal/pipeline"
	"github.com/brightpath/tutorcore/internal/sessionctx"
)

// Skill wires the retriever into the event pipeline: debounced light
// retrieval on user turns, deep retrieval on a per-session timer. All
// retrieval runs on the worker pool so the event loop never blocks.
type Skill struct {
	retriever  *Retriever
	pool       *pipeline.Pool
	debounce   time.Duration
	deepPeriod time.Duration
}

// NewSkill creates the retrieval skill.
func NewSkill(r *Retriever, pool *pipeline.Pool, debounce, deepPeriod time.Duration) *Skill {
	return &Skill{retriever: r, pool: pool, debounce: debounce, deepPeriod: deepPeriod}
}

func (s *Skill) Name() string { return "memory-retrieval" }

func (s *Skill) OnEvent(ctx context.Context, sc *sessionctx.Context, ev pipeline.Event) {
	if ev.Speaker != sessionctx.SpeakerUser {
		return
	}
	if !sc.AllowRetrieval(ev.Timestamp, s.debounce) {
		return
	}

	userText := ev.Text
	prevAgent := sc.LastText(sessionctx.SpeakerTutor)
	if prevAgent == "" {
		prevAgent = sc.LastText(sessionctx.SpeakerAgent)
	}
	s.pool.Go(ctx, "light-retrieval", func(taskCtx context.Context) error {
		return s.retriever.LightRetrieve(taskCtx, sc, userText, prevAgent)
	})
}

func (s *Skill) Tick(ctx context.Context, sc *sessionctx.Context, now time.Time) {
	if !s.retriever.DeepDue(sc.SessionID, now, s.deepPeriod) {
		return
	}
	s.pool.Go(ctx, "deep-retrieval", func(taskCtx context.Context) error {
		return s.retriever.DeepRetrieve(taskCtx, sc)
	})
}
