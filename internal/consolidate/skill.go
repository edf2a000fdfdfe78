package consolidate

import (
	"context"
	"sync"
	"time"

	"github.com/brightpath/tutorcore/internal/extractor"
	"github.com/brightpath/tutorcore/internal/pipeline"
	"github.com/brightpath/tutorcore/internal/sessionctx"
)

// Skill pairs user turns with the tutor reply that follows and feeds the
// completed exchanges into the consolidator. Extraction is scheduled on
// the worker pool so the event loop never waits on an LLM.
type Skill struct {
	consolidator *Consolidator
	pool         *pipeline.Pool

	mu      sync.Mutex
	pending map[string]string // session id -> unpaired user text
	topics  map[string]string // session id -> current topic
}

// NewSkill creates the consolidation skill.
func NewSkill(c *Consolidator, pool *pipeline.Pool) *Skill {
	return &Skill{
		consolidator: c,
		pool:         pool,
		pending:      make(map[string]string),
		topics:       make(map[string]string),
	}
}

func (s *Skill) Name() string { return "memory-consolidation" }

// SetTopic records the session's current topic, attached to subsequent
// exchanges.
func (s *Skill) SetTopic(sessionID, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[sessionID] = topic
}

func (s *Skill) OnEvent(ctx context.Context, sc *sessionctx.Context, ev pipeline.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Speaker {
	case sessionctx.SpeakerUser:
		// A new user turn replaces any unpaired one.
		s.pending[ev.SessionID] = ev.Text
	case sessionctx.SpeakerTutor, sessionctx.SpeakerAgent:
		userText, ok := s.pending[ev.SessionID]
		if !ok {
			return
		}
		delete(s.pending, ev.SessionID)

		ex := extractor.Exchange{
			UserText:  userText,
			AgentText: ev.Text,
			Topic:     s.topics[ev.SessionID],
		}
		sessionID, learnerID := ev.SessionID, ev.LearnerID
		s.pool.Go(ctx, "consolidation", func(taskCtx context.Context) error {
			s.consolidator.AddExchange(taskCtx, sessionID, learnerID, ex)
			return nil
		})
	}
}

// Tick is a no-op; consolidation is driven entirely by transcript
// traffic and session end.
func (s *Skill) Tick(context.Context, *sessionctx.Context, time.Time) {
}
