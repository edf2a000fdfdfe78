// Package engine is the composition root: it wires the scheduler, memory
// core and event pipeline behind the session lifecycle surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/config"
	"github.com/brightpath/tutorcore/internal/consolidate"
	"github.com/brightpath/tutorcore/internal/dash"
	"github.com/brightpath/tutorcore/internal/learner"
	"github.com/brightpath/tutorcore/internal/pipeline"
	"github.com/brightpath/tutorcore/internal/retrieval"
	"github.com/brightpath/tutorcore/internal/sessionctx"
	"github.com/brightpath/tutorcore/internal/store"
)

// openingPollTimeout bounds how long session start waits for a late
// opening artifact.
const openingPollTimeout = 3 * time.Second

// defaultInactivityTimeout ends sessions with no transcript traffic.
const defaultInactivityTimeout = 10 * time.Minute

// fallbackGreeting opens a session when no opening artifact exists.
const fallbackGreeting = "Welcome! What would you like to work on today?"

// fallbackClosing ends a session when no goodbye was derived.
const fallbackClosing = "Great work today. See you next time!"

// Engine owns the session lifecycle and delegates to the scheduler and
// memory subsystems.
type Engine struct {
	scheduler    *dash.Scheduler
	learners     learner.Store
	sessions     store.SessionRepo
	assessments  store.AssessmentRepo
	contexts     *sessionctx.Manager
	pipe         *pipeline.Pipeline
	retriever    *retrieval.Retriever
	consolidator *consolidate.Consolidator
	pool         *pipeline.Pool
	cfg          *config.Config
	log          *zap.Logger
	openingPoll  time.Duration
	ready        atomic.Bool
}

// Deps carries the engine's collaborators.
type Deps struct {
	Scheduler    *dash.Scheduler
	Learners     learner.Store
	Sessions     store.SessionRepo
	Assessments  store.AssessmentRepo
	Contexts     *sessionctx.Manager
	Pipeline     *pipeline.Pipeline
	Retriever    *retrieval.Retriever
	Consolidator *consolidate.Consolidator
	Pool         *pipeline.Pool
	Config       *config.Config
	Log          *zap.Logger
}

// New wires an Engine and registers it as the pipeline's lifecycle
// handler alongside the inactivity skill.
func New(d Deps) *Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		scheduler:    d.Scheduler,
		learners:     d.Learners,
		sessions:     d.Sessions,
		assessments:  d.Assessments,
		contexts:     d.Contexts,
		pipe:         d.Pipeline,
		retriever:    d.Retriever,
		consolidator: d.Consolidator,
		pool:         d.Pool,
		cfg:          d.Config,
		log:          log,
		openingPoll:  openingPollTimeout,
	}
	e.pipe.SetLifecycle(e)
	e.pipe.Register(&inactivitySkill{engine: e, timeout: defaultInactivityTimeout})
	return e
}

// Run marks the engine ready and drives the event pipeline until the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.ready.Store(true)
	defer e.ready.Store(false)
	return e.pipe.Run(ctx)
}

func (e *Engine) markReady() {
	e.ready.Store(true)
}

func (e *Engine) checkReady() error {
	if !e.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// SessionStart is the result of starting a session.
type SessionStart struct {
	SessionID string
	Greeting  string
}

// StartSession opens a session for a learner and emits the greeting
// instruction. The greeting uses the opening artifact from the learner's
// previous session when one exists, polling briefly for the
// immediate-restart race, and falls back to a generic opener otherwise.
func (e *Engine) StartSession(ctx context.Context, learnerID string) (*SessionStart, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if learnerID == "" {
		return nil, fmt.Errorf("%w: empty learner id", ErrNotFound)
	}

	if active, err := e.sessions.ActiveForLearner(ctx, learnerID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, fmt.Errorf("%w: learner %q already has active session %q", ErrConflict, learnerID, active.ID)
	}

	now := time.Now()
	id := uuid.NewString()
	if err := e.sessions.Create(ctx, store.SessionRecord{
		ID: id, LearnerID: learnerID, StartedAt: now, LastActivity: now,
	}); err != nil {
		return nil, err
	}
	e.contexts.Get(id, learnerID)

	opening, err := e.consolidator.PollOpening(ctx, learnerID, e.openingPoll)
	if err != nil {
		e.log.Warn("opening artifact read failed", zap.String("learner", learnerID), zap.Error(err))
	}
	greeting := composeGreeting(opening)
	e.retriever.PushInstruction(id, greeting)

	e.log.Info("session started",
		zap.String("session", id),
		zap.String("learner", learnerID),
		zap.Bool("opening_artifact", opening != nil))
	return &SessionStart{SessionID: id, Greeting: greeting}, nil
}

// EndSession closes a session: remaining exchanges are flushed, the
// closing artifact is written, the closing instruction is emitted, and
// opening-artifact generation for the next session is spawned detached so
// the caller returns immediately.
func (e *Engine) EndSession(ctx context.Context, sessionID string) (string, error) {
	if err := e.checkReady(); err != nil {
		return "", err
	}

	rec, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("%w: session %q", ErrNotFound, sessionID)
	}
	if !rec.Active {
		return "", fmt.Errorf("%w: session %q already ended", ErrConflict, sessionID)
	}

	now := time.Now()
	if err := e.sessions.End(ctx, sessionID, now); err != nil {
		return "", err
	}

	artifact, learnerID := e.consolidator.EndSession(ctx, sessionID)
	if learnerID == "" {
		learnerID = rec.LearnerID
	}

	closing := artifact.GoodbyeMessage
	if closing == "" {
		closing = fallbackClosing
	}
	e.retriever.PushInstruction(sessionID, closing)
	e.retriever.EndSession(sessionID)
	e.contexts.Remove(sessionID)

	detached := context.WithoutCancel(ctx)
	e.pool.Go(detached, "opening-generation", func(taskCtx context.Context) error {
		return e.consolidator.GenerateOpening(taskCtx, learnerID, artifact, time.Now())
	})

	e.log.Info("session ended",
		zap.String("session", sessionID),
		zap.String("learner", learnerID),
		zap.Int("new_memories", artifact.NewMemories))
	return closing, nil
}

// SubmitText feeds a transcript fragment into the pipeline.
func (e *Engine) SubmitText(ctx context.Context, sessionID, learnerID string, speaker sessionctx.Speaker, text string) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	now := time.Now()
	if err := e.sessions.Touch(ctx, sessionID, now, 1, 0); err != nil {
		return fmt.Errorf("%w: session %q", ErrNotFound, sessionID)
	}
	e.pipe.Submit(pipeline.Event{
		Type:      pipeline.EventText,
		Timestamp: now,
		SessionID: sessionID,
		LearnerID: learnerID,
		Speaker:   speaker,
		Text:      text,
	})
	return nil
}

// NextInstruction blocks until the session's next instruction is
// available. Delivery is FIFO and at-most-once; ok is false once the
// session's queue is closed and drained.
func (e *Engine) NextInstruction(ctx context.Context, sessionID string) (string, bool) {
	return e.retriever.Queue(sessionID).Next(ctx)
}

// OnSessionStart handles externally submitted lifecycle events.
func (e *Engine) OnSessionStart(ctx context.Context, ev pipeline.Event) {
	if _, err := e.StartSession(ctx, ev.LearnerID); err != nil {
		e.log.Warn("session start event failed",
			zap.String("learner", ev.LearnerID),
			zap.Error(err))
	}
}

// OnSessionEnd handles externally submitted lifecycle events.
func (e *Engine) OnSessionEnd(ctx context.Context, ev pipeline.Event) {
	if _, err := e.EndSession(ctx, ev.SessionID); err != nil {
		e.log.Warn("session end event failed",
			zap.String("session", ev.SessionID),
			zap.Error(err))
	}
}

// composeGreeting builds the session-opening instruction from the
// opening artifact when present. The welcome hook carries the callback
// to the previous session, so it always leads; the suggested opener
// follows it.
func composeGreeting(a *consolidate.OpeningArtifact) string {
	if a == nil {
		return fallbackGreeting
	}
	switch {
	case a.WelcomeHook != "" && a.SuggestedOpener != "":
		return a.WelcomeHook + " " + a.SuggestedOpener
	case a.WelcomeHook != "":
		return a.WelcomeHook
	case a.SuggestedOpener != "":
		return a.SuggestedOpener
	}
	return fallbackGreeting
}

// inactivitySkill ends sessions whose transcripts have gone quiet. It is
// the pipeline's example of a time-based skill: it fires on ticks, not
// traffic.
type inactivitySkill struct {
	engine  *Engine
	timeout time.Duration
}

func (s *inactivitySkill) Name() string { return "inactivity" }

func (s *inactivitySkill) OnEvent(context.Context, *sessionctx.Context, pipeline.Event) {}

// Tick runs on the pipeline's loop goroutine, and ending a session runs
// the extractor and closing-artifact LLM calls, so the end is scheduled
// on the worker pool rather than executed inline.
func (s *inactivitySkill) Tick(ctx context.Context, sc *sessionctx.Context, now time.Time) {
	if now.Sub(sc.LastActivity()) < s.timeout {
		return
	}
	s.engine.log.Info("session inactive, ending",
		zap.String("session", sc.SessionID),
		zap.Duration("timeout", s.timeout))
	sessionID := sc.SessionID
	s.engine.pool.Go(context.WithoutCancel(ctx), "inactivity-end", func(taskCtx context.Context) error {
		_, err := s.engine.EndSession(taskCtx, sessionID)
		// An explicit end or a second tick can win the race.
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
}
