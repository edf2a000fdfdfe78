package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/brightpath/tutorcore/internal/config"
	"github.com/brightpath/tutorcore/internal/sessionctx"
)

// Skill reacts to session traffic. OnEvent fires for each processed text
// event; Tick fires periodically for every active session so time-based
// skills (inactivity checks) work without transcript traffic. Skills must
// not block: slow work goes through the pool.
type Skill interface {
	Name() string
	OnEvent(ctx context.Context, sc *sessionctx.Context, ev Event)
	Tick(ctx context.Context, sc *sessionctx.Context, now time.Time)
}

// Lifecycle receives session start and end events.
type Lifecycle interface {
	OnSessionStart(ctx context.Context, ev Event)
	OnSessionEnd(ctx context.Context, ev Event)
}

// idleSleep is how long the loop rests when the queue is empty.
const idleSleep = 100 * time.Millisecond

// Pipeline drains the event queue in priority-ordered batches and
// dispatches registered skills.
type Pipeline struct {
	queue     *Queue
	sessions  *sessionctx.Manager
	pool      *Pool
	cfg       config.Pipeline
	log       *zap.Logger
	skills    []Skill
	lifecycle Lifecycle
}

// New creates a Pipeline.
func New(queue *Queue, sessions *sessionctx.Manager, pool *Pool, cfg config.Pipeline, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		queue:    queue,
		sessions: sessions,
		pool:     pool,
		cfg:      cfg,
		log:      log,
	}
}

// Register adds a skill to the dispatch list.
func (p *Pipeline) Register(s Skill) {
	p.skills = append(p.skills, s)
	p.log.Info("skill registered", zap.String("skill", s.Name()))
}

// SetLifecycle installs the session start/end handler.
func (p *Pipeline) SetLifecycle(l Lifecycle) {
	p.lifecycle = l
}

// Pool exposes the worker pool for skills that offload blocking work.
func (p *Pipeline) Pool() *Pool {
	return p.pool
}

// Submit enqueues an event. A full queue drops the event with a warning
// rather than blocking the producer.
func (p *Pipeline) Submit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if !p.queue.Push(ev) {
		p.log.Warn("event queue full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("session", ev.SessionID))
	}
}

// Run processes events until the context is cancelled. After each batch
// (and during idle periods) every active session gets a skill tick.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info("pipeline started",
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Int("workers", p.cfg.WorkerPoolSize))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("pipeline stopping", zap.Int("queued", p.queue.Len()))
			p.pool.Wait()
			return ctx.Err()
		default:
		}

		batch := p.queue.PopBatch(p.cfg.BatchSize)
		for _, ev := range batch {
			p.process(ctx, ev)
		}
		p.tick(ctx, time.Now())

		if len(batch) == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(idleSleep):
			}
		}
	}
}

// Drain processes everything currently queued, synchronously. Used by
// tests and by shutdown.
func (p *Pipeline) Drain(ctx context.Context) {
	for {
		batch := p.queue.PopBatch(p.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			p.process(ctx, ev)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventSessionStart:
		if p.lifecycle != nil {
			p.lifecycle.OnSessionStart(ctx, ev)
		}
		return
	case EventSessionEnd:
		if p.lifecycle != nil {
			p.lifecycle.OnSessionEnd(ctx, ev)
		}
		return
	case EventText:
	default:
		p.log.Debug("unsupported event type dropped", zap.String("type", string(ev.Type)))
		return
	}

	if !ev.Speaker.Valid() {
		p.log.Warn("text event with unknown speaker dropped",
			zap.String("session", ev.SessionID),
			zap.String("speaker", string(ev.Speaker)))
		return
	}

	sc := p.sessions.Get(ev.SessionID, ev.LearnerID)
	if !sc.AppendText(ev.Speaker, ev.Text, ev.Timestamp) {
		return
	}

	for _, skill := range p.skills {
		skill.OnEvent(ctx, sc, ev)
	}
}

// tick runs time-based skill evaluation across active sessions.
func (p *Pipeline) tick(ctx context.Context, now time.Time) {
	for _, sc := range p.sessions.Active() {
		for _, skill := range p.skills {
			skill.Tick(ctx, sc, now)
		}
	}
}
