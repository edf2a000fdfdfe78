package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pool runs background tasks with a bounded number of workers. Tasks own
// their errors: a failing task is logged and dropped, never propagated,
// so one bad extraction cannot stall the event loop.
type Pool struct {
	sem *semaphore.Weighted
	log *zap.Logger
	wg  sync.WaitGroup
}

// NewPool creates a Pool with the given number of workers.
func NewPool(workers int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), log: log}
}

// Go schedules fn on the pool and returns immediately. The task waits
// for a free worker inside its own goroutine, so a saturated pool never
// stalls the caller; a context cancelled while waiting drops the task.
func (p *Pool) Go(ctx context.Context, name string, fn func(context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.log.Debug("task dropped, context done", zap.String("task", name))
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()

		if err := fn(ctx); err != nil {
			p.log.Warn("task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait blocks until all scheduled tasks finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}
