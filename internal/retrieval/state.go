// Package retrieval finds relevant learner memories during a session and
// turns them into agent instructions: light per-turn retrieval, periodic
// deep retrieval, and a Reflector that decides whether to inject.
package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/brightpath/tutorcore/internal/memstore"
)

// idWindow is a bounded FIFO set of memory ids. When full, the oldest id
// falls out and may be injected again later in a long session.
type idWindow struct {
	ids   map[string]bool
	order []string
	cap   int
}

func newIDWindow(capacity int) *idWindow {
	if capacity <= 0 {
		capacity = 100
	}
	return &idWindow{ids: make(map[string]bool), cap: capacity}
}

func (w *idWindow) Has(id string) bool {
	return w.ids[id]
}

func (w *idWindow) Add(id string) {
	if w.ids[id] {
		return
	}
	w.ids[id] = true
	w.order = append(w.order, id)
	if len(w.order) > w.cap {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.ids, oldest)
	}
}

func (w *idWindow) Len() int {
	return len(w.order)
}

// InstructionQueue is a per-session FIFO of agent instructions with
// at-most-once delivery.
type InstructionQueue struct {
	mu     sync.Mutex
	items  []string
	notify chan struct{}
	closed bool
}

// NewInstructionQueue creates an empty queue.
func NewInstructionQueue() *InstructionQueue {
	return &InstructionQueue{notify: make(chan struct{}, 1)}
}

// Push appends an instruction. Pushes to a closed queue are dropped.
func (q *InstructionQueue) Push(instruction string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, instruction)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest instruction, if any.
func (q *InstructionQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// Next blocks until an instruction is available, the queue closes, or the
// context is done. Returns false when the queue is closed and drained.
func (q *InstructionQueue) Next(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			head := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return head, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", false
		}

		select {
		case <-ctx.Done():
			return "", false
		case <-q.notify:
		}
	}
}

// Close marks the queue finished. Queued instructions remain poppable.
func (q *InstructionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued instructions.
func (q *InstructionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// sessionState is the per-session retrieval state. A single lock guards
// caches, the injected-id window and the deep timer; the lock is never
// held across an LLM call. The reflecting flag serializes Reflector
// calls per session instead.
type sessionState struct {
	mu         sync.Mutex
	lightCache []memstore.Scored
	deepCache  []memstore.Scored
	injected   *idWindow
	lastDeep   time.Time
	reflecting bool
	queue      *InstructionQueue
}

func newSessionState(windowCap int) *sessionState {
	return &sessionState{
		injected: newIDWindow(windowCap),
		queue:    NewInstructionQueue(),
	}
}
