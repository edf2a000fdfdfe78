package pipeline

import (
	"container/heap"
	"sync"
)

// queueItem orders events by (priority, timestamp, seq); seq breaks ties
// deterministically for events sharing a priority and timestamp.
type queueItem struct {
	event Event
	seq   uint64
}

type itemHeap []queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	pa, pb := a.event.Type.Priority(), b.event.Type.Priority()
	if pa != pb {
		return pa < pb
	}
	if !a.event.Timestamp.Equal(b.event.Timestamp) {
		return a.event.Timestamp.Before(b.event.Timestamp)
	}
	return a.seq < b.seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is a bounded priority queue of events.
type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	capacity int
	seq      uint64
}

// NewQueue creates a Queue holding at most capacity events.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Queue{capacity: capacity}
}

// Push enqueues an event. Returns false when the queue is full.
func (q *Queue) Push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.seq++
	heap.Push(&q.items, queueItem{event: ev, seq: q.seq})
	return true
}

// PopBatch dequeues up to n events in priority order.
func (q *Queue) PopBatch(n int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		item := heap.Pop(&q.items).(queueItem)
		out = append(out, item.event)
	}
	return out
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
