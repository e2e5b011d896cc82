package core

import "sync"

// PendingQueue buffers items that arrive before their consumer is ready.
// Flush hands them over in arrival order exactly once; later items pass
// straight through.
type PendingQueue[T any] struct {
	mu    sync.Mutex
	items []T
	ready bool
}

// Offer queues v unless the queue was already flushed, in which case it
// reports false and the caller delivers v directly.
func (q *PendingQueue[T]) Offer(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return false
	}
	q.items = append(q.items, v)
	return true
}

// Flush marks the consumer ready and returns what was queued.
// A second call returns nil.
func (q *PendingQueue[T]) Flush() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = true
	out := q.items
	q.items = nil
	return out
}

func (q *PendingQueue[T]) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready
}

func (q *PendingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
