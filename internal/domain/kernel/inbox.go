package kernel

import "sync"

// queue is a mutex-guarded FIFO that producers on any goroutine push into
// and the kernel goroutine drains once per tick.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
	limit int
}

func newQueue[T any](limit int) *queue[T] {
	return &queue[T]{limit: limit}
}

// push appends v. It returns false when the queue is at its limit.
func (q *queue[T]) push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		return false
	}
	q.items = append(q.items, v)
	return true
}

// drain removes and returns everything queued so far
func (q *queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
