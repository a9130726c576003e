package local

import "sync"

// Mailbox is a bounded FIFO with a non-blocking producer side. One consumer
// reads C until Done is closed.
type Mailbox[T any] struct {
	ch     chan T
	closed chan struct{}
	once   sync.Once
}

// NewMailbox creates a mailbox holding up to size items
func NewMailbox[T any](size int) *Mailbox[T] {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Mailbox[T]{
		ch:     make(chan T, size),
		closed: make(chan struct{}),
	}
}

// TryEnqueue adds v without blocking. It returns false when the mailbox is
// full or closed.
func (m *Mailbox[T]) TryEnqueue(v T) bool {
	select {
	case <-m.closed:
		return false
	default:
	}
	select {
	case m.ch <- v:
		return true
	default:
		return false
	}
}

// C exposes the receive side
func (m *Mailbox[T]) C() <-chan T { return m.ch }

// Done is closed once the mailbox stops accepting items
func (m *Mailbox[T]) Done() <-chan struct{} { return m.closed }

// Len returns the number of queued items
func (m *Mailbox[T]) Len() int { return len(m.ch) }

// Close stops further enqueues. Idempotent.
func (m *Mailbox[T]) Close() {
	m.once.Do(func() { close(m.closed) })
}
