package worker

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// Task is a deferred unit of work against a device. It captures every value
// it needs when it is created.
type Task func(ctx context.Context) error

// Queue is an unbounded FIFO of tasks with many producers and one consumer.
//
// There is no cancellation: a task runs even if whatever enqueued it has
// been torn down in the meantime, so task bodies must only touch values
// they captured.
type Queue struct {
	mu    sync.Mutex
	items *queue.Queue
	ready chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		items: queue.New(),
		ready: make(chan struct{}, 1),
	}
}

// Push appends t and never blocks.
func (q *Queue) Push(t Task) {
	q.mu.Lock()
	q.items.Add(t)
	q.mu.Unlock()
	q.signal()
}

// Pop removes the oldest task.
func (q *Queue) Pop() (Task, bool) {
	q.mu.Lock()
	if q.items.Length() == 0 {
		q.mu.Unlock()
		return nil, false
	}
	t := q.items.Remove().(Task)
	more := q.items.Length() > 0
	q.mu.Unlock()

	if more {
		q.signal()
	}
	return t, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Ready fires at least once after a Push, and again after a Pop that left
// tasks behind.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
