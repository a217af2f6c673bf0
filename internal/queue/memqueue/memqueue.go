// Package memqueue is an in-memory queue.Queue fake for tests: no
// redelivery, no dead-lettering, just an ordered channel-backed FIFO.
package memqueue

import (
	"context"
	"sync"

	"github.com/histeeria/chatcore/internal/queue"
)

// Queue is a goroutine-safe, in-memory queue.Queue.
type Queue struct {
	mu    sync.Mutex
	items []queue.Item

	// FailPublish, when set, makes Publish return this error instead of
	// enqueueing; used to exercise the ingress compensator in tests.
	FailPublish error
}

// New creates an empty in-memory queue.
func New() *Queue {
	return &Queue{}
}

func (q *Queue) Publish(ctx context.Context, item queue.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.FailPublish != nil {
		return q.FailPublish
	}
	q.items = append(q.items, item)
	return nil
}

// Consume drains every currently-queued item through handler, in enqueue
// order, then returns. It does not block waiting for future publishes —
// tests publish the items they want dispatched before calling it.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return nil
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := handler(ctx, item); err != nil {
			return err
		}
	}
}

func (q *Queue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *Queue) Close() error { return nil }
