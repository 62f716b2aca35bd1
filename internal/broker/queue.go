package broker

import (
	"context"
	"sync"
	"time"
)

// queue is an in-memory FIFO of opaque payloads. Waiting getters park on
// notify, which is closed and replaced on every put.
type queue struct {
	name     string
	maxDepth int

	mu     sync.Mutex
	items  [][]byte
	notify chan struct{}
}

func newQueue(name string, maxDepth int) *queue {
	return &queue{name: name, maxDepth: maxDepth, notify: make(chan struct{})}
}

func (q *queue) put(data []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxDepth > 0 && len(q.items) >= q.maxDepth {
		return false
	}
	q.items = append(q.items, data)
	close(q.notify)
	q.notify = make(chan struct{})
	return true
}

// requeue puts data back at the head, ignoring max depth. Used when a
// dequeued message could not be delivered.
func (q *queue) requeue(data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([][]byte{data}, q.items...)
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *queue) tryGet() ([]byte, <-chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, q.notify, false
	}
	data := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return data, nil, true
}

func (q *queue) get(ctx context.Context, wait time.Duration) ([]byte, bool) {
	data, notify, ok := q.tryGet()
	if ok || wait <= 0 {
		return data, ok
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-notify:
			data, notify, ok = q.tryGet()
			if ok {
				return data, true
			}
		case <-timer.C:
			data, _, ok = q.tryGet()
			return data, ok
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
