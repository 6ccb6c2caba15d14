package session

import (
	"context"
	"sync"

	"github.com/tyemirov/campuspilot/internal/identity"
)

type notification struct {
	sequence uint64
	identity *identity.Identity
}

// notificationQueue is an unbounded FIFO drained by the manager's single worker.
// push never blocks, so provider listeners can enqueue while the provider holds its locks.
type notificationQueue struct {
	mutex  sync.Mutex
	items  []notification
	signal chan struct{}
}

func newNotificationQueue() *notificationQueue {
	return &notificationQueue{signal: make(chan struct{}, 1)}
}

func (queue *notificationQueue) push(item notification) {
	queue.mutex.Lock()
	queue.items = append(queue.items, item)
	queue.mutex.Unlock()
	select {
	case queue.signal <- struct{}{}:
	default:
	}
}

func (queue *notificationQueue) pop(ctx context.Context) (notification, bool) {
	for {
		queue.mutex.Lock()
		if len(queue.items) > 0 {
			item := queue.items[0]
			queue.items[0] = notification{}
			queue.items = queue.items[1:]
			queue.mutex.Unlock()
			return item, true
		}
		queue.mutex.Unlock()
		select {
		case <-queue.signal:
		case <-ctx.Done():
			return notification{}, false
		}
	}
}
