package client

import (
	"sync"
	"time"
)

// pending is a message accepted while disconnected, waiting for the next
// established connection.
type pending struct {
	Type     string
	Payload  interface{}
	QueuedAt time.Time
}

// sendQueue is a bounded FIFO. When full, the oldest entry is dropped to
// make room; a long outage sheds stale messages instead of growing.
type sendQueue struct {
	mu    sync.Mutex
	max   int
	items []pending
}

func newSendQueue(max int) *sendQueue {
	return &sendQueue{max: max}
}

func (q *sendQueue) push(p pending) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, p)
	if len(q.items) > q.max {
		q.items = q.items[1:]
	}
}

// drain empties the queue and returns its contents in arrival order.
func (q *sendQueue) drain() []pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

func (q *sendQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
