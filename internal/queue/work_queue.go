package queue

import (
	"sync"
	"time"

	"github.com/cockroachdb/fifo"

	"github.com/your-org/autorename/internal/domain"
)

// WorkQueue is an unbounded FIFO of uploaded documents.
// Enqueue and TryDequeue are safe for concurrent producers and consumers.
type WorkQueue struct {
	mu    sync.Mutex
	pool  fifo.QueueBackingPool[domain.QueueItem]
	items fifo.Queue[domain.QueueItem]
	seq   uint64
}

// New creates an empty work queue.
func New() *WorkQueue {
	q := &WorkQueue{pool: fifo.MakeQueueBackingPool[domain.QueueItem]()}
	q.items = fifo.MakeQueue[domain.QueueItem](&q.pool)
	return q
}

// Enqueue appends item to the tail and returns it with its sequence number set.
func (q *WorkQueue) Enqueue(item domain.QueueItem) domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	item.Seq = q.seq
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	q.items.PushBack(item)
	return item
}

// TryDequeue pops the head of the queue. ok is false when the queue is empty.
func (q *WorkQueue) TryDequeue() (item domain.QueueItem, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	head := q.items.PeekFront()
	if head == nil {
		return domain.QueueItem{}, false
	}
	item = *head
	// release the payload reference held by the backing slot
	*head = domain.QueueItem{}
	q.items.PopFront()
	return item, true
}

// Len is a point-in-time size for observability. It races with concurrent
// dequeues and must not drive control decisions.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
