// Package queue provides a bounded in-memory priority queue and a
// middleware pipeline for processing queued messages.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority levels. Higher values dequeue first.
const (
	PriorityLow      = 1
	PriorityNormal   = 3
	PriorityHigh     = 5
	PriorityUrgent   = 7
	PriorityCritical = 9
)

// QueuedMessage is one unit of work waiting for processing.
type QueuedMessage struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Content   string                 `json:"content"`
	Priority  int                    `json:"priority"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewMessage builds a message with a generated id and clamped priority.
func NewMessage(sessionID, content string, priority int) *QueuedMessage {
	if priority < PriorityLow {
		priority = PriorityLow
	}
	if priority > PriorityCritical {
		priority = PriorityCritical
	}
	return &QueuedMessage{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Content:   content,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Size     int   `json:"size"`
	MaxSize  int   `json:"max_size"`
	Enqueued int64 `json:"enqueued"`
	Dequeued int64 `json:"dequeued"`
	Rejected int64 `json:"rejected"`
}

// ErrQueueFull is returned when Enqueue hits the size limit.
var ErrQueueFull = fmt.Errorf("queue full")

// ErrTimeout is returned when Dequeue gives up waiting.
var ErrTimeout = fmt.Errorf("dequeue timeout")

type queueItem struct {
	msg *QueuedMessage
	seq uint64 // FIFO tiebreaker within a priority level
}

type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(*queueItem))
}
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// PriorityQueue orders messages by priority, FIFO within a priority level.
type PriorityQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    itemHeap
	seq      uint64
	maxSize  int
	closed   bool

	enqueued int64
	dequeued int64
	rejected int64
}

// NewPriorityQueue builds a queue. maxSize <= 0 means unbounded.
func NewPriorityQueue(maxSize int) *PriorityQueue {
	q := &PriorityQueue{maxSize: maxSize}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a message. A full queue rejects the message with ErrQueueFull.
func (q *PriorityQueue) Enqueue(msg *QueuedMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue closed")
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		q.rejected++
		slog.Warn("queue full, message rejected",
			"message_id", msg.ID,
			"session_id", msg.SessionID,
			"size", len(q.items))
		return ErrQueueFull
	}

	q.seq++
	heap.Push(&q.items, &queueItem{msg: msg, seq: q.seq})
	q.enqueued++
	q.notEmpty.Signal()
	return nil
}

// Dequeue removes the highest-priority message, waiting up to timeout for
// one to arrive. timeout <= 0 waits indefinitely.
func (q *PriorityQueue) Dequeue(timeout time.Duration) (*QueuedMessage, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		// Cond has no timed wait; a timer wakes all waiters at the deadline.
		timer := time.AfterFunc(timeout, func() {
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil, fmt.Errorf("queue closed")
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		q.notEmpty.Wait()
	}

	it := heap.Pop(&q.items).(*queueItem)
	q.dequeued++
	return it.msg, nil
}

// TryDequeue removes the highest-priority message without waiting.
func (q *PriorityQueue) TryDequeue() (*QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.items).(*queueItem)
	q.dequeued++
	return it.msg, true
}

// TryDequeueSession removes the best message belonging to one session,
// preserving priority order within that session's subqueue.
func (q *PriorityQueue) TryDequeueSession(sessionID string) (*QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := -1
	for i, it := range q.items {
		if it.msg.SessionID != sessionID {
			continue
		}
		if best == -1 || q.items.Less(i, best) {
			best = i
		}
	}
	if best == -1 {
		return nil, false
	}
	it := heap.Remove(&q.items, best).(*queueItem)
	q.dequeued++
	return it.msg, true
}

// LenSession returns the number of queued messages for one session.
func (q *PriorityQueue) LenSession(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.msg.SessionID == sessionID {
			n++
		}
	}
	return n
}

// Len returns the number of queued messages.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a counter snapshot.
func (q *PriorityQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Size:     len(q.items),
		MaxSize:  q.maxSize,
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Rejected: q.rejected,
	}
}

// Close wakes all waiters; subsequent Enqueue/Dequeue calls fail.
func (q *PriorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}

// Consume dequeues messages in a loop and hands each one to fn until the
// context is cancelled or the queue closes.
func (q *PriorityQueue) Consume(ctx context.Context, fn func(*QueuedMessage)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := q.Dequeue(time.Second)
		if err == ErrTimeout {
			continue
		}
		if err != nil {
			return
		}
		fn(msg)
	}
}
