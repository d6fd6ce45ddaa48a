// Package memory provides an in-memory delayed queue for local development
// and testing.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reviewpulse/reviewpulse/internal/jobs"
)

// Queue is a bounded in-memory delayed queue. Jobs become visible to
// Dequeue once their RunAt has passed; until then they wait in a min-heap
// ordered by RunAt.
type Queue struct {
	mu       sync.Mutex
	items    jobHeap
	capacity int
	closed   bool
	wake     chan struct{}
}

// NewQueue constructs a queue with the provided capacity. A capacity of 0
// means unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue pushes a job into the queue. Delayed jobs are accepted immediately
// and surface once due.
func (q *Queue) Enqueue(_ context.Context, job jobs.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("enqueue: %w", jobs.ErrQueueClosed)
	}
	if q.capacity > 0 && q.items.Len() >= q.capacity {
		q.mu.Unlock()
		return fmt.Errorf("enqueue %s: queue at capacity %d", job.Kind, q.capacity)
	}
	heap.Push(&q.items, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until the earliest due job is available, the context ends,
// or the queue is closed and empty.
func (q *Queue) Dequeue(ctx context.Context) (jobs.Job, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			wait := time.Until(q.items[0].RunAt)
			if wait <= 0 {
				job := heap.Pop(&q.items).(jobs.Job)
				q.mu.Unlock()
				return job, nil
			}
			q.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return jobs.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			case <-q.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}
		if q.closed {
			q.mu.Unlock()
			return jobs.Job{}, jobs.ErrQueueClosed
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return jobs.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.wake:
		}
	}
}

// Close marks the queue closed. Pending jobs remain dequeueable; once
// drained, Dequeue returns jobs.ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of queued (due or delayed) jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type jobHeap []jobs.Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].RunAt.Equal(h[j].RunAt) {
		return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
	}
	return h[i].RunAt.Before(h[j].RunAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(jobs.Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
