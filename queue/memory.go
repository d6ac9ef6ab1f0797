package queue

import (
	"context"
	"sync"
)

// MemoryQueue 进程内队列
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []*Job
	inflight map[string]*Job
	notify   chan struct{}
	closed   chan struct{}
	once     sync.Once
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		inflight: make(map[string]*Job),
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

func (q *MemoryQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Enqueue appends a job.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	job.prepare()
	c := *job

	q.mu.Lock()
	q.pending = append(q.pending, &c)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue pops the oldest job.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if q.isClosed() {
			return nil, ErrQueueClosed
		}

		q.mu.Lock()
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			q.inflight[job.ID] = job
			more := len(q.pending) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			c := *job
			return &c, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-q.closed:
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack drops the job from the in-flight set.
func (q *MemoryQueue) Ack(ctx context.Context, job *Job) error {
	q.mu.Lock()
	delete(q.inflight, job.ID)
	q.mu.Unlock()
	return nil
}

// Recover requeues in-flight jobs.
func (q *MemoryQueue) Recover(ctx context.Context) (int, error) {
	if q.isClosed() {
		return 0, ErrQueueClosed
	}
	q.mu.Lock()
	n := len(q.inflight)
	for id, job := range q.inflight {
		job.Attempt++
		q.pending = append(q.pending, job)
		delete(q.inflight, id)
	}
	q.mu.Unlock()
	if n > 0 {
		q.signal()
	}
	return n, nil
}

// Len returns the number of pending jobs.
func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), nil
}

// InFlight returns the number of unacknowledged jobs.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Close wakes blocked consumers.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
