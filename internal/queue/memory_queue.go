package queue

import (
	"context"
	"sync"
)

// DeadLetter is a job the worker gave up on, kept by MemoryQueue.
type DeadLetter struct {
	Job    SendJob
	Reason string
}

// MemoryQueue is an in-process queue backed by a buffered channel. It is used
// when no brokers are configured; jobs do not survive a restart.
type MemoryQueue struct {
	jobs chan SendJob

	closeMu sync.RWMutex
	closed  bool

	dlqMu       sync.Mutex
	deadLetters []DeadLetter
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{jobs: make(chan SendJob, capacity)}
}

// Enqueue blocks while the buffer is full, until ctx is done.
func (q *MemoryQueue) Enqueue(ctx context.Context, job SendJob) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Fetch(ctx context.Context) (*Delivery, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &Delivery{Job: job}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) DeadLetter(_ context.Context, job SendJob, reason string) error {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	q.deadLetters = append(q.deadLetters, DeadLetter{Job: job, Reason: reason})
	return nil
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	out := make([]DeadLetter, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

// Len reports jobs waiting to be fetched.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}

func (q *MemoryQueue) Close() error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}

var (
	_ Producer     = (*MemoryQueue)(nil)
	_ Consumer     = (*MemoryQueue)(nil)
	_ DeadLetterer = (*MemoryQueue)(nil)
)
