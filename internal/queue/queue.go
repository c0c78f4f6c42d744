package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/maltedev/carzilla-scraper/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Task is one queued search.
type Task struct {
	ID        string
	Request   *models.SearchRequest
	Priority  int
	CreatedAt time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

// InMemoryQueue hands out tasks by descending priority, oldest first within
// a priority.
type InMemoryQueue struct {
	mu      sync.Mutex
	tasks   []*Task
	maxSize int
	closed  bool
	// notify is closed and replaced whenever the queue changes.
	notify chan struct{}
}

// NewInMemoryQueue creates a queue; maxSize <= 0 means unbounded.
func NewInMemoryQueue(maxSize int) *InMemoryQueue {
	return &InMemoryQueue{
		maxSize: maxSize,
		notify:  make(chan struct{}),
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.maxSize > 0 && len(q.tasks) >= q.maxSize {
		return ErrQueueFull
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	q.tasks = append(q.tasks, task)
	sort.SliceStable(q.tasks, func(i, j int) bool {
		return q.tasks[i].Priority > q.tasks[j].Priority
	})
	q.broadcast()
	return nil
}

// Pop blocks until a task is available, the queue is closed and drained, or
// ctx is done.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting tasks. Queued tasks can still be popped.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.broadcast()
	}
	return nil
}

func (q *InMemoryQueue) broadcast() {
	close(q.notify)
	q.notify = make(chan struct{})
}
