package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/carzilla-scraper/internal/models"
	"github.com/maltedev/carzilla-scraper/internal/queue"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// Searcher runs one search; *scraper.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) *models.ResultEnvelope
}

// Job is an asynchronous search and, once finished, its envelope.
type Job struct {
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	Request     *models.SearchRequest  `json:"request"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Result      *models.ResultEnvelope `json:"result,omitempty"`
}

type Stats struct {
	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	RunningJobs   int `json:"running_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
	Listings      int `json:"listings"`
	Queued        int `json:"queued"`
}

// Manager queues searches and runs them on a fixed set of workers. Finished
// jobs are kept in memory up to a retention limit.
type Manager struct {
	searcher Searcher
	queue    queue.Queue
	logger   *slog.Logger

	mu        sync.RWMutex
	jobs      map[string]*Job
	retention int
}

func NewManager(searcher Searcher, q queue.Queue, retention int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = 500
	}
	return &Manager{
		searcher:  searcher,
		queue:     q,
		logger:    logger.With("component", "job_manager"),
		jobs:      make(map[string]*Job),
		retention: retention,
	}
}

// Submit queues req and returns a snapshot of the new job.
func (m *Manager) Submit(req *models.SearchRequest, priority int) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Request:   req,
		CreatedAt: time.Now(),
	}

	// Copy before the push; a worker may start the job right away.
	m.mu.Lock()
	m.jobs[job.ID] = job
	created := m.snapshot(job)
	m.mu.Unlock()

	err := m.queue.Push(&queue.Task{
		ID:        job.ID,
		Request:   req,
		Priority:  priority,
		CreatedAt: job.CreatedAt,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "make", req.Make, "model", req.Model)
	m.prune()
	return created, nil
}

func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return m.snapshot(job), nil
}

// List returns the newest jobs first, at most limit of them.
func (m *Manager) List(limit int) []*Job {
	m.mu.RLock()
	out := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, m.snapshot(job))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{TotalJobs: len(m.jobs), Queued: m.queue.Size()}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			s.PendingJobs++
		case StatusRunning:
			s.RunningJobs++
		case StatusCompleted:
			s.CompletedJobs++
		case StatusFailed:
			s.FailedJobs++
		}
		if job.Result != nil {
			s.Listings += len(job.Result.Items)
		}
	}
	return s
}

// snapshot copies the job header; the request and envelope are never
// mutated after being stored.
func (m *Manager) snapshot(job *Job) *Job {
	c := *job
	return &c
}

// prune drops the oldest finished jobs beyond the retention limit.
func (m *Manager) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.jobs) <= m.retention {
		return
	}

	var finished []*Job
	for _, job := range m.jobs {
		if job.Status == StatusCompleted || job.Status == StatusFailed {
			finished = append(finished, job)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})

	for _, job := range finished {
		if len(m.jobs) <= m.retention {
			break
		}
		delete(m.jobs, job.ID)
	}
}
