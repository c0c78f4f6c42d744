package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maltedev/carzilla-scraper/internal/models"
	"github.com/maltedev/carzilla-scraper/internal/queue"
)

// Run starts workers that pop and execute queued searches. It returns when
// ctx is cancelled or the queue is closed and drained.
func (m *Manager) Run(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	m.logger.Info("job workers started", "workers", workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.work(ctx, i)
		}()
	}
	wg.Wait()

	m.logger.Info("job workers stopped")
}

func (m *Manager) work(ctx context.Context, worker int) {
	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				m.logger.Error("failed to pop job", "worker", worker, "error", err)
			}
			return
		}
		m.process(ctx, task)
	}
}

func (m *Manager) process(ctx context.Context, task *queue.Task) {
	if !m.markRunning(task.ID) {
		m.logger.Warn("dropping task without job", "id", task.ID)
		return
	}
	m.logger.Info("processing job", "id", task.ID)

	env := m.searcher.Search(ctx, task.Request)

	status := StatusCompleted
	if env.Error != "" && !env.PartialResults {
		status = StatusFailed
	}
	m.finish(task.ID, status, env)

	m.logger.Info("job finished", "id", task.ID, "status", status, "items", len(env.Items))
}

func (m *Manager) markRunning(id string) bool {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false
	}
	job.Status = StatusRunning
	job.StartedAt = &now
	return true
}

func (m *Manager) finish(id, status string, env *models.ResultEnvelope) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	job.CompletedAt = &now
	job.Result = env
}
