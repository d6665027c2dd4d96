package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueFull reports that the sync queue rejected a submission. Callers
// surface it; work is never silently dropped.
var ErrQueueFull = errors.New("sync queue full")

// Queue is a bounded worker pool for account sync passes. Submission is
// explicit and rejections are observable, as opposed to spawning an
// untracked goroutine per request.
type Queue struct {
	orch    *Orchestrator
	log     *slog.Logger
	jobs    chan string
	workers int

	wg sync.WaitGroup
}

// NewQueue sizes the pool. capacity bounds how many accounts may wait;
// workers bounds how many sync concurrently.
func NewQueue(orch *Orchestrator, workers, capacity int, log *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		orch:    orch,
		log:     log,
		jobs:    make(chan string, capacity),
		workers: workers,
	}
}

// Start launches the workers. They drain until ctx is cancelled; Wait blocks
// until they exit.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case accountID := <-q.jobs:
					if _, err := q.orch.SyncAccount(ctx, accountID); err != nil {
						q.log.Error("queued sync failed", "account", accountID, "error", err)
					}
				}
			}
		}()
	}
}

// Submit enqueues an account for a sync pass. It fails fast with
// ErrQueueFull rather than blocking the caller.
func (q *Queue) Submit(accountID string) error {
	select {
	case q.jobs <- accountID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Wait blocks until all workers have stopped.
func (q *Queue) Wait() { q.wg.Wait() }
