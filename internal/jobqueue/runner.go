package jobqueue

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrRunnerClosed is returned by Enqueue once Run has returned.
var ErrRunnerClosed = errors.New("runner closed")

// Runner is the in-process backend. It runs at most MaxWorkers conversations
// at once and drops an email that is already queued or running.
type Runner struct {
	processor Processor
	config    *QueueConfig
	jobs      chan int64

	mu      sync.Mutex
	pending map[int64]struct{}
	closed  bool
}

// NewRunner creates a runner. Call Run to start processing.
func NewRunner(processor Processor, config *QueueConfig) *Runner {
	if config == nil {
		config = DefaultQueueConfig()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 1
	}
	return &Runner{
		processor: processor,
		config:    config,
		jobs:      make(chan int64, max(config.Buffer, 1)),
		pending:   make(map[int64]struct{}),
	}
}

// Enqueue adds emailID to the queue, blocking while the buffer is full.
func (r *Runner) Enqueue(ctx context.Context, emailID int64) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	if _, ok := r.pending[emailID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.pending[emailID] = struct{}{}
	r.mu.Unlock()

	select {
	case r.jobs <- emailID:
		return nil
	case <-ctx.Done():
		r.release(emailID)
		return ctx.Err()
	}
}

// Run processes jobs until ctx is cancelled, then waits for in-flight jobs.
func (r *Runner) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(r.config.MaxWorkers)

	defer func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case id := <-r.jobs:
			g.Go(func() error {
				defer r.release(id)
				jobCtx := ctx
				if r.config.JobTimeout > 0 {
					var cancel context.CancelFunc
					jobCtx, cancel = context.WithTimeout(ctx, r.config.JobTimeout)
					defer cancel()
				}
				// Failures are logged by runJob; one bad email must not stop the rest.
				_ = runJob(jobCtx, r.processor, id, 1)
				return nil
			})
		}
	}
}

func (r *Runner) release(id int64) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

var _ Enqueuer = (*Runner)(nil)
