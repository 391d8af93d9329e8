package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Enqueue after Stop.
var ErrQueueClosed = errors.New("queue closed")

// Job is one unit of asynchronous work. Run is retried until it succeeds, returns a
// backoff.Permanent error, or the retry budget is spent.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Kind returns the job name up to the first colon.
func (j Job) Kind() string {
	if i := strings.IndexByte(j.Name, ':'); i >= 0 {
		return j.Name[:i]
	}
	return j.Name
}

// QueueConfig sizes the queue and its retry policy.
type QueueConfig struct {
	Workers         int
	Size            int
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
}

// Queue runs jobs on a fixed worker pool with exponential backoff retries.
type Queue struct {
	cfg    QueueConfig
	jobs   chan Job
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	onFail  func(job Job, err error)
	onRetry func(job Job)
}

// NewQueue builds a queue; call Start to begin processing.
func NewQueue(cfg QueueConfig, logger *zap.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{cfg: cfg, jobs: make(chan Job, cfg.Size), logger: logger}
}

// OnFailure registers a callback for jobs that exhausted their retries.
func (q *Queue) OnFailure(fn func(job Job, err error)) {
	q.onFail = fn
}

// OnRetry registers a callback invoked before every retry.
func (q *Queue) OnRetry(fn func(job Job)) {
	q.onRetry = fn
}

// Start launches the workers. They exit once Stop has drained the queue.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				q.run(ctx, job)
			}
		}()
	}
}

// Enqueue blocks until the job is accepted or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
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

// Stop refuses new jobs and waits for queued ones to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

// Pending returns the number of queued jobs.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

func (q *Queue) run(ctx context.Context, job Job) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.cfg.InitialInterval
	policy.MaxElapsedTime = q.cfg.MaxElapsedTime

	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 && q.onRetry != nil {
			q.onRetry(job)
		}
		attempt++
		return job.Run(ctx)
	}, backoff.WithContext(policy, ctx))
	if err == nil {
		return
	}
	q.logger.Error("job failed",
		zap.String("job", job.Name),
		zap.Int("attempts", attempt),
		zap.Error(err))
	if q.onFail != nil {
		q.onFail(job, err)
	}
}
