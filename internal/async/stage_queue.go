package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/voxlens/voxlens/internal/common"
)

type stage struct {
	name    string
	handler Handler
	workers int
	ch      chan Task
}

// StageQueue routes tasks to per-stage worker pools. Jobs progress by
// handing off between stages; a single job occupies at most one stage task
// at a time by protocol, enforced by the workers never double-enqueuing.
type StageQueue struct {
	logger  *slog.Logger
	timeout time.Duration
	size    int

	mu      sync.Mutex
	stages  map[string]*stage
	timers  map[*time.Timer]struct{}
	wg      sync.WaitGroup
	senders sync.WaitGroup
	done    chan struct{}
	closed  bool
}

type Option func(*StageQueue)

func WithTaskTimeout(d time.Duration) Option {
	return func(q *StageQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *StageQueue) {
		if n > 0 {
			q.size = n
		}
	}
}

func NewStageQueue(logger *slog.Logger, opts ...Option) *StageQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &StageQueue{
		logger:  logger,
		timeout: 10 * time.Minute,
		size:    256,
		stages:  make(map[string]*stage),
		timers:  make(map[*time.Timer]struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Register adds a stage with its handler and worker count and starts the
// pool. Must be called before any Enqueue for that stage.
func (q *StageQueue) Register(name string, handler Handler, workers int) {
	if workers <= 0 {
		workers = 1
	}
	s := &stage{name: name, handler: handler, workers: workers, ch: make(chan Task, q.size)}

	q.mu.Lock()
	q.stages[name] = s
	q.mu.Unlock()

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.run(s, i+1)
	}
}

func (q *StageQueue) run(s *stage, workerID int) {
	defer q.wg.Done()
	q.logger.Info("worker started", "stage", s.name, "worker_id", workerID)

	for task := range s.ch {
		ctx, cancel := context.WithTimeout(common.WithTraceID(context.Background(), task.TraceID), q.timeout)
		start := time.Now()
		err := s.handler(ctx, task)
		cancel()

		if err != nil {
			q.logger.Error("task failed",
				"stage", s.name, "worker_id", workerID, "trace_id", task.TraceID,
				"attempt", task.Attempt, "elapsed_ms", time.Since(start).Milliseconds(),
				"error", err)
		} else {
			q.logger.Info("task processed",
				"stage", s.name, "worker_id", workerID, "trace_id", task.TraceID,
				"elapsed_ms", time.Since(start).Milliseconds())
		}
	}

	q.logger.Info("worker stopped", "stage", s.name, "worker_id", workerID)
}

func (q *StageQueue) Enqueue(ctx context.Context, task Task) error {
	if task.TraceID == "" {
		task.TraceID = uuid.New().String()
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "stage", task.Stage, "trace_id", task.TraceID)
		return nil
	}
	s, ok := q.stages[task.Stage]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("unknown stage %q", task.Stage)
	}
	select {
	case s.ch <- task:
		q.mu.Unlock()
		q.logger.Info("task queued", "stage", task.Stage, "trace_id", task.TraceID, "attempt", task.Attempt)
		return nil
	default:
	}

	// The blocking send must not hold the mutex: handlers enqueue
	// follow-up tasks from inside their worker loops, and a held lock
	// would stop every stage from draining.
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	q.logger.Warn("queue full, applying backpressure", "stage", task.Stage, "trace_id", task.TraceID)
	select {
	case s.ch <- task:
		q.logger.Info("task queued", "stage", task.Stage, "trace_id", task.TraceID, "attempt", task.Attempt)
		return nil
	case <-q.done:
		q.logger.Warn("task dropped, queue shutting down", "stage", task.Stage, "trace_id", task.TraceID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueIn schedules delivery after delay via a timer so no worker sleeps
// in place. Pending timers are dropped on shutdown.
func (q *StageQueue) EnqueueIn(ctx context.Context, delay time.Duration, task Task) error {
	if delay <= 0 {
		return q.Enqueue(ctx, task)
	}
	if task.TraceID == "" {
		task.TraceID = uuid.New().String()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot schedule: queue is shutting down", "stage", task.Stage, "trace_id", task.TraceID)
		return nil
	}
	if _, ok := q.stages[task.Stage]; !ok {
		return fmt.Errorf("unknown stage %q", task.Stage)
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		if err := q.Enqueue(context.Background(), task); err != nil {
			q.logger.Error("delayed enqueue failed", "stage", task.Stage, "trace_id", task.TraceID, "error", err)
		}
	})
	q.timers[timer] = struct{}{}
	return nil
}

// Shutdown stops accepting tasks, cancels pending timers and waits for
// in-flight work, bounded by ctx.
func (q *StageQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	close(q.done)
	q.mu.Unlock()

	// Backpressured senders abort on q.done; wait them out before closing
	// the stage channels so no one sends on a closed channel.
	q.senders.Wait()

	q.mu.Lock()
	for _, s := range q.stages {
		close(s.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
