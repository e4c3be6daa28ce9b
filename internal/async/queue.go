package async

import (
	"context"
	"time"
)

// Task is one unit of stage work. Payload is stage-specific; handlers assert
// the type they enqueued. Delivery is at-least-once: handlers must tolerate
// duplicates by checking the job's persisted state before acting.
type Task struct {
	Stage       string
	Payload     any
	TraceID     string
	SubmittedAt time.Time
	Attempt     int
}

// Handler processes one task. A returned error is logged by the queue; the
// handler itself is responsible for persisting terminal job state first.
type Handler func(ctx context.Context, task Task) error

// Queue hands jobs between pipeline stages.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// EnqueueIn delivers the task after the delay without occupying a
	// worker in the meantime. Poll loops are built from chains of these.
	EnqueueIn(ctx context.Context, delay time.Duration, task Task) error
	Shutdown(ctx context.Context)
}
