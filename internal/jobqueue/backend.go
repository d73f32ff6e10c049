package jobqueue

import (
	"context"
	"errors"
	"time"
)

// ErrNoJob is returned by Backend.Dequeue when no job in queue is
// currently ready (nothing pending, or everything pending is still
// waiting out its backoff).
var ErrNoJob = errors.New("jobqueue: no job ready")

// Stats reports a queue's current occupancy, used by Coordinator.Stats.
type Stats struct {
	Pending   int64
	Running   int64
	Completed int64
	Failed    int64
	Dead      int64
}

// Backend is the durability layer a Queue drains. Narrower than the
// flyingrobots-go-redis-work-queue QueueBackend it's grounded on: this
// gateway only ever needs enqueue/dequeue/ack/retry/dead-letter, not
// peek, iteration, or migration.
type Backend interface {
	Enqueue(ctx context.Context, job *Job) error
	// Dequeue claims the oldest ready job in queue, marking it Running.
	// Returns ErrNoJob if none is ready.
	Dequeue(ctx context.Context, queue string) (*Job, error)
	Complete(ctx context.Context, job *Job) error
	// Retry marks job Pending again, incrementing Attempts and setting
	// NextAttemptAt to now+after.
	Retry(ctx context.Context, job *Job, after time.Duration, lastErr string) error
	DeadLetter(ctx context.Context, job *Job, lastErr string) error
	Stats(ctx context.Context, queue string) (Stats, error)
	// Trim enforces the retention bounds from spec §6 (keep_completed_*,
	// keep_failed_*), deleting the oldest completed/dead rows beyond
	// keepCompleted/keepFailed.
	Trim(ctx context.Context, queue string, keepCompleted, keepFailed int) error
	Close() error
}
