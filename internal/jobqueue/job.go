// Package jobqueue implements spec §4.3's durable, retrying JobQueue:
// a named queue per batch kind (history, latest), each backed by a
// pluggable Backend and drained by a bounded worker pool with
// exponential backoff and dead-lettering.
//
// The two queues have no strict cross-queue priority: "latest" is
// favoured only through its own worker pool size, and neither queue
// preempts or starves the other.
//
// Grounded on the flyingrobots-go-redis-work-queue storage types
// (_examples/other_examples/9e590ae5_flyingrobots-go-redis-work-queue__internal-storage-backends-types.go.go)
// for the Job/Backend shape, and on the teacher's
// internal/ingestion/processor.go worker-pool-plus-ticker idiom for
// the per-queue worker loop.
package jobqueue

import (
	"time"

	"github.com/google/uuid"
)

// Status is a Job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// Kind distinguishes the two batch shapes spec §4.2 produces.
type Kind string

const (
	KindHistory Kind = "history"
	KindLatest  Kind = "latest"
)

// Job is one durably-queued unit of work: an encoded HistoryBatch or
// LatestBatch awaiting a Store write.
type Job struct {
	ID            string
	Queue         string
	Kind          Kind
	Payload       []byte
	Compressed    bool
	Attempts      int
	MaxAttempts   int
	Status        Status
	LastError     string
	CreatedAt     time.Time
	NextAttemptAt time.Time
}

func newJob(queue string, kind Kind, payload []byte, compressed bool, maxAttempts int) *Job {
	now := time.Now()
	return &Job{
		ID:            uuid.NewString(),
		Queue:         queue,
		Kind:          kind,
		Payload:       payload,
		Compressed:    compressed,
		MaxAttempts:   maxAttempts,
		Status:        StatusPending,
		CreatedAt:     now,
		NextAttemptAt: now,
	}
}
