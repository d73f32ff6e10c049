package jobqueue

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is a process-local Backend, useful for tests and for
// running the gateway without a Postgres job store. It has no
// durability across restarts — spec §4.3's "durable" property only
// holds when PostgresBackend is configured.
type MemoryBackend struct {
	mu    sync.Mutex
	jobs  map[string][]*Job // queue -> jobs, any status
	stats map[string]Stats
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		jobs:  make(map[string][]*Job),
		stats: make(map[string]Stats),
	}
}

func (b *MemoryBackend) Enqueue(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.Queue] = append(b.jobs[job.Queue], job)
	s := b.stats[job.Queue]
	s.Pending++
	b.stats[job.Queue] = s
	return nil
}

func (b *MemoryBackend) Dequeue(_ context.Context, queue string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for _, job := range b.jobs[queue] {
		if job.Status == StatusPending && !job.NextAttemptAt.After(now) {
			job.Status = StatusRunning
			s := b.stats[queue]
			s.Pending--
			s.Running++
			b.stats[queue] = s
			return job, nil
		}
	}
	return nil, ErrNoJob
}

func (b *MemoryBackend) Complete(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job.Status = StatusCompleted
	s := b.stats[job.Queue]
	s.Running--
	s.Completed++
	b.stats[job.Queue] = s
	return nil
}

func (b *MemoryBackend) Retry(_ context.Context, job *Job, after time.Duration, lastErr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job.Attempts++
	job.LastError = lastErr
	job.Status = StatusPending
	job.NextAttemptAt = time.Now().Add(after)
	s := b.stats[job.Queue]
	s.Running--
	s.Pending++
	b.stats[job.Queue] = s
	return nil
}

func (b *MemoryBackend) DeadLetter(_ context.Context, job *Job, lastErr string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	job.Attempts++
	job.LastError = lastErr
	job.Status = StatusDead
	s := b.stats[job.Queue]
	s.Running--
	s.Dead++
	b.stats[job.Queue] = s
	return nil
}

func (b *MemoryBackend) Stats(_ context.Context, queue string) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats[queue], nil
}

// Trim drops the oldest completed/dead jobs beyond the retention
// bounds. Pending/running jobs are never trimmed.
func (b *MemoryBackend) Trim(_ context.Context, queue string, keepCompleted, keepFailed int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	jobs := b.jobs[queue]
	kept := make([]*Job, 0, len(jobs))
	var completed, dead []*Job
	for _, j := range jobs {
		switch j.Status {
		case StatusCompleted:
			completed = append(completed, j)
		case StatusDead:
			dead = append(dead, j)
		default:
			kept = append(kept, j)
		}
	}
	if len(completed) > keepCompleted {
		completed = completed[len(completed)-keepCompleted:]
	}
	if len(dead) > keepFailed {
		dead = dead[len(dead)-keepFailed:]
	}
	kept = append(kept, completed...)
	kept = append(kept, dead...)
	b.jobs[queue] = kept
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
