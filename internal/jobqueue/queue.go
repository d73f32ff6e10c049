package jobqueue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gps-ingest-gateway/internal/logger"
)

// EventPublisher is the subset of EventBus this package depends on.
type EventPublisher interface {
	Publish(topic string, payload interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}

// Handler processes one dequeued Job, returning an error to trigger a
// retry (or dead-letter, once MaxAttempts is exhausted).
type Handler func(ctx context.Context, job *Job) error

// QueueConfig bundles one named queue's worker-pool and retention
// tunables, one instance per spec §6's history_queue/latest_queue pair.
type QueueConfig struct {
	Name          string
	Concurrency   int
	BaseBackoff   time.Duration
	MaxAttempts   int
	KeepCompleted int
	KeepFailed    int
	TrimInterval  time.Duration
}

// Queue drains one named queue with a bounded worker pool, applying
// exponential backoff on failure and dead-lettering once MaxAttempts is
// exhausted (spec §4.3). Grounded on the teacher's
// internal/ingestion/processor.go sensorWorker pool (fixed worker
// count, per-worker select over a context-cancellation channel).
type Queue struct {
	cfg     QueueConfig
	backend Backend
	handler Handler
	bus     EventPublisher

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewQueue builds a Queue. Call Start to launch its worker pool.
func NewQueue(cfg QueueConfig, backend Backend, handler Handler, bus EventPublisher) *Queue {
	if bus == nil {
		bus = noopPublisher{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Queue{
		cfg:     cfg,
		backend: backend,
		handler: handler,
		bus:     bus,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the worker pool and the retention-trim ticker.
func (q *Queue) Start() {
	for i := 0; i < q.cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	if q.cfg.TrimInterval > 0 {
		q.wg.Add(1)
		go q.trimLoop()
	}
}

// Shutdown stops the worker pool and waits for in-flight jobs to finish.
func (q *Queue) Shutdown() {
	close(q.stopCh)
	q.wg.Wait()
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		job, err := q.backend.Dequeue(ctx, q.cfg.Name)
		cancel()

		if err != nil {
			if err == ErrNoJob {
				select {
				case <-time.After(200 * time.Millisecond):
				case <-q.stopCh:
					return
				}
				continue
			}
			logger.Warn("jobqueue dequeue error",
				zap.String("queue", q.cfg.Name), zap.Int("worker", id), zap.Error(err))
			continue
		}

		q.process(job)
	}
}

func (q *Queue) process(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := q.handler(ctx, job)
	if err == nil {
		if cerr := q.backend.Complete(ctx, job); cerr != nil {
			logger.Warn("jobqueue complete failed", zap.String("queue", q.cfg.Name), zap.Error(cerr))
		}
		q.bus.Publish("queue.completed", map[string]interface{}{
			"queue": q.cfg.Name, "job_id": job.ID,
		})
		return
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}

	if job.Attempts+1 >= maxAttempts {
		if derr := q.backend.DeadLetter(ctx, job, err.Error()); derr != nil {
			logger.Warn("jobqueue dead-letter failed", zap.String("queue", q.cfg.Name), zap.Error(derr))
		}
		q.bus.Publish("queue.failed", map[string]interface{}{
			"queue": q.cfg.Name, "job_id": job.ID, "reason": err.Error(),
		})
		return
	}

	backoff := q.cfg.BaseBackoff * time.Duration(1<<uint(job.Attempts))
	if rerr := q.backend.Retry(ctx, job, backoff, err.Error()); rerr != nil {
		logger.Warn("jobqueue retry failed", zap.String("queue", q.cfg.Name), zap.Error(rerr))
	}
}

func (q *Queue) trimLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.TrimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := q.backend.Trim(ctx, q.cfg.Name, q.cfg.KeepCompleted, q.cfg.KeepFailed); err != nil {
				logger.Warn("jobqueue trim failed", zap.String("queue", q.cfg.Name), zap.Error(err))
			}
			cancel()
		case <-q.stopCh:
			return
		}
	}
}

// Stats returns the backend's current counts for this queue.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.backend.Stats(ctx, q.cfg.Name)
}
