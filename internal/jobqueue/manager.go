package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gps-ingest-gateway/internal/position"
	apperrors "gps-ingest-gateway/pkg/errors"
)

const (
	queueHistory = "history"
	queueLatest  = "latest"
)

// Writer is the Store-facing dependency of Manager. Kept narrow so
// this package never imports internal/store directly.
type Writer interface {
	WriteHistoryBatch(ctx context.Context, batch position.HistoryBatch) error
	WriteLatestBatch(ctx context.Context, batch position.LatestBatch) error
}

// Config bundles the knobs Manager needs from spec §6 beyond what each
// Queue already owns.
type Config struct {
	CompressPayloads bool

	HistoryConcurrency int
	HistoryBaseBackoff time.Duration
	HistoryKeepOK      int
	HistoryKeepFailed  int

	LatestConcurrency int
	LatestBaseBackoff time.Duration
	LatestKeepOK      int
	LatestKeepFailed  int

	MaxAttempts int
}

// Manager is the JobQueue component of spec §2: two named queues
// (history, latest), each with its own worker pool, fed by the
// BatchAccumulator and draining into the Store. It implements
// accumulator.Enqueuer.
type Manager struct {
	cfg     Config
	backend Backend
	store   Writer
	bus     EventPublisher

	history *Queue
	latest  *Queue
}

// NewManager wires the two queues against backend and store.
func NewManager(cfg Config, backend Backend, store Writer, bus EventPublisher) *Manager {
	m := &Manager{cfg: cfg, backend: backend, store: store, bus: bus}

	m.history = NewQueue(QueueConfig{
		Name:          queueHistory,
		Concurrency:   cfg.HistoryConcurrency,
		BaseBackoff:   cfg.HistoryBaseBackoff,
		MaxAttempts:   cfg.MaxAttempts,
		KeepCompleted: cfg.HistoryKeepOK,
		KeepFailed:    cfg.HistoryKeepFailed,
		TrimInterval:  time.Minute,
	}, backend, m.handleHistory, bus)

	m.latest = NewQueue(QueueConfig{
		Name:          queueLatest,
		Concurrency:   cfg.LatestConcurrency,
		BaseBackoff:   cfg.LatestBaseBackoff,
		MaxAttempts:   cfg.MaxAttempts,
		KeepCompleted: cfg.LatestKeepOK,
		KeepFailed:    cfg.LatestKeepFailed,
		TrimInterval:  time.Minute,
	}, backend, m.handleLatest, bus)

	return m
}

// Start launches both queues' worker pools.
func (m *Manager) Start() {
	m.history.Start()
	m.latest.Start()
}

// Shutdown stops both queues' worker pools, waiting for in-flight jobs.
func (m *Manager) Shutdown() {
	m.history.Shutdown()
	m.latest.Shutdown()
}

// EnqueueHistory encodes batch and durably enqueues it on the history
// queue (spec §4.3: the accumulator's flush hands off here).
func (m *Manager) EnqueueHistory(ctx context.Context, batch position.HistoryBatch) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal history batch: %w", err)
	}
	payload, compressed, err := compress(raw, m.cfg.CompressPayloads)
	if err != nil {
		return err
	}

	job := newJob(queueHistory, KindHistory, payload, compressed, m.cfg.MaxAttempts)
	job.ID = batch.BatchID
	if err := m.backend.Enqueue(ctx, job); err != nil {
		return apperrors.NewTransientQueue(queueHistory, err)
	}
	return nil
}

// EnqueueLatest encodes batch and durably enqueues it on the latest queue.
func (m *Manager) EnqueueLatest(ctx context.Context, batch position.LatestBatch) error {
	raw, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal latest batch: %w", err)
	}
	payload, compressed, err := compress(raw, m.cfg.CompressPayloads)
	if err != nil {
		return err
	}

	job := newJob(queueLatest, KindLatest, payload, compressed, m.cfg.MaxAttempts)
	job.ID = batch.BatchID
	if err := m.backend.Enqueue(ctx, job); err != nil {
		return apperrors.NewTransientQueue(queueLatest, err)
	}
	return nil
}

func (m *Manager) handleHistory(ctx context.Context, job *Job) error {
	raw, err := decompress(job.Payload, job.Compressed)
	if err != nil {
		return err
	}
	var batch position.HistoryBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return fmt.Errorf("unmarshal history batch: %w", err)
	}
	return m.store.WriteHistoryBatch(ctx, batch)
}

func (m *Manager) handleLatest(ctx context.Context, job *Job) error {
	raw, err := decompress(job.Payload, job.Compressed)
	if err != nil {
		return err
	}
	var batch position.LatestBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return fmt.Errorf("unmarshal latest batch: %w", err)
	}
	return m.store.WriteLatestBatch(ctx, batch)
}

// Stats aggregates both queues' backend stats, keyed by queue name.
func (m *Manager) Stats(ctx context.Context) (map[string]Stats, error) {
	hist, err := m.history.Stats(ctx)
	if err != nil {
		return nil, err
	}
	lat, err := m.latest.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]Stats{queueHistory: hist, queueLatest: lat}, nil
}
