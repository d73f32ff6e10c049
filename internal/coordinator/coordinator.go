// Package coordinator owns process lifecycle: bringing up the Store,
// JobQueue and BatchAccumulator in dependency order, tearing them down
// leaves-first on shutdown, and aggregating stats across all three plus
// the duplicate cache (spec §4.5). Health reports only whether the
// coordinator is running; it does not check each component.
//
// Grounded on the teacher's cmd/main.go start/stop sequencing (goroutine
// launch, signal-triggered graceful shutdown with a timeout context) and
// on internal/ingestion/mqtt_client.go's Start/Stop idempotency guard,
// generalized from one component to an ordered list of them.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gps-ingest-gateway/internal/accumulator"
	"gps-ingest-gateway/internal/jobqueue"
	"gps-ingest-gateway/internal/logger"
	"gps-ingest-gateway/internal/processor"
	"gps-ingest-gateway/internal/store"
	apperrors "gps-ingest-gateway/pkg/errors"
)

// EventPublisher is the subset of EventBus this package depends on.
type EventPublisher interface {
	Publish(topic string, payload interface{})
}

// Config bundles the shutdown tunable Coordinator itself owns; every
// other component is configured by its own package.
type Config struct {
	ShutdownDeadline time.Duration
}

// Health is the aggregate health snapshot spec §4.5/§8 exposes over
// /healthz.
type Health struct {
	Status  string `json:"status"` // "ok" or "degraded"
	Running bool   `json:"running"`
}

// StatsSnapshot aggregates every component's stats for the /stats endpoint.
type StatsSnapshot struct {
	Accumulator accumulator.Stats         `json:"accumulator"`
	Queues      map[string]jobqueue.Stats `json:"queues"`
	Store       store.Stats               `json:"store"`
	CacheSize   int                       `json:"duplicate_cache_size"`
}

// Coordinator orchestrates Store, JobQueue manager, BatchAccumulator
// and Processor as one unit, per spec §4.5.
type Coordinator struct {
	cfg Config

	store *store.Store
	jobs  *jobqueue.Manager
	accum *accumulator.Accumulator
	proc  *processor.Processor
	bus   EventPublisher

	mu      sync.Mutex
	running bool
}

// New wires the already-constructed components together. Construction
// order (Store, then JobQueue, then Accumulator, then Processor) is the
// caller's responsibility, since each depends on the previous one's
// concrete type; Coordinator only owns the start/stop/stats sequencing.
func New(cfg Config, st *store.Store, jobs *jobqueue.Manager, accum *accumulator.Accumulator, proc *processor.Processor, bus EventPublisher) *Coordinator {
	if bus == nil {
		bus = noopPublisher{}
	}
	return &Coordinator{cfg: cfg, store: st, jobs: jobs, accum: accum, proc: proc, bus: bus}
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}

// Start brings up the JobQueue worker pools and the accumulator's
// timer. The Store has no background loop of its own (every call is
// synchronous to Redis), so it needs no Start.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}

	c.jobs.Start()
	c.accum.Start()
	c.running = true
	logger.Info("coordinator started")
}

// Shutdown stops components leaves-first: the Accumulator (after one
// last force-flush, so nothing buffered is lost), then the JobQueue
// worker pools (letting in-flight jobs finish), then the Store
// connection. It gives up and returns apperrors.ErrShutdownDeadlineHit
// if cfg.ShutdownDeadline elapses first.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	deadline := c.cfg.ShutdownDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := c.accum.ForceFlush(shutdownCtx); err != nil {
			logger.Warn("final flush failed during shutdown", zap.Error(err))
		}
		c.accum.Shutdown()
		c.jobs.Shutdown()
		if err := c.store.Close(); err != nil {
			logger.Warn("store close failed during shutdown", zap.Error(err))
		}
		close(done)
	}()

	select {
	case <-done:
		c.bus.Publish("app.shutdown", map[string]interface{}{"graceful": true})
		logger.Info("coordinator shut down cleanly")
		return nil
	case <-shutdownCtx.Done():
		c.bus.Publish("app.shutdown", map[string]interface{}{"graceful": false})
		return apperrors.NewFatal("shutdown deadline exceeded", apperrors.ErrShutdownDeadlineHit)
	}
}

// ForceFlush exposes the accumulator's force-flush for the operator
// endpoint in spec §4.2.
func (c *Coordinator) ForceFlush(ctx context.Context) error {
	return c.accum.ForceFlush(ctx)
}

// Cleanup exposes the store's retention/inactive-device cleanup pass.
func (c *Coordinator) Cleanup(ctx context.Context) (store.CleanupResult, error) {
	return c.store.Cleanup(ctx)
}

// Health reports whether the coordinator is currently running.
func (c *Coordinator) Health() Health {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()

	status := "ok"
	if !running {
		status = "degraded"
	}
	return Health{Status: status, Running: running}
}

// Stats aggregates every component's stats snapshot.
func (c *Coordinator) Stats(ctx context.Context) (StatsSnapshot, error) {
	queueStats, err := c.jobs.Stats(ctx)
	if err != nil {
		return StatsSnapshot{}, err
	}
	storeStats, err := c.store.Stats(ctx)
	if err != nil {
		return StatsSnapshot{}, err
	}

	return StatsSnapshot{
		Accumulator: c.accum.Stats(),
		Queues:      queueStats,
		Store:       storeStats,
		CacheSize:   c.proc.CacheSize(),
	}, nil
}
