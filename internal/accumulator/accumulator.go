// Package accumulator implements the dual in-memory batch accumulator
// from spec §4.2: a history buffer and a per-device latest map, each
// flushed on a timer, a size trigger, or a forced flush, with the
// swap-before-enqueue semantics that keep submit() non-blocking.
//
// Grounded on the teacher's internal/ingestion/processor.go
// (sensorBuffer + batchFlusher ticker + flushBatch's copy-and-reset-
// under-lock idiom) and on the route-beacon-ri state pipeline example
// (_examples/other_examples/e9fb72e8_pobradovic08-route-beacon-ri__internal-state-pipeline.go.go),
// which accumulates position-shaped reports under the same trigger
// model.
package accumulator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"gps-ingest-gateway/internal/eventbus"
	"gps-ingest-gateway/internal/logger"
	"gps-ingest-gateway/internal/position"
	apperrors "gps-ingest-gateway/pkg/errors"
)

// Enqueuer is the JobQueue-facing dependency of the accumulator. Kept
// narrow so this package never imports internal/jobqueue.
type Enqueuer interface {
	EnqueueHistory(ctx context.Context, batch position.HistoryBatch) error
	EnqueueLatest(ctx context.Context, batch position.LatestBatch) error
}

// EventPublisher is the subset of EventBus the accumulator depends on.
type EventPublisher interface {
	Publish(topic string, payload interface{})
}

// Config bundles spec §6's batching knobs.
type Config struct {
	BatchInterval time.Duration
	MaxBatchSize  int
}

// Stats is a snapshot of the accumulator's current occupancy, used by
// Coordinator.Health/Stats.
type Stats struct {
	HistoryBufferSize int
	LatestMapSize     int
}

// Accumulator owns the two live buffers described in spec §4.2.
type Accumulator struct {
	cfg      Config
	enqueuer Enqueuer
	bus      EventPublisher

	dataMu        sync.Mutex
	historyBuffer []position.Position
	latestMap     map[string]position.Position

	// flushMu serializes the actual flush (swap+enqueue) step so at
	// most one flush cycle runs at a time; concurrent timer/size
	// triggers are coalesced by trying (not blocking) to acquire it —
	// a trigger that loses the race trusts the in-progress flush (or
	// the next tick) to pick up whatever it left behind. force_flush
	// blocks until it can run its own cycle, since its caller is
	// waiting on a definitive answer.
	flushMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	rng *rand.Rand
	rngMu sync.Mutex
}

// New builds an Accumulator. It does not start its timer; call Start.
func New(cfg Config, enqueuer Enqueuer, bus EventPublisher) *Accumulator {
	if bus == nil {
		bus = noopPublisher{}
	}
	return &Accumulator{
		cfg:       cfg,
		enqueuer:  enqueuer,
		bus:       bus,
		latestMap: make(map[string]position.Position),
		stopCh:    make(chan struct{}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) {}

// Start launches the timer-trigger goroutine (spec §4.2 trigger 1).
func (a *Accumulator) Start() {
	a.wg.Add(1)
	go a.timerLoop()
}

func (a *Accumulator) timerLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.flushBoth(context.Background()); err != nil {
				logger.Warn("timer-triggered flush failed", zap.Error(err))
			}
		case <-a.stopCh:
			return
		}
	}
}

// Shutdown stops the timer loop. Callers should force-flush first.
func (a *Accumulator) Shutdown() {
	close(a.stopCh)
	a.wg.Wait()
}

// Submit appends pos to the history buffer and updates the latest map
// (spec §3: "insertion collapses multiple updates for the same device
// to the one with the greatest timestamp"). This is the only
// in-memory, non-suspending hot path (spec §5); it never blocks on I/O.
func (a *Accumulator) Submit(pos position.Position) {
	a.dataMu.Lock()
	a.historyBuffer = append(a.historyBuffer, pos)
	if existing, ok := a.latestMap[pos.DeviceID]; !ok || existing.Timestamp.Before(pos.Timestamp) {
		a.latestMap[pos.DeviceID] = pos
	}
	shouldFlush := len(a.historyBuffer) >= a.cfg.MaxBatchSize
	a.dataMu.Unlock()

	// Size trigger (spec §4.2 trigger 2): schedule without blocking
	// the submitter. Latest map flushes only on timer or force.
	if shouldFlush {
		go func() {
			if err := a.flushHistory(context.Background()); err != nil {
				logger.Warn("size-triggered flush failed", zap.Error(err))
			}
		}()
	}
}

// ForceFlush flushes both structures and surfaces any enqueue failure
// to the caller (spec §4.2: force trigger, §7: TransientQueue surfaced
// to the force-flush caller).
func (a *Accumulator) ForceFlush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	return a.flushBothLocked(ctx)
}

// flushBoth is used by the timer loop; it tries (non-blockingly) to
// acquire flushMu, leaving the work to a flush already in progress.
func (a *Accumulator) flushBoth(ctx context.Context) error {
	if !a.flushMu.TryLock() {
		return nil
	}
	defer a.flushMu.Unlock()
	return a.flushBothLocked(ctx)
}

func (a *Accumulator) flushBothLocked(ctx context.Context) error {
	histErr := a.flushHistoryLocked(ctx)
	latestErr := a.flushLatestLocked(ctx)
	if histErr != nil {
		return histErr
	}
	return latestErr
}

// flushHistory is used by the size trigger; it tries (non-blockingly)
// to acquire flushMu so a concurrent flush already in progress isn't
// duplicated.
func (a *Accumulator) flushHistory(ctx context.Context) error {
	if !a.flushMu.TryLock() {
		return nil
	}
	defer a.flushMu.Unlock()
	return a.flushHistoryLocked(ctx)
}

func (a *Accumulator) flushHistoryLocked(ctx context.Context) error {
	a.dataMu.Lock()
	if len(a.historyBuffer) == 0 {
		a.dataMu.Unlock()
		return nil
	}
	batch := a.historyBuffer
	a.historyBuffer = nil
	a.dataMu.Unlock()

	batchID := generateBatchID(a, "hist")
	hb := position.HistoryBatch{
		BatchID:   batchID,
		Positions: batch,
		CreatedAt: time.Now(),
		Count:     len(batch),
	}

	if err := a.enqueuer.EnqueueHistory(ctx, hb); err != nil {
		// Prepend the swapped-out data back onto the buffer (spec §4.2).
		a.dataMu.Lock()
		a.historyBuffer = append(batch, a.historyBuffer...)
		a.dataMu.Unlock()

		a.bus.Publish(eventbus.TopicQueueFailed, map[string]interface{}{
			"queue":    "history",
			"batch_id": batchID,
		})
		return apperrors.NewTransientQueue("history", err)
	}

	a.bus.Publish(eventbus.TopicBatchFlushed, map[string]interface{}{
		"kind":     "history",
		"batch_id": batchID,
		"count":    hb.Count,
	})
	return nil
}

func (a *Accumulator) flushLatestLocked(ctx context.Context) error {
	a.dataMu.Lock()
	if len(a.latestMap) == 0 {
		a.dataMu.Unlock()
		return nil
	}
	swapped := a.latestMap
	a.latestMap = make(map[string]position.Position)
	a.dataMu.Unlock()

	batchID := generateBatchID(a, "latest")
	lb := position.LatestBatch{
		BatchID:   batchID,
		Positions: swapped,
		CreatedAt: time.Now(),
		Count:     len(swapped),
	}

	if err := a.enqueuer.EnqueueLatest(ctx, lb); err != nil {
		// Reinsert into the latest map, but only for devices whose
		// current stored entry has an older timestamp (spec §4.2) —
		// new submissions may have arrived while this flush was in
		// flight, and those must win.
		a.dataMu.Lock()
		for deviceID, pos := range swapped {
			if existing, ok := a.latestMap[deviceID]; !ok || existing.Timestamp.Before(pos.Timestamp) {
				a.latestMap[deviceID] = pos
			}
		}
		a.dataMu.Unlock()

		a.bus.Publish(eventbus.TopicQueueFailed, map[string]interface{}{
			"queue":    "latest",
			"batch_id": batchID,
		})
		return apperrors.NewTransientQueue("latest", err)
	}

	a.bus.Publish(eventbus.TopicBatchFlushed, map[string]interface{}{
		"kind":     "latest",
		"batch_id": batchID,
		"count":    lb.Count,
	})
	return nil
}

// Stats returns a snapshot of current buffer occupancy.
func (a *Accumulator) Stats() Stats {
	a.dataMu.Lock()
	defer a.dataMu.Unlock()
	return Stats{
		HistoryBufferSize: len(a.historyBuffer),
		LatestMapSize:     len(a.latestMap),
	}
}

// Clear discards any buffered data without enqueuing it. Used by tests
// and by an operator-triggered reset; not part of the normal flush path.
func (a *Accumulator) Clear() {
	a.dataMu.Lock()
	defer a.dataMu.Unlock()
	a.historyBuffer = nil
	a.latestMap = make(map[string]position.Position)
}

func generateBatchID(a *Accumulator, kind string) string {
	a.rngMu.Lock()
	suffix := a.rng.Int63()
	a.rngMu.Unlock()
	return fmt.Sprintf("%s_%d_%x", kind, time.Now().UnixMilli(), suffix)
}
