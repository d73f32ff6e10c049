package accumulator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gps-ingest-gateway/internal/position"
)

type fakeEnqueuer struct {
	mu            sync.Mutex
	historyCalls  []position.HistoryBatch
	latestCalls   []position.LatestBatch
	historyErr    error
	latestErr     error
}

func (f *fakeEnqueuer) EnqueueHistory(_ context.Context, batch position.HistoryBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return f.historyErr
	}
	f.historyCalls = append(f.historyCalls, batch)
	return nil
}

func (f *fakeEnqueuer) EnqueueLatest(_ context.Context, batch position.LatestBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return f.latestErr
	}
	f.latestCalls = append(f.latestCalls, batch)
	return nil
}

func (f *fakeEnqueuer) snapshot() ([]position.HistoryBatch, []position.LatestBatch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]position.HistoryBatch(nil), f.historyCalls...), append([]position.LatestBatch(nil), f.latestCalls...)
}

func pos(deviceID string, ts time.Time) position.Position {
	return position.Position{DeviceID: deviceID, Lat: 1, Lng: 2, Timestamp: ts, ReceivedAt: ts}
}

func TestSubmit_CollapsesToLatestByGreatestTimestamp(t *testing.T) {
	enq := &fakeEnqueuer{}
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 1000}, enq, nil)

	now := time.Now().UTC()
	a.Submit(pos("d1", now.Add(-time.Minute)))
	a.Submit(pos("d1", now))

	stats := a.Stats()
	assert.Equal(t, 2, stats.HistoryBufferSize)
	assert.Equal(t, 1, stats.LatestMapSize)
}

func TestSubmit_SizeTriggerFlushesHistoryOnly(t *testing.T) {
	enq := &fakeEnqueuer{}
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 2}, enq, nil)

	now := time.Now().UTC()
	a.Submit(pos("d1", now))
	a.Submit(pos("d2", now))

	require.Eventually(t, func() bool {
		hist, _ := enq.snapshot()
		return len(hist) == 1
	}, time.Second, 10*time.Millisecond)

	stats := a.Stats()
	assert.Equal(t, 0, stats.HistoryBufferSize)
	assert.Equal(t, 2, stats.LatestMapSize, "size trigger must not flush the latest map")
}

func TestForceFlush_FlushesBothBuffersAndClearsThem(t *testing.T) {
	enq := &fakeEnqueuer{}
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 1000}, enq, nil)

	now := time.Now().UTC()
	a.Submit(pos("d1", now))
	a.Submit(pos("d2", now))

	err := a.ForceFlush(context.Background())
	require.NoError(t, err)

	hist, lat := enq.snapshot()
	require.Len(t, hist, 1)
	require.Len(t, lat, 1)
	assert.Equal(t, 2, hist[0].Count)
	assert.Equal(t, 2, lat[0].Count)

	stats := a.Stats()
	assert.Equal(t, 0, stats.HistoryBufferSize)
	assert.Equal(t, 0, stats.LatestMapSize)
}

func TestForceFlush_RestoresHistoryBufferOnEnqueueFailure(t *testing.T) {
	enq := &fakeEnqueuer{historyErr: errors.New("queue down")}
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 1000}, enq, nil)

	now := time.Now().UTC()
	a.Submit(pos("d1", now))

	err := a.ForceFlush(context.Background())
	assert.Error(t, err)

	stats := a.Stats()
	assert.Equal(t, 1, stats.HistoryBufferSize, "buffered data must survive a failed enqueue")
}

func TestForceFlush_RestoresLatestMapOnEnqueueFailure(t *testing.T) {
	enq := &fakeEnqueuer{latestErr: errors.New("queue down")}
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 1000}, enq, nil)

	now := time.Now().UTC()
	a.Submit(pos("d1", now))

	err := a.ForceFlush(context.Background())
	assert.Error(t, err)

	stats := a.Stats()
	assert.Equal(t, 1, stats.LatestMapSize)
}

func TestForceFlush_NoOpWhenBuffersEmpty(t *testing.T) {
	enq := &fakeEnqueuer{}
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 1000}, enq, nil)

	err := a.ForceFlush(context.Background())
	require.NoError(t, err)

	hist, lat := enq.snapshot()
	assert.Empty(t, hist)
	assert.Empty(t, lat)
}

func TestClear_DiscardsBufferedDataWithoutEnqueuing(t *testing.T) {
	enq := &fakeEnqueuer{}
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 1000}, enq, nil)

	a.Submit(pos("d1", time.Now()))
	a.Clear()

	stats := a.Stats()
	assert.Equal(t, 0, stats.HistoryBufferSize)
	assert.Equal(t, 0, stats.LatestMapSize)

	hist, lat := enq.snapshot()
	assert.Empty(t, hist)
	assert.Empty(t, lat)
}

func TestShutdown_StopsTimerLoopWithoutBlockingForever(t *testing.T) {
	enq := &fakeEnqueuer{}
	a := New(Config{BatchInterval: time.Millisecond, MaxBatchSize: 1000}, enq, nil)
	a.Start()

	done := make(chan struct{})
	go func() {
		a.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return")
	}
}
