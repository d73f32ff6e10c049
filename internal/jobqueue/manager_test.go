package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gps-ingest-gateway/internal/position"
)

type fakeWriter struct {
	mu      sync.Mutex
	history []position.HistoryBatch
	latest  []position.LatestBatch
}

func (w *fakeWriter) WriteHistoryBatch(_ context.Context, batch position.HistoryBatch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.history = append(w.history, batch)
	return nil
}

func (w *fakeWriter) WriteLatestBatch(_ context.Context, batch position.LatestBatch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest = append(w.latest, batch)
	return nil
}

func (w *fakeWriter) snapshot() ([]position.HistoryBatch, []position.LatestBatch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]position.HistoryBatch(nil), w.history...), append([]position.LatestBatch(nil), w.latest...)
}

func testManagerConfig() Config {
	return Config{
		HistoryConcurrency: 1,
		HistoryBaseBackoff: time.Millisecond,
		HistoryKeepOK:      10,
		HistoryKeepFailed:  10,
		LatestConcurrency:  1,
		LatestBaseBackoff:  time.Millisecond,
		LatestKeepOK:       10,
		LatestKeepFailed:   10,
		MaxAttempts:        3,
	}
}

func TestManager_EnqueueHistoryDrainsToWriter(t *testing.T) {
	backend := NewMemoryBackend()
	writer := &fakeWriter{}
	m := NewManager(testManagerConfig(), backend, writer, nil)

	m.Start()
	defer m.Shutdown()

	batch := position.HistoryBatch{BatchID: "hist_1", Positions: []position.Position{{DeviceID: "d1"}}, Count: 1}
	require.NoError(t, m.EnqueueHistory(context.Background(), batch))

	require.Eventually(t, func() bool {
		hist, _ := writer.snapshot()
		return len(hist) == 1
	}, time.Second, 10*time.Millisecond)

	hist, _ := writer.snapshot()
	assert.Equal(t, "hist_1", hist[0].BatchID)
}

func TestManager_EnqueueLatestDrainsToWriter(t *testing.T) {
	backend := NewMemoryBackend()
	writer := &fakeWriter{}
	m := NewManager(testManagerConfig(), backend, writer, nil)

	m.Start()
	defer m.Shutdown()

	batch := position.LatestBatch{BatchID: "latest_1", Positions: map[string]position.Position{"d1": {DeviceID: "d1"}}, Count: 1}
	require.NoError(t, m.EnqueueLatest(context.Background(), batch))

	require.Eventually(t, func() bool {
		_, lat := writer.snapshot()
		return len(lat) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManager_CompressedPayloadsStillDecompressCorrectlyOnDrain(t *testing.T) {
	backend := NewMemoryBackend()
	writer := &fakeWriter{}
	cfg := testManagerConfig()
	cfg.CompressPayloads = true
	m := NewManager(cfg, backend, writer, nil)

	m.Start()
	defer m.Shutdown()

	batch := position.HistoryBatch{BatchID: "hist_c1", Positions: []position.Position{{DeviceID: "d1"}}, Count: 1}
	require.NoError(t, m.EnqueueHistory(context.Background(), batch))

	require.Eventually(t, func() bool {
		hist, _ := writer.snapshot()
		return len(hist) == 1
	}, time.Second, 10*time.Millisecond)

	hist, _ := writer.snapshot()
	assert.Equal(t, 1, hist[0].Count)
}

func TestManager_StatsAggregatesBothQueuesByName(t *testing.T) {
	backend := NewMemoryBackend()
	writer := &fakeWriter{}
	m := NewManager(testManagerConfig(), backend, writer, nil)

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	_, hasHistory := stats["history"]
	_, hasLatest := stats["latest"]
	assert.True(t, hasHistory)
	assert.True(t, hasLatest)
}
