package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"gps-ingest-gateway/internal/position"
)

func newTestStore(t *testing.T, cfg Config) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func samplePosition(deviceID string, ts time.Time) position.Position {
	return position.Position{
		DeviceID:   deviceID,
		Lat:        40.7128,
		Lng:        -74.0060,
		Timestamp:  ts,
		ReceivedAt: ts.Add(time.Millisecond),
		Metadata:   map[string]interface{}{"speed": 12.5},
	}
}

// S1/round-trip: a Position written via WriteHistoryBatch is stored as a
// JSON element carrying its deviceId and the batch's batchId (spec §8
// round-trip, §3/§6 JSON schema).
func TestWriteHistoryBatch_RoundTrip(t *testing.T) {
	s, mr := newTestStore(t, Config{MaxHistoryEntries: 100})
	ctx := context.Background()

	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	pos := samplePosition("d1", ts)

	err := s.WriteHistoryBatch(ctx, position.HistoryBatch{
		BatchID:   "hist_1_abc",
		Positions: []position.Position{pos},
		CreatedAt: ts,
		Count:     1,
	})
	require.NoError(t, err)

	raw, err := mr.Lpop(historyKey)
	require.NoError(t, err)
	require.Contains(t, raw, `"batchId":"hist_1_abc"`)
	require.Contains(t, raw, `"deviceId":"d1"`)
}

// Retention bound: after any append the history length is <= the
// configured bound (spec §8 invariant 3, idempotent trim).
func TestWriteHistoryBatch_RetentionTrim(t *testing.T) {
	s, _ := newTestStore(t, Config{MaxHistoryEntries: 10})
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		pos := samplePosition("d1", time.Now())
		err := s.WriteHistoryBatch(ctx, position.HistoryBatch{
			BatchID:   "hist_x",
			Positions: []position.Position{pos},
			Count:     1,
		})
		require.NoError(t, err)
	}

	length, err := s.HistoryLength(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), length)
}

// A written latest record reads back with its coordinates and metadata
// intact; a device with no record reads back as not found.
func TestWriteLatestBatch_GetLatest(t *testing.T) {
	s, _ := newTestStore(t, Config{LatestKeyTTL: time.Hour})
	ctx := context.Background()

	ts := time.Now().Add(-time.Minute)
	pos := samplePosition("d1", ts)

	err := s.WriteLatestBatch(ctx, position.LatestBatch{
		BatchID:   "latest_1",
		Positions: map[string]position.Position{"d1": pos},
		Count:     1,
	})
	require.NoError(t, err)

	got, ok, err := s.GetLatest(ctx, "d1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, pos.DeviceID, got.DeviceID)
	require.InDelta(t, pos.Lat, got.Lat, 1e-9)
	require.InDelta(t, pos.Lng, got.Lng, 1e-9)
	require.Equal(t, 12.5, got.Metadata["speed"])

	_, ok, err = s.GetLatest(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetLatestMany_OmitsMissing(t *testing.T) {
	s, _ := newTestStore(t, Config{})
	ctx := context.Background()

	err := s.WriteLatestBatch(ctx, position.LatestBatch{
		BatchID: "latest_1",
		Positions: map[string]position.Position{
			"d1": samplePosition("d1", time.Now()),
			"d2": samplePosition("d2", time.Now()),
		},
		Count: 2,
	})
	require.NoError(t, err)

	result, err := s.GetLatestMany(ctx, []string{"d1", "d2", "ghost"})
	require.NoError(t, err)
	require.Len(t, result, 2)
	require.Contains(t, result, "d1")
	require.Contains(t, result, "d2")
	require.NotContains(t, result, "ghost")
}

// Idempotence: cleanup run twice in succession with no intervening
// writes yields the same Store state as running it once (spec §8).
func TestCleanup_IdempotentTrim(t *testing.T) {
	s, _ := newTestStore(t, Config{MaxHistoryEntries: 5, CleanupEnabled: true})
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		err := s.WriteHistoryBatch(ctx, position.HistoryBatch{
			BatchID:   "hist_x",
			Positions: []position.Position{samplePosition("d1", time.Now())},
			Count:     1,
		})
		require.NoError(t, err)
	}

	_, err := s.Cleanup(ctx)
	require.NoError(t, err)
	first, err := s.HistoryLength(ctx)
	require.NoError(t, err)

	_, err = s.Cleanup(ctx)
	require.NoError(t, err)
	second, err := s.HistoryLength(ctx)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int64(5), second)
}
