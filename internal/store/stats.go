package store

import (
	"context"
	"strconv"
	"time"

	apperrors "gps-ingest-gateway/pkg/errors"
)

// Stats is the snapshot spec §4.4/§8 asks the Store to expose: current
// occupancy against the configured bound, device count, and a coarse
// write-frequency sample.
type Stats struct {
	HistoryLength       int64
	HistoryMaxEntries   int
	HistoryUtilization  float64 // 100 * HistoryLength / HistoryMaxEntries, 0 if unbounded
	DeviceCount         int64
	SampledWritesPerMin float64
}

// Stats reports the Store's current state. The device count and
// utilization percentage come from deviceIndexKey / historyKey rather
// than a keyspace SCAN, per the indexing decision in WriteLatestBatch.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	length, err := s.HistoryLength(ctx)
	if err != nil {
		return Stats{}, err
	}

	deviceCount, err := s.rdb.ZCard(ctx, deviceIndexKey).Result()
	if err != nil {
		return Stats{}, apperrors.NewTransientStore("stats_device_count", err)
	}

	util := 0.0
	if s.cfg.MaxHistoryEntries > 0 {
		util = float64(length) / float64(s.cfg.MaxHistoryEntries) * 100
	}

	sampled, err := s.sampledWriteFrequency(ctx)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		HistoryLength:       length,
		HistoryMaxEntries:   s.cfg.MaxHistoryEntries,
		HistoryUtilization:  util,
		DeviceCount:         deviceCount,
		SampledWritesPerMin: sampled,
	}, nil
}

// sampledWriteFrequency estimates recent write volume by counting
// devices whose last write fell within the last minute — a coarse,
// O(log N) substitute for a true moving-window rate counter, adequate
// for the /stats endpoint rather than alerting.
func (s *Store) sampledWriteFrequency(ctx context.Context) (float64, error) {
	now := time.Now()
	cutoff := now.Add(-time.Minute).Unix()

	count, err := s.rdb.ZCount(ctx, deviceIndexKey, strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return 0, apperrors.NewTransientStore("stats_frequency", err)
	}
	return float64(count), nil
}
