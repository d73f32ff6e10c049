package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "gps-ingest-gateway/pkg/errors"
)

// CleanupResult reports what a Cleanup pass did.
type CleanupResult struct {
	HistoryTrimmedTo   int64
	InactiveDevicesGone int64
}

// Cleanup enforces the history retention bound (redundant with the
// per-write LTRIM in WriteHistoryBatch, but cheap to re-run) and, if
// MaxDeviceInactivity is configured, evicts gps:last:<device_id> for
// any device that hasn't written in that long (spec §4.4/§9's optional
// inactive-device eviction, off by default).
func (s *Store) Cleanup(ctx context.Context) (CleanupResult, error) {
	if !s.cfg.CleanupEnabled {
		return CleanupResult{}, nil
	}

	var result CleanupResult

	if s.cfg.MaxHistoryEntries > 0 {
		if err := s.rdb.LTrim(ctx, historyKey, -int64(s.cfg.MaxHistoryEntries), -1).Err(); err != nil {
			return result, apperrors.NewTransientStore("cleanup_history_trim", err)
		}
		length, err := s.HistoryLength(ctx)
		if err != nil {
			return result, err
		}
		result.HistoryTrimmedTo = length
	}

	if s.cfg.MaxDeviceInactivity > 0 {
		removed, err := s.evictInactiveDevices(ctx)
		if err != nil {
			return result, err
		}
		result.InactiveDevicesGone = removed
	}

	return result, nil
}

func (s *Store) evictInactiveDevices(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.cfg.MaxDeviceInactivity).Unix()

	stale, err := s.rdb.ZRangeByScore(ctx, deviceIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, apperrors.NewTransientStore("cleanup_scan_inactive", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(stale))
	for _, deviceID := range stale {
		keys = append(keys, latestKey(deviceID))
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, keys...)
	members := make([]interface{}, len(stale))
	for i, d := range stale {
		members[i] = d
	}
	pipe.ZRem(ctx, deviceIndexKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, apperrors.NewTransientStore("cleanup_evict_inactive", err)
	}

	return int64(len(stale)), nil
}
