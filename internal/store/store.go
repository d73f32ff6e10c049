// Package store implements spec §4.4's dual-shape durable Store: an
// append-only global history list and a per-device latest-position
// map, both backed by Redis (go-redis/v9) because the key layout spec
// §3 specifies — gps:history:global, gps:last:<device_id> — is
// explicitly Redis-shaped.
//
// Grounded on the koizuka-echonet-list device history store
// (_examples/other_examples/b62dbf10_koizuka-echonet-list__server-device_history_store.go.go)
// for the retention-trim-by-bound and duplicate-window idioms, and on
// the Krishna8167-tempuscache TTL-cache example
// (_examples/other_examples/b4f43e28_Krishna8167-tempuscache__cache.go.go)
// for the per-key TTL pattern used on gps:last:<device_id>.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gps-ingest-gateway/internal/position"
	apperrors "gps-ingest-gateway/pkg/errors"
)

const (
	historyKey      = "gps:history:global"
	latestKeyPrefix = "gps:last:"
	// deviceIndexKey is a device_id -> last-write-timestamp sorted set,
	// maintained alongside gps:last:<device_id> so Stats/Cleanup can
	// find device counts and inactive devices without a SCAN over the
	// whole keyspace.
	deviceIndexKey = "gps:devices:index"
)

func latestKey(deviceID string) string {
	return latestKeyPrefix + deviceID
}

// historyRecord is the bit-exact global-history element from spec §3/§6:
// {"deviceId","lat","lng","timestamp","receivedAt","batchId","metadata"}.
// Position itself carries no batchId (it has no identity beyond the
// batch that produced it), so the Store stamps it on at write time.
type historyRecord struct {
	DeviceID   string                 `json:"deviceId"`
	Lat        float64                `json:"lat"`
	Lng        float64                `json:"lng"`
	Timestamp  time.Time              `json:"timestamp"`
	ReceivedAt time.Time              `json:"receivedAt"`
	BatchID    string                 `json:"batchId"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// latestRecord is the bit-exact per-device latest record from spec §6:
// deviceId, lat, lng, timestamp, receivedAt, updatedAt, metadata (JSON
// string, not a nested object).
type latestRecord struct {
	DeviceID   string    `json:"deviceId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"receivedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Metadata   string    `json:"metadata"`
}

func toLatestRecord(p position.Position, updatedAt time.Time) (latestRecord, error) {
	meta := p.Metadata
	if meta == nil {
		meta = map[string]interface{}{}
	}
	encodedMeta, err := json.Marshal(meta)
	if err != nil {
		return latestRecord{}, fmt.Errorf("encode metadata: %w", err)
	}
	return latestRecord{
		DeviceID:   p.DeviceID,
		Lat:        p.Lat,
		Lng:        p.Lng,
		Timestamp:  p.Timestamp,
		ReceivedAt: p.ReceivedAt,
		UpdatedAt:  updatedAt,
		Metadata:   string(encodedMeta),
	}, nil
}

func fromLatestRecord(raw []byte) (position.Position, error) {
	var rec latestRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return position.Position{}, fmt.Errorf("decode position: %w", err)
	}
	var meta map[string]interface{}
	if rec.Metadata != "" {
		if err := json.Unmarshal([]byte(rec.Metadata), &meta); err != nil {
			return position.Position{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return position.Position{
		DeviceID:   rec.DeviceID,
		Lat:        rec.Lat,
		Lng:        rec.Lng,
		Timestamp:  rec.Timestamp,
		ReceivedAt: rec.ReceivedAt,
		Metadata:   meta,
	}, nil
}

// Config bundles the Store's spec §6 tunables.
type Config struct {
	MaxHistoryEntries     int
	LatestKeyTTL          time.Duration // 0 = no expiry
	CleanupEnabled        bool
	MaxDeviceInactivity   time.Duration // 0 = disabled
}

// Store is the durable dual-shape writer/reader (spec §4.4).
type Store struct {
	rdb *redis.Client
	cfg Config
}

// New builds a Store over an already-configured redis.Client.
func New(rdb *redis.Client, cfg Config) *Store {
	return &Store{rdb: rdb, cfg: cfg}
}

// NewClient builds the go-redis client from RedisConfig, grounded on
// the teacher's DSN-from-config idiom (internal/config.JobStoreConfig.DSN).
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// WriteHistoryBatch appends batch's positions to the global history
// list, each JSON-encoded, then trims the list to MaxHistoryEntries
// (spec §4.4: "the history list is retention-bounded, not unbounded").
// Both operations run in one pipeline so a batch is never partially
// visible mid-write.
func (s *Store) WriteHistoryBatch(ctx context.Context, batch position.HistoryBatch) error {
	if len(batch.Positions) == 0 {
		return nil
	}

	encoded := make([]interface{}, len(batch.Positions))
	for i, p := range batch.Positions {
		meta := p.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		rec := historyRecord{
			DeviceID:   p.DeviceID,
			Lat:        p.Lat,
			Lng:        p.Lng,
			Timestamp:  p.Timestamp,
			ReceivedAt: p.ReceivedAt,
			BatchID:    batch.BatchID,
			Metadata:   meta,
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode position: %w", err)
		}
		encoded[i] = raw
	}

	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, historyKey, encoded...)
		if s.cfg.MaxHistoryEntries > 0 {
			pipe.LTrim(ctx, historyKey, -int64(s.cfg.MaxHistoryEntries), -1)
		}
		return nil
	})
	if err != nil {
		return apperrors.NewTransientStore("write_history_batch", err)
	}
	return nil
}

// WriteLatestBatch overwrites gps:last:<device_id> for every device in
// batch, each with an independent optional TTL (spec §4.4). Since
// BatchAccumulator already collapsed its buffer to one entry per
// device before flushing, no further merge is needed here.
func (s *Store) WriteLatestBatch(ctx context.Context, batch position.LatestBatch) error {
	if len(batch.Positions) == 0 {
		return nil
	}

	updatedAt := time.Now()
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for deviceID, p := range batch.Positions {
			rec, err := toLatestRecord(p, updatedAt)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode position: %w", err)
			}
			if s.cfg.LatestKeyTTL > 0 {
				pipe.Set(ctx, latestKey(deviceID), raw, s.cfg.LatestKeyTTL)
			} else {
				pipe.Set(ctx, latestKey(deviceID), raw, 0)
			}
			pipe.ZAdd(ctx, deviceIndexKey, redis.Z{
				Score:  float64(updatedAt.Unix()),
				Member: deviceID,
			})
		}
		return nil
	})
	if err != nil {
		return apperrors.NewTransientStore("write_latest_batch", err)
	}
	return nil
}

// GetLatest returns the most recently stored position for one device.
func (s *Store) GetLatest(ctx context.Context, deviceID string) (position.Position, bool, error) {
	raw, err := s.rdb.Get(ctx, latestKey(deviceID)).Bytes()
	if err == redis.Nil {
		return position.Position{}, false, nil
	}
	if err != nil {
		return position.Position{}, false, apperrors.NewTransientStore("get_latest", err)
	}

	p, err := fromLatestRecord(raw)
	if err != nil {
		return position.Position{}, false, err
	}
	return p, true, nil
}

// GetLatestMany returns the most recent position for each requested
// device, in one pipelined round trip. Devices with no stored position
// are simply absent from the result.
func (s *Store) GetLatestMany(ctx context.Context, deviceIDs []string) (map[string]position.Position, error) {
	if len(deviceIDs) == 0 {
		return map[string]position.Position{}, nil
	}

	cmds := make([]*redis.StringCmd, len(deviceIDs))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range deviceIDs {
			cmds[i] = pipe.Get(ctx, latestKey(id))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, apperrors.NewTransientStore("get_latest_many", err)
	}

	result := make(map[string]position.Position, len(deviceIDs))
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, apperrors.NewTransientStore("get_latest_many", err)
		}
		p, err := fromLatestRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("decode position for %s: %w", deviceIDs[i], err)
		}
		result[deviceIDs[i]] = p
	}
	return result, nil
}

// HistoryLength returns the current size of the global history list.
func (s *Store) HistoryLength(ctx context.Context) (int64, error) {
	n, err := s.rdb.LLen(ctx, historyKey).Result()
	if err != nil {
		return 0, apperrors.NewTransientStore("history_length", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
