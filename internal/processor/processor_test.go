package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gps-ingest-gateway/internal/position"
	apperrors "gps-ingest-gateway/pkg/errors"
)

type recordingBus struct {
	events []string
}

func (b *recordingBus) Publish(topic string, _ interface{}) {
	b.events = append(b.events, topic)
}

func testConfig() Config {
	return Config{
		Limits:           position.Limits{MaxAge: time.Hour, MaxFuture: time.Minute},
		DuplicateEnabled: true,
		TimeThreshold:    time.Second,
		CoordThreshold:   0.0001,
		CacheSize:        10,
	}
}

func TestProcess_AcceptsValidPosition(t *testing.T) {
	bus := &recordingBus{}
	p := New(testConfig(), bus)

	res, err := p.Process(position.RawPosition{DeviceID: "d1", Lat: 1.0, Lng: 2.0})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Contains(t, bus.events, "position.processed")
}

func TestProcess_RejectsInvalidPositionWithoutEnqueueableResult(t *testing.T) {
	p := New(testConfig(), nil)

	_, err := p.Process(position.RawPosition{DeviceID: "", Lat: 1.0, Lng: 2.0})
	var invalid *apperrors.InvalidError
	assert.ErrorAs(t, err, &invalid)
}

func TestProcess_DetectsDuplicateWithinThresholds(t *testing.T) {
	p := New(testConfig(), nil)

	now := time.Now().UTC()
	p.now = func() time.Time { return now }

	_, err := p.Process(position.RawPosition{DeviceID: "d1", Lat: 1.0, Lng: 2.0, Timestamp: now})
	require.NoError(t, err)

	p.now = func() time.Time { return now.Add(200 * time.Millisecond) }
	res, err := p.Process(position.RawPosition{DeviceID: "d1", Lat: 1.00001, Lng: 2.00001, Timestamp: now.Add(200 * time.Millisecond)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
}

func TestProcess_NotDuplicateWhenCoordinateMoved(t *testing.T) {
	p := New(testConfig(), nil)

	now := time.Now().UTC()
	p.now = func() time.Time { return now }
	_, err := p.Process(position.RawPosition{DeviceID: "d1", Lat: 1.0, Lng: 2.0, Timestamp: now})
	require.NoError(t, err)

	res, err := p.Process(position.RawPosition{DeviceID: "d1", Lat: 5.0, Lng: 2.0, Timestamp: now})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
}

func TestProcess_NotDuplicateWhenDuplicateDetectionDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.DuplicateEnabled = false
	p := New(cfg, nil)

	now := time.Now().UTC()
	p.now = func() time.Time { return now }
	_, err := p.Process(position.RawPosition{DeviceID: "d1", Lat: 1.0, Lng: 2.0, Timestamp: now})
	require.NoError(t, err)

	res, err := p.Process(position.RawPosition{DeviceID: "d1", Lat: 1.0, Lng: 2.0, Timestamp: now})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
}

func TestProcessBatch_EveryIndexLandsInExactlyOneBucket(t *testing.T) {
	p := New(testConfig(), nil)

	raws := []position.RawPosition{
		{DeviceID: "d1", Lat: 1.0, Lng: 2.0},
		{DeviceID: "", Lat: 1.0, Lng: 2.0},
		{DeviceID: "d1", Lat: 1.0, Lng: 2.0},
	}

	result := p.ProcessBatch(raws)
	assert.Len(t, result.Accepted, 1)
	assert.Len(t, result.Errors, 1)
	assert.Len(t, result.Duplicates, 1)
	assert.Equal(t, len(raws), len(result.Accepted)+len(result.Duplicates)+len(result.Errors))
}

func TestCacheSize_ReflectsObservedDevices(t *testing.T) {
	p := New(testConfig(), nil)
	assert.Equal(t, 0, p.CacheSize())

	_, err := p.Process(position.RawPosition{DeviceID: "d1", Lat: 1.0, Lng: 2.0})
	require.NoError(t, err)
	assert.Equal(t, 1, p.CacheSize())
}
