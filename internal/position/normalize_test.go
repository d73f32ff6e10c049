package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_AliasesIDAndCoordinates(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	raw := RawPosition{
		ID:       "device-1",
		Latitude: "10.5",
		Longitude: 20.25,
	}

	pos, err := Normalize(raw, now)
	require.NoError(t, err)
	assert.Equal(t, "device-1", pos.DeviceID)
	assert.Equal(t, 10.5, pos.Lat)
	assert.Equal(t, 20.25, pos.Lng)
	assert.Equal(t, now, pos.Timestamp)
	assert.Equal(t, now, pos.ReceivedAt)
}

func TestNormalize_DeviceIDPrefersExplicitField(t *testing.T) {
	now := time.Now().UTC()
	raw := RawPosition{ID: "fallback", DeviceID: "explicit", Lat: 1.0, Lng: 2.0}

	pos, err := Normalize(raw, now)
	require.NoError(t, err)
	assert.Equal(t, "explicit", pos.DeviceID)
}

func TestNormalize_MissingCoordinatesIsError(t *testing.T) {
	now := time.Now().UTC()

	_, err := Normalize(RawPosition{DeviceID: "d1", Lng: 1.0}, now)
	assert.Error(t, err)

	_, err = Normalize(RawPosition{DeviceID: "d1", Lat: 1.0}, now)
	assert.Error(t, err)
}

func TestNormalize_LiftsRecognizedFieldsIntoMetadata(t *testing.T) {
	now := time.Now().UTC()
	raw := RawPosition{
		DeviceID: "d1",
		Lat:      1.0,
		Lng:      2.0,
		Speed:    12.5,
		Heading:  180.0,
		Metadata: map[string]interface{}{"tag": "fleet-a"},
	}

	pos, err := Normalize(raw, now)
	require.NoError(t, err)
	assert.Equal(t, 12.5, pos.Metadata["speed"])
	assert.Equal(t, 180.0, pos.Metadata["heading"])
	assert.Equal(t, "fleet-a", pos.Metadata["tag"])
}

func TestNormalize_ExplicitMetadataWinsOverLiftedField(t *testing.T) {
	now := time.Now().UTC()
	raw := RawPosition{
		DeviceID: "d1",
		Lat:      1.0,
		Lng:      2.0,
		Speed:    99.0,
		Metadata: map[string]interface{}{"speed": "already-set"},
	}

	pos, err := Normalize(raw, now)
	require.NoError(t, err)
	assert.Equal(t, "already-set", pos.Metadata["speed"])
}

func TestNormalize_TimestampDefaultsToNow(t *testing.T) {
	now := time.Now().UTC()
	pos, err := Normalize(RawPosition{DeviceID: "d1", Lat: 1.0, Lng: 2.0}, now)
	require.NoError(t, err)
	assert.Equal(t, now, pos.Timestamp)
}

func TestNormalize_TimestampAcceptsRFC3339AndEpochSecondsAndMillis(t *testing.T) {
	now := time.Now().UTC()

	pos, err := Normalize(RawPosition{DeviceID: "d1", Lat: 1, Lng: 2, Timestamp: "2026-01-01T00:00:00Z"}, now)
	require.NoError(t, err)
	assert.Equal(t, 2026, pos.Timestamp.Year())

	pos, err = Normalize(RawPosition{DeviceID: "d1", Lat: 1, Lng: 2, Timestamp: float64(1700000000)}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), pos.Timestamp.Unix())

	pos, err = Normalize(RawPosition{DeviceID: "d1", Lat: 1, Lng: 2, Timestamp: float64(1700000000000)}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), pos.Timestamp.Unix())
}

func TestNormalize_UnparseableTimestampIsError(t *testing.T) {
	now := time.Now().UTC()
	_, err := Normalize(RawPosition{DeviceID: "d1", Lat: 1, Lng: 2, Timestamp: "not-a-time"}, now)
	assert.Error(t, err)
}
