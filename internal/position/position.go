// Package position holds the canonical GPS data model shared by the
// Processor, BatchAccumulator, JobQueue and Store: Position itself,
// the two batch shapes it's accumulated into, and the normalization/
// validation logic that turns an arbitrary raw report into one.
//
// Grounded on the teacher's internal/ingestion/models.go
// (SensorDataMessage/LocationDataMessage) and validator.go.
package position

import "time"

// deviceIDRe (validate.go) and maxDeviceIDLen implement spec §3's device_id rule:
// non-empty, <=50 chars, matching [A-Za-z0-9_-]+.
const maxDeviceIDLen = 50

// Position is the canonical, immutable-once-produced GPS record.
type Position struct {
	DeviceID   string                 `json:"deviceId"`
	Lat        float64                `json:"lat"`
	Lng        float64                `json:"lng"`
	Timestamp  time.Time              `json:"timestamp"`
	ReceivedAt time.Time              `json:"receivedAt"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// RawPosition is the loosely-typed shape accepted from an adapter
// (HTTP JSON body or MQTT payload) before normalization. Every field
// is optional at this stage except the identifier, which may arrive
// as either "id" or "device_id".
type RawPosition struct {
	ID        string                 `json:"id,omitempty"`
	DeviceID  string                 `json:"device_id,omitempty"`
	Lat       interface{}            `json:"lat,omitempty"`
	Latitude  interface{}            `json:"latitude,omitempty"`
	Lng       interface{}            `json:"lng,omitempty"`
	Longitude interface{}            `json:"longitude,omitempty"`
	Timestamp interface{}            `json:"timestamp,omitempty"`
	Speed     interface{}            `json:"speed,omitempty"`
	Heading   interface{}            `json:"heading,omitempty"`
	Altitude  interface{}            `json:"altitude,omitempty"`
	Accuracy  interface{}            `json:"accuracy,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// HistoryBatch is an ordered sequence of Position produced by a single
// BatchAccumulator flush of the history buffer.
type HistoryBatch struct {
	BatchID   string     `json:"batchId"`
	Positions []Position `json:"positions"`
	CreatedAt time.Time  `json:"createdAt"`
	Count     int        `json:"count"`
}

// LatestBatch is the collapsed device_id -> Position map produced by a
// flush of the latest-map.
type LatestBatch struct {
	BatchID   string               `json:"batchId"`
	Positions map[string]Position `json:"positions"`
	CreatedAt time.Time            `json:"createdAt"`
	Count     int                  `json:"count"`
}

// MergeLatest collapses a list of positions down to one entry per
// device, keeping the greatest timestamp; ties are broken by the later
// entry in iteration order (spec §5 ordering guarantee 3: "later
// arrival" wins a tie).
func MergeLatest(positions []Position) map[string]Position {
	latest := make(map[string]Position, len(positions))
	for _, p := range positions {
		current, ok := latest[p.DeviceID]
		if !ok || !p.Timestamp.Before(current.Timestamp) {
			latest[p.DeviceID] = p
		}
	}
	return latest
}
