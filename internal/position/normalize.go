package position

import (
	"fmt"
	"strconv"
	"time"
)

// Normalize applies spec §4.1's normalization rules to a RawPosition:
// id/device_id aliasing, lat/lng aliasing, numeric-string coercion,
// timestamp defaulting, received_at stamping, and lifting the
// recognized top-level keys (speed, heading, altitude, accuracy) into
// metadata alongside any user-supplied metadata keys (preserved
// verbatim). It does not validate ranges; call Validate afterward.
func Normalize(raw RawPosition, now time.Time) (Position, error) {
	deviceID := raw.DeviceID
	if deviceID == "" {
		deviceID = raw.ID
	}

	lat, latOK := firstNumeric(raw.Lat, raw.Latitude)
	lng, lngOK := firstNumeric(raw.Lng, raw.Longitude)
	if !latOK {
		return Position{}, fmt.Errorf("lat/latitude missing or not numeric")
	}
	if !lngOK {
		return Position{}, fmt.Errorf("lng/longitude missing or not numeric")
	}

	ts := now
	if raw.Timestamp != nil {
		parsed, err := parseTimestamp(raw.Timestamp)
		if err != nil {
			return Position{}, fmt.Errorf("timestamp: %w", err)
		}
		ts = parsed
	}

	metadata := make(map[string]interface{}, len(raw.Metadata)+4)
	for k, v := range raw.Metadata {
		metadata[k] = v
	}
	liftIfPresent(metadata, "speed", raw.Speed)
	liftIfPresent(metadata, "heading", raw.Heading)
	liftIfPresent(metadata, "altitude", raw.Altitude)
	liftIfPresent(metadata, "accuracy", raw.Accuracy)

	return Position{
		DeviceID:   deviceID,
		Lat:        lat,
		Lng:        lng,
		Timestamp:  ts,
		ReceivedAt: now,
		Metadata:   metadata,
	}, nil
}

func liftIfPresent(metadata map[string]interface{}, key string, value interface{}) {
	if value == nil {
		return
	}
	if _, exists := metadata[key]; exists {
		return
	}
	metadata[key] = value
}

// firstNumeric returns the first of the given values that coerces to a
// float64, accepting both numbers and numeric strings (spec §4.1:
// "coerces numeric strings").
func firstNumeric(values ...interface{}) (float64, bool) {
	for _, v := range values {
		if f, ok := toFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// parseTimestamp accepts a time.Time, RFC3339 string, or numeric epoch
// (seconds or milliseconds) — the shapes an HTTP/JSON or MQTT payload
// is likely to carry.
func parseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, nil
		}
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return epochToTime(f), nil
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", t)
	case float64:
		return epochToTime(t), nil
	case int64:
		return epochToTime(float64(t)), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func epochToTime(f float64) time.Time {
	if f > 1e12 {
		// Milliseconds.
		return time.UnixMilli(int64(f))
	}
	return time.Unix(int64(f), 0)
}
