package position

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "gps-ingest-gateway/pkg/errors"
)

var deviceIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// validatable is the struct-tag-driven half of validation: the ranges
// that map cleanly onto go-playground/validator, grounded on the
// teacher's use of the same library for its device/shipment request
// DTOs. Cross-field/time-window checks (max_age, max_future, device_id
// charset) don't fit struct tags and are done by hand in Validate.
type validatable struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lng float64 `validate:"gte=-180,lte=180"`
}

var validate = validator.New()

// Limits bundles the configurable validation windows from spec §4.1.
type Limits struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// Validate applies spec §4.1's validation rules to an already-normalized
// Position, returning an *apperrors.InvalidError describing the first
// failure found.
func Validate(p Position, now time.Time, limits Limits) error {
	if p.DeviceID == "" {
		return apperrors.NewInvalid("device_id", "is required")
	}
	if len(p.DeviceID) > maxDeviceIDLen {
		return apperrors.NewInvalid("device_id", "exceeds maximum length of 50 characters")
	}
	if !deviceIDRe.MatchString(p.DeviceID) {
		return apperrors.NewInvalid("device_id", "must match [A-Za-z0-9_-]+")
	}

	if err := validate.Struct(validatable{Lat: p.Lat, Lng: p.Lng}); err != nil {
		if p.Lat < -90 || p.Lat > 90 {
			return apperrors.NewInvalid("lat", "must be between -90 and 90")
		}
		return apperrors.NewInvalid("lng", "must be between -180 and 180")
	}

	if p.Timestamp.IsZero() {
		return apperrors.NewInvalid("timestamp", "is required")
	}

	oldestAllowed := now.Add(-limits.MaxAge)
	if p.Timestamp.Before(oldestAllowed) {
		return apperrors.NewInvalid("timestamp", "older than max_age")
	}
	newestAllowed := now.Add(limits.MaxFuture)
	if p.Timestamp.After(newestAllowed) {
		return apperrors.NewInvalid("timestamp", "further in the future than max_future")
	}

	return nil
}
