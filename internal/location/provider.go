// Package location defines the device-location boundary: a Provider
// delivering raw fixes (a live subscription plus a one-shot read for the
// fallback poller) and a best-effort reverse Geocoder.
package location

import (
	"context"
	"fmt"

	"fieldtrack/location-agent/internal/models"
)

// Provider is the device location API. Watch delivers fixes to the
// callback until the context is cancelled; Current performs one
// on-demand read. Both may fail with PermissionError or TimeoutError.
type Provider interface {
	Watch(ctx context.Context, onFix func(models.DeviceFix)) error
	Current(ctx context.Context) (models.DeviceFix, error)
}

// Geocoder resolves a coordinate to a human-readable address. The
// second return is false when no address could be resolved; that is a
// valid outcome, never an error.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (string, bool)
}

// PermissionError means location access was refused. Fatal to the
// tracking session; surfaced to the caller.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("location permission denied: %s", e.Reason)
}

// TimeoutError means a single fix could not be obtained in time. Never
// fatal; the next watch event or poll tick retries naturally.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("location request timed out: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}
