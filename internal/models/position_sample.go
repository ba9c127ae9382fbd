package models

import "time"

// ConnectionState is the device's network state at capture time.
type ConnectionState string

const (
	ConnectionOnline  ConnectionState = "online"
	ConnectionOffline ConnectionState = "offline"
)

// MovementType classifies a sample by instantaneous speed.
type MovementType string

const (
	MovementStationary MovementType = "stationary"
	MovementWalking    MovementType = "walking"
	MovementDriving    MovementType = "driving"
	MovementUnknown    MovementType = "unknown"
)

// PositionSample is one enriched, locally persisted location fix.
// A sample is never mutated after insert except to flip Synced,
// and is pruned only after it has synced.
type PositionSample struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Latitude        float64         `json:"latitude"`
	Longitude       float64         `json:"longitude"`
	AccuracyMeters  *float64        `json:"accuracyMeters,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	BatteryPercent  *int            `json:"batteryPercent,omitempty"`
	ConnectionState ConnectionState `json:"connectionState"`
	WorkItemID      *string         `json:"workItemId,omitempty"`
	SpeedKmh        *float64        `json:"speedKmh,omitempty"`
	HeadingDegrees  *float64        `json:"headingDegrees,omitempty"`
	AltitudeMeters  *float64        `json:"altitudeMeters,omitempty"`
	Address         *string         `json:"address,omitempty"`
	MovementType    MovementType    `json:"movementType"`
	Synced          bool            `json:"synced"`
	CapturedOffline time.Time       `json:"capturedOfflineAt"`
}

// DeviceFix is one raw location observation from the device, before
// filtering and enrichment.
type DeviceFix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracy,omitempty"`
	SpeedMs        *float64  `json:"speed,omitempty"` // metres per second, as reported
	HeadingDegrees *float64  `json:"heading,omitempty"`
	AltitudeMeters *float64  `json:"altitude,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// MovementStats summarises stored samples over a trailing window.
type MovementStats struct {
	TotalDistanceKm float64 `json:"totalDistanceKm"`
	AverageSpeedKmh float64 `json:"averageSpeedKmh"`
	MaxSpeedKmh     float64 `json:"maxSpeedKmh"`
	ActiveMinutes   float64 `json:"activeMinutes"`
	IdleMinutes     float64 `json:"idleMinutes"`
	PointCount      int     `json:"pointCount"`
}
