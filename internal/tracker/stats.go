package tracker

import (
	"fmt"
	"time"

	"fieldtrack/location-agent/internal/geo"
	"fieldtrack/location-agent/internal/models"
)

// HistoryStore is the read side of the sample collection used by the
// reporting helpers.
type HistoryStore interface {
	ByUserSince(userID string, since time.Time) ([]models.PositionSample, error)
}

// MovementStats walks a user's samples over a trailing window and
// accumulates distance, speed and active/idle time between consecutive
// points. Elapsed time between a pair counts as active when the derived
// speed exceeds the activity threshold.
func MovementStats(store HistoryStore, userID string, window time.Duration, activityThresholdKmh float64) (models.MovementStats, error) {
	if store == nil {
		return models.MovementStats{}, fmt.Errorf("no local store available")
	}

	samples, err := store.ByUserSince(userID, time.Now().Add(-window))
	if err != nil {
		return models.MovementStats{}, fmt.Errorf("failed to load samples: %w", err)
	}

	stats := models.MovementStats{PointCount: len(samples)}
	if len(samples) < 2 {
		return stats, nil
	}

	var totalMeters, totalSeconds float64
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]

		meters := geo.DistanceMeters(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)
		seconds := cur.Timestamp.Sub(prev.Timestamp).Seconds()
		if seconds <= 0 {
			continue
		}

		speed := geo.SpeedKmh(meters, seconds)
		totalMeters += meters
		totalSeconds += seconds

		if speed > stats.MaxSpeedKmh {
			stats.MaxSpeedKmh = speed
		}
		if speed > activityThresholdKmh {
			stats.ActiveMinutes += seconds / 60.0
		} else {
			stats.IdleMinutes += seconds / 60.0
		}
	}

	stats.TotalDistanceKm = totalMeters / 1000.0
	if totalSeconds > 0 {
		stats.AverageSpeedKmh = geo.SpeedKmh(totalMeters, totalSeconds)
	}
	return stats, nil
}

// EstimateETA returns the travel time from the current position to a
// destination at the given speed. The second return is false when the
// speed is zero or unknown.
func EstimateETA(curLat, curLng, destLat, destLng, speedKmh float64) (time.Duration, bool) {
	return geo.ETA(geo.DistanceMeters(curLat, curLng, destLat, destLng), speedKmh)
}
