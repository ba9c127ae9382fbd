// Package geo provides the pure geodesy helpers shared by the tracking
// session, the sync manager and the geofence evaluator: great-circle
// distance and bearing, speed derivation, movement classification and
// slippy-map tile addressing. No state, no I/O.
package geo

import (
	"math"
	"strconv"
	"strings"
	"time"

	"fieldtrack/location-agent/internal/models"
)

const earthRadiusMeters = 6371000.0

// Movement classification boundaries, in km/h.
const (
	walkingMinKmh = 1.0
	drivingMinKmh = 10.0
	drivingMaxKmh = 80.0
)

// DistanceMeters returns the haversine great-circle distance between two
// points given in degrees. Symmetric; zero for identical points.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180.0
	phi2 := lat2 * math.Pi / 180.0
	dPhi := (lat2 - lat1) * math.Pi / 180.0
	dLambda := (lng2 - lng1) * math.Pi / 180.0

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// BearingDegrees returns the initial great-circle bearing from the first
// point to the second, normalized to [0, 360).
func BearingDegrees(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180.0
	phi2 := lat2 * math.Pi / 180.0
	dLambda := (lng2 - lng1) * math.Pi / 180.0

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)

	deg := math.Atan2(y, x) * 180.0 / math.Pi
	return math.Mod(deg+360.0, 360.0)
}

// SpeedKmh derives speed from a distance covered over an elapsed time.
// Returns 0 when elapsed is zero or negative.
func SpeedKmh(distanceMeters, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	return (distanceMeters / elapsedSeconds) * 3.6
}

// ClassifyMovement buckets an instantaneous speed. Speeds outside the
// realistic range (GPS noise spikes, negative values) classify as unknown.
func ClassifyMovement(speedKmh float64) models.MovementType {
	switch {
	case speedKmh >= 0 && speedKmh < walkingMinKmh:
		return models.MovementStationary
	case speedKmh >= walkingMinKmh && speedKmh < drivingMinKmh:
		return models.MovementWalking
	case speedKmh >= drivingMinKmh && speedKmh < drivingMaxKmh:
		return models.MovementDriving
	default:
		return models.MovementUnknown
	}
}

// TileXY converts a coordinate to its slippy-map tile index at the given
// zoom level. Deterministic; used only for tile cache addressing.
func TileXY(lat, lng float64, zoom int) (x, y int) {
	n := math.Pow(2, float64(zoom))
	latRad := lat * math.Pi / 180.0

	x = int(math.Floor((lng + 180.0) / 360.0 * n))
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	max := int(n) - 1
	if x < 0 {
		x = 0
	} else if x > max {
		x = max
	}
	if y < 0 {
		y = 0
	} else if y > max {
		y = max
	}
	return x, y
}

// TileURL expands the {z}/{x}/{y} placeholders of a tile provider URL
// template. The result is the tile's cache key.
func TileURL(template string, z, x, y int) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	)
	return r.Replace(template)
}

// WithinGeofence reports whether a point lies inside a circular boundary.
func WithinGeofence(lat, lng float64, fence models.CachedGeofence) bool {
	return DistanceMeters(lat, lng, fence.CenterLat, fence.CenterLng) <= fence.RadiusMeters
}

// ETA returns the travel time for a distance at a given speed. The second
// return is false when the speed is zero or unknown, in which case no
// estimate exists.
func ETA(distanceMeters, speedKmh float64) (time.Duration, bool) {
	if speedKmh <= 0 {
		return 0, false
	}
	hours := (distanceMeters / 1000.0) / speedKmh
	return time.Duration(hours * float64(time.Hour)), true
}
