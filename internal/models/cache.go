package models

import "time"

// CachedWorkItem is a read-only snapshot of a remotely owned work
// assignment. The whole set for a user is replaced on each refresh;
// entries are never partially patched.
type CachedWorkItem struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Payload     string    `json:"payload"` // raw remote document, JSON
	RefreshedAt time.Time `json:"refreshedAt"`
}

// CachedTile is one map tile keyed by its provider URL. A tile older
// than the freshness window is treated as a miss, not deleted.
type CachedTile struct {
	URL       string    `json:"url"`
	Zoom      int       `json:"zoom"`
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Image     []byte    `json:"-"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Fresh reports whether the tile is still within the freshness window.
func (t CachedTile) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(t.FetchedAt) <= window
}

// CachedGeofence mirrors a remote circular boundary for offline
// containment checks. The authoritative copy lives remotely.
type CachedGeofence struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	CenterLat    float64 `json:"centerLat"`
	CenterLng    float64 `json:"centerLng"`
	RadiusMeters float64 `json:"radiusMeters"`
	Active       bool    `json:"active"`
}

// StorageStats reports per-collection counts and an estimated total
// size, for the status surface.
type StorageStats struct {
	SampleCount    int   `json:"sampleCount"`
	UnsyncedCount  int   `json:"unsyncedCount"`
	WorkItemCount  int   `json:"workItemCount"`
	TileCount      int   `json:"tileCount"`
	GeofenceCount  int   `json:"geofenceCount"`
	EstimatedBytes int64 `json:"estimatedBytes"`
}
