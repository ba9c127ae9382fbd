package store

import (
	"database/sql"
	"fmt"

	"fieldtrack/location-agent/internal/models"

	"go.uber.org/zap"
)

// Geofences mirrors the remote circular boundaries for offline
// evaluation. Replaced wholesale on refresh, read-only otherwise.
type Geofences struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewGeofences(db *sql.DB, logger *zap.Logger) *Geofences {
	return &Geofences{db: db, logger: logger}
}

// ReplaceAll swaps the cached geofence set.
func (g *Geofences) ReplaceAll(fences []models.CachedGeofence) error {
	tx, err := g.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM geofences`); err != nil {
		return fmt.Errorf("failed to clear geofences: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO geofences (id, name, center_lat, center_lng, radius_m, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, fence := range fences {
		_, err := stmt.Exec(fence.ID, fence.Name, fence.CenterLat, fence.CenterLng,
			fence.RadiusMeters, boolToInt(fence.Active))
		if err != nil {
			return fmt.Errorf("failed to insert geofence: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	g.logger.Debug("Geofence cache replaced", zap.Int("count", len(fences)))
	return nil
}

// Get returns one cached geofence by ID, or nil when absent.
func (g *Geofences) Get(id string) (*models.CachedGeofence, error) {
	row := g.db.QueryRow(`
		SELECT id, name, center_lat, center_lng, radius_m, active
		FROM geofences WHERE id = ?
	`, id)

	fence, err := scanGeofence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get geofence: %w", err)
	}
	return fence, nil
}

// GetAll returns every cached geofence.
func (g *Geofences) GetAll() ([]models.CachedGeofence, error) {
	return g.query(`SELECT id, name, center_lat, center_lng, radius_m, active FROM geofences`)
}

// Active returns only the fences flagged active. Served by the active
// index.
func (g *Geofences) Active() ([]models.CachedGeofence, error) {
	return g.query(`
		SELECT id, name, center_lat, center_lng, radius_m, active
		FROM geofences WHERE active = 1
	`)
}

// Count returns the number of cached geofences.
func (g *Geofences) Count() (int, error) {
	var count int
	if err := g.db.QueryRow(`SELECT COUNT(*) FROM geofences`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count geofences: %w", err)
	}
	return count, nil
}

// Clear drops the cached set.
func (g *Geofences) Clear() error {
	if _, err := g.db.Exec(`DELETE FROM geofences`); err != nil {
		return fmt.Errorf("failed to clear geofences: %w", err)
	}
	return nil
}

func (g *Geofences) query(q string, args ...interface{}) ([]models.CachedGeofence, error) {
	rows, err := g.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query geofences: %w", err)
	}
	defer rows.Close()

	var fences []models.CachedGeofence
	for rows.Next() {
		fence, err := scanGeofence(rows)
		if err != nil {
			g.logger.Error("Failed to scan geofence row", zap.Error(err))
			continue
		}
		fences = append(fences, *fence)
	}
	return fences, rows.Err()
}

func scanGeofence(row rowScanner) (*models.CachedGeofence, error) {
	var fence models.CachedGeofence
	var active int

	err := row.Scan(&fence.ID, &fence.Name, &fence.CenterLat, &fence.CenterLng,
		&fence.RadiusMeters, &active)
	if err != nil {
		return nil, err
	}

	fence.Active = active != 0
	return &fence, nil
}
