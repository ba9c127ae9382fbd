// Package store holds one repository per local collection: position
// samples, cached work items, cached map tiles and cached geofences.
// Writes within one call run in a single transaction; no operation
// spans two collections.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"fieldtrack/location-agent/internal/models"

	"go.uber.org/zap"
)

// Samples is the position-sample collection. Rows with synced=0 form
// the durable retry queue; the secondary index on synced keeps sweep
// queries from scanning the whole table.
type Samples struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSamples(db *sql.DB, logger *zap.Logger) *Samples {
	return &Samples{db: db, logger: logger}
}

const sampleColumns = `id, user_id, latitude, longitude, accuracy_m, timestamp,
	battery_pct, connection_state, work_item_id, speed_kmh, heading_deg,
	altitude_m, address, movement_type, synced, captured_offline_at`

// Insert durably records a sample. The sample's CapturedOffline field is
// stamped here: it is the wall-clock of first durable recording. Times
// are stored in UTC so that range comparisons stay lexicographic.
func (s *Samples) Insert(sample *models.PositionSample) error {
	sample.CapturedOffline = time.Now().UTC()
	sample.Timestamp = sample.Timestamp.UTC()

	_, err := s.db.Exec(`
		INSERT INTO position_samples (`+sampleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sample.ID,
		sample.UserID,
		sample.Latitude,
		sample.Longitude,
		sample.AccuracyMeters,
		sample.Timestamp,
		sample.BatteryPercent,
		sample.ConnectionState,
		sample.WorkItemID,
		sample.SpeedKmh,
		sample.HeadingDegrees,
		sample.AltitudeMeters,
		sample.Address,
		sample.MovementType,
		boolToInt(sample.Synced),
		sample.CapturedOffline,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// Get returns one sample by ID, or nil when absent.
func (s *Samples) Get(id string) (*models.PositionSample, error) {
	row := s.db.QueryRow(`
		SELECT `+sampleColumns+` FROM position_samples WHERE id = ?
	`, id)

	sample, err := scanSample(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sample: %w", err)
	}
	return sample, nil
}

// GetAll returns every stored sample ordered by capture time.
func (s *Samples) GetAll() ([]models.PositionSample, error) {
	return s.query(`SELECT ` + sampleColumns + ` FROM position_samples ORDER BY timestamp ASC`)
}

// Unsynced returns the retry queue: samples not yet delivered remotely,
// oldest first. Served by the synced index.
func (s *Samples) Unsynced() ([]models.PositionSample, error) {
	return s.query(`
		SELECT `+sampleColumns+` FROM position_samples
		WHERE synced = 0
		ORDER BY timestamp ASC
	`)
}

// ByUserSince returns a user's samples captured at or after the cutoff,
// ordered by capture time. Served by the (user_id, timestamp) index.
func (s *Samples) ByUserSince(userID string, since time.Time) ([]models.PositionSample, error) {
	return s.query(`
		SELECT `+sampleColumns+` FROM position_samples
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`, userID, since.UTC())
}

// MarkSynced flips the sync bit. The only mutation a sample ever sees.
func (s *Samples) MarkSynced(id string) error {
	if _, err := s.db.Exec(`UPDATE position_samples SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark sample synced: %w", err)
	}
	return nil
}

// DeleteSyncedBefore prunes synced samples older than the cutoff.
// Unsynced samples are never pruned regardless of age.
func (s *Samples) DeleteSyncedBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM position_samples WHERE synced = 1 AND timestamp < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune samples: %w", err)
	}

	removed, _ := result.RowsAffected()
	if removed > 0 {
		s.logger.Info("Pruned synced samples",
			zap.Int64("count", removed),
			zap.Time("cutoff", cutoff),
		)
	}
	return removed, nil
}

// Count returns the total number of stored samples.
func (s *Samples) Count() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM position_samples`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}
	return count, nil
}

// UnsyncedCount returns the retry-queue depth.
func (s *Samples) UnsyncedCount() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM position_samples WHERE synced = 0`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unsynced samples: %w", err)
	}
	return count, nil
}

// Clear drops every sample, synced or not.
func (s *Samples) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM position_samples`); err != nil {
		return fmt.Errorf("failed to clear samples: %w", err)
	}
	return nil
}

func (s *Samples) query(q string, args ...interface{}) ([]models.PositionSample, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []models.PositionSample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			s.logger.Error("Failed to scan sample row", zap.Error(err))
			continue
		}
		samples = append(samples, *sample)
	}
	return samples, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSample(row rowScanner) (*models.PositionSample, error) {
	var sample models.PositionSample
	var synced int

	err := row.Scan(
		&sample.ID,
		&sample.UserID,
		&sample.Latitude,
		&sample.Longitude,
		&sample.AccuracyMeters,
		&sample.Timestamp,
		&sample.BatteryPercent,
		&sample.ConnectionState,
		&sample.WorkItemID,
		&sample.SpeedKmh,
		&sample.HeadingDegrees,
		&sample.AltitudeMeters,
		&sample.Address,
		&sample.MovementType,
		&synced,
		&sample.CapturedOffline,
	)
	if err != nil {
		return nil, err
	}

	sample.Synced = synced != 0
	return &sample, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
