package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
	logger *zap.Logger
}

// New opens (or creates) the local store and applies migrations. Safe to
// call from multiple code paths; database/sql serializes access to the
// single handle. Callers must treat a returned error as "no local cache"
// and continue with remote-only delivery.
func New(storagePath string, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", storagePath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{
		DB:     db,
		logger: logger,
	}

	if err := database.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Database connection established", zap.String("path", storagePath))
	return database, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		// Position samples; synced=0 rows form the retry queue
		`CREATE TABLE IF NOT EXISTS position_samples (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			accuracy_m REAL,
			timestamp TIMESTAMP NOT NULL,
			battery_pct INTEGER,
			connection_state TEXT NOT NULL,
			work_item_id TEXT,
			speed_kmh REAL,
			heading_deg REAL,
			altitude_m REAL,
			address TEXT,
			movement_type TEXT NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0,
			captured_offline_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_synced ON position_samples(synced)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_user ON position_samples(user_id, timestamp)`,
		// Cached work assignments, replaced wholesale on refresh
		`CREATE TABLE IF NOT EXISTS work_items (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			refreshed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_items_user ON work_items(user_id)`,
		// Map tile cache, keyed by provider URL
		`CREATE TABLE IF NOT EXISTS map_tiles (
			url TEXT PRIMARY KEY,
			zoom INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			image BLOB NOT NULL,
			fetched_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tiles_zxy ON map_tiles(zoom, x, y)`,
		// Cached geofence mirrors for offline evaluation
		`CREATE TABLE IF NOT EXISTS geofences (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			center_lat REAL NOT NULL,
			center_lng REAL NOT NULL,
			radius_m REAL NOT NULL,
			active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_geofences_active ON geofences(active)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	db.logger.Info("Database migrations completed")
	return nil
}

func (db *DB) Close() error {
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.logger.Info("Database connection closed")
	return nil
}
