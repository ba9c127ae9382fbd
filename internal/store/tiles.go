package store

import (
	"database/sql"
	"fmt"

	"fieldtrack/location-agent/internal/models"

	"go.uber.org/zap"
)

// Tiles is the map-tile cache, keyed by the tile's provider URL. A stale
// tile is a cache miss for the prefetcher but stays readable for map
// rendering until overwritten.
type Tiles struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewTiles(db *sql.DB, logger *zap.Logger) *Tiles {
	return &Tiles{db: db, logger: logger}
}

// Put inserts or replaces a tile.
func (t *Tiles) Put(tile *models.CachedTile) error {
	tile.FetchedAt = tile.FetchedAt.UTC()
	_, err := t.db.Exec(`
		INSERT INTO map_tiles (url, zoom, x, y, image, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			image = excluded.image,
			fetched_at = excluded.fetched_at
	`, tile.URL, tile.Zoom, tile.X, tile.Y, tile.Image, tile.FetchedAt)
	if err != nil {
		return fmt.Errorf("failed to put tile: %w", err)
	}
	return nil
}

// Get returns the cached tile for a URL, or nil when absent. Freshness
// is the caller's decision.
func (t *Tiles) Get(url string) (*models.CachedTile, error) {
	var tile models.CachedTile
	err := t.db.QueryRow(`
		SELECT url, zoom, x, y, image, fetched_at FROM map_tiles WHERE url = ?
	`, url).Scan(&tile.URL, &tile.Zoom, &tile.X, &tile.Y, &tile.Image, &tile.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tile: %w", err)
	}
	return &tile, nil
}

// ByZoom returns every cached tile at one zoom level. Served by the
// (zoom, x, y) index.
func (t *Tiles) ByZoom(zoom int) ([]models.CachedTile, error) {
	rows, err := t.db.Query(`
		SELECT url, zoom, x, y, image, fetched_at FROM map_tiles
		WHERE zoom = ?
		ORDER BY x, y
	`, zoom)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiles: %w", err)
	}
	defer rows.Close()

	var tiles []models.CachedTile
	for rows.Next() {
		var tile models.CachedTile
		if err := rows.Scan(&tile.URL, &tile.Zoom, &tile.X, &tile.Y, &tile.Image, &tile.FetchedAt); err != nil {
			t.logger.Error("Failed to scan tile row", zap.Error(err))
			continue
		}
		tiles = append(tiles, tile)
	}
	return tiles, rows.Err()
}

// Count returns the number of cached tiles.
func (t *Tiles) Count() (int, error) {
	var count int
	if err := t.db.QueryRow(`SELECT COUNT(*) FROM map_tiles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tiles: %w", err)
	}
	return count, nil
}

// ImageBytes returns the summed size of all cached tile images, the
// dominant term in the storage estimate.
func (t *Tiles) ImageBytes() (int64, error) {
	var total sql.NullInt64
	if err := t.db.QueryRow(`SELECT SUM(LENGTH(image)) FROM map_tiles`).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum tile bytes: %w", err)
	}
	return total.Int64, nil
}

// Clear drops the whole tile cache.
func (t *Tiles) Clear() error {
	if _, err := t.db.Exec(`DELETE FROM map_tiles`); err != nil {
		return fmt.Errorf("failed to clear tiles: %w", err)
	}
	return nil
}
