package syncer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"fieldtrack/location-agent/internal/geo"
	"fieldtrack/location-agent/internal/models"

	"go.uber.org/zap"
)

// BoundingBox is a geographic rectangle for tile prefetch.
type BoundingBox struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// PrefetchResult summarises one prefetch run.
type PrefetchResult struct {
	Fetched int
	Skipped int
	Failed  int
}

// PrefetchTiles downloads every tile covering the box at the given zoom
// levels, skipping tiles already cached and fresh. Fetches are paced by
// a client-side rate limiter so the provider sees at most one request
// per TileFetchEvery. A failed tile is logged and skipped; the run
// continues.
func (m *Manager) PrefetchTiles(ctx context.Context, box BoundingBox, zooms []int) (PrefetchResult, error) {
	var result PrefetchResult
	if m.tiles == nil {
		return result, ErrNoStore{}
	}

	limiter := rate.NewLimiter(rate.Every(m.cfg.TileFetchEvery), 1)
	now := time.Now()

	for _, zoom := range zooms {
		// Tile y grows southward, so the box's max latitude gives the
		// smaller y index.
		minX, maxY := geo.TileXY(box.MinLat, box.MinLng, zoom)
		maxX, minY := geo.TileXY(box.MaxLat, box.MaxLng, zoom)
		if minX > maxX {
			minX, maxX = maxX, minX
		}
		if minY > maxY {
			minY, maxY = maxY, minY
		}

		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				url := geo.TileURL(m.cfg.TileURLTemplate, zoom, x, y)

				cached, err := m.tiles.Get(url)
				if err == nil && cached != nil && cached.Fresh(now, m.cfg.TileFreshness) {
					result.Skipped++
					continue
				}

				if err := limiter.Wait(ctx); err != nil {
					return result, err
				}

				image, err := m.fetchTile(ctx, url)
				if err != nil {
					result.Failed++
					m.logger.Warn("Tile fetch failed",
						zap.Error(err),
						zap.String("url", url),
					)
					continue
				}

				tile := &models.CachedTile{
					URL:       url,
					Zoom:      zoom,
					X:         x,
					Y:         y,
					Image:     image,
					FetchedAt: time.Now(),
				}
				if err := m.tiles.Put(tile); err != nil {
					result.Failed++
					m.logger.Error("Failed to cache tile", zap.Error(err), zap.String("url", url))
					continue
				}
				result.Fetched++
			}
		}
	}

	m.logger.Info("Tile prefetch finished",
		zap.Int("fetched", result.Fetched),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// GetTile serves a cached tile if it is fresh, fetching and re-caching
// it otherwise. Stale cache content is returned as a last resort when
// the re-fetch fails.
func (m *Manager) GetTile(ctx context.Context, zoom, x, y int) (*models.CachedTile, error) {
	if m.tiles == nil {
		return nil, ErrNoStore{}
	}

	url := geo.TileURL(m.cfg.TileURLTemplate, zoom, x, y)
	cached, err := m.tiles.Get(url)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.Fresh(time.Now(), m.cfg.TileFreshness) {
		return cached, nil
	}

	image, err := m.fetchTile(ctx, url)
	if err != nil {
		if cached != nil {
			m.logger.Debug("Serving stale tile, re-fetch failed", zap.String("url", url))
			return cached, nil
		}
		return nil, err
	}

	tile := &models.CachedTile{
		URL:       url,
		Zoom:      zoom,
		X:         x,
		Y:         y,
		Image:     image,
		FetchedAt: time.Now(),
	}
	if err := m.tiles.Put(tile); err != nil {
		m.logger.Error("Failed to cache tile", zap.Error(err), zap.String("url", url))
	}
	return tile, nil
}

func (m *Manager) fetchTile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.tileClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tile request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile provider returned status %d", resp.StatusCode)
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile body: %w", err)
	}
	return image, nil
}
