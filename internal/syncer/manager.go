// Package syncer owns reconciliation with the remote store: the
// connectivity watcher, the periodic sweep over the unsynced retry
// queue, cache refresh for work items and geofences, rate-limited tile
// prefetch, retention pruning and storage introspection.
package syncer

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"fieldtrack/location-agent/internal/geo"
	"fieldtrack/location-agent/internal/models"
	"fieldtrack/location-agent/internal/store"
	"fieldtrack/location-agent/internal/tracker"

	"go.uber.org/zap"
)

// Remote is the slice of the remote store the manager needs.
type Remote interface {
	Upsert(ctx context.Context, collection string, payload interface{}, conflictKey string) error
	Query(ctx context.Context, collection, field, value string, out interface{}) error
	HealthCheck(ctx context.Context) error
}

// ErrOffline rejects operations that require connectivity.
type ErrOffline struct{}

func (ErrOffline) Error() string { return "remote store is offline" }

// ErrNoStore rejects cache operations while the local store is
// unavailable (degraded, remote-only mode).
type ErrNoStore struct{}

func (ErrNoStore) Error() string { return "local store unavailable" }

// Config carries the manager's timers and policy windows.
type Config struct {
	SweepInterval     time.Duration // periodic sync sweep
	ProbeInterval     time.Duration // connectivity health probe
	RetentionWindow   time.Duration // synced samples older than this are pruned
	RetentionInterval time.Duration // how often the retention sweep runs
	TileURLTemplate   string
	TileFreshness     time.Duration // tiles younger than this are cache hits
	TileFetchEvery    time.Duration // minimum gap between tile fetches

	ActivityThresholdKmh float64 // active/idle boundary for movement stats
}

// Manager drives all background reconciliation. Sweeps are idempotent
// per item (guarded by the synced flag), so overlapping invocations from
// the periodic timer and a connectivity transition are safe without
// mutual exclusion.
type Manager struct {
	remote     Remote
	samples    *store.Samples
	workItems  *store.WorkItems
	tiles      *store.Tiles
	geofences  *store.Geofences
	tileClient *http.Client
	cfg        Config
	logger     *zap.Logger

	mu     sync.RWMutex
	online bool

	stopChan chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager wires the sync manager. Any store may be nil; the matching
// responsibilities degrade to no-ops with an ErrNoStore where callers
// need an answer.
func NewManager(
	remote Remote,
	samples *store.Samples,
	workItems *store.WorkItems,
	tiles *store.Tiles,
	geofences *store.Geofences,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.RetentionInterval == 0 {
		cfg.RetentionInterval = time.Hour
	}
	return &Manager{
		remote:     remote,
		samples:    samples,
		workItems:  workItems,
		tiles:      tiles,
		geofences:  geofences,
		tileClient: &http.Client{Timeout: 15 * time.Second},
		cfg:        cfg,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the connectivity watcher, the periodic sweep and the
// retention timer.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(3)
	go m.probeLoop(ctx)
	go m.sweepLoop(ctx)
	go m.retentionLoop(ctx)

	m.logger.Info("Sync manager started",
		zap.Duration("sweep_interval", m.cfg.SweepInterval),
		zap.Duration("probe_interval", m.cfg.ProbeInterval),
	)
}

// Stop halts the timers. A sweep already in flight completes on its own.
func (m *Manager) Stop() {
	select {
	case <-m.stopChan:
		return
	default:
		close(m.stopChan)
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("Sync manager stopped")
}

// Online reports the last observed connectivity state. Satisfies the
// tracking session's Connectivity dependency.
func (m *Manager) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Sweep reconciles the unsynced retry queue with the remote store: each
// sample is upserted keyed by its owning user, then flagged synced.
// Failures stay queued for the next sweep; there is no backoff, the
// sweep cadence is the rate limit. Safe to invoke concurrently with
// itself.
func (m *Manager) Sweep(ctx context.Context) error {
	if m.samples == nil {
		return ErrNoStore{}
	}

	pending, err := m.samples.Unsynced()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	var delivered, failed int
	for i := range pending {
		sample := pending[i]

		// Re-read the sync bit: a concurrent sweep (periodic timer plus a
		// connectivity trigger) may have delivered this sample already.
		if current, err := m.samples.Get(sample.ID); err == nil && (current == nil || current.Synced) {
			continue
		}

		if err := m.remote.Upsert(ctx, tracker.LiveCollection, sample, "userId"); err != nil {
			failed++
			m.logger.Debug("Sweep delivery failed, sample stays queued",
				zap.Error(err),
				zap.String("sample_id", sample.ID),
			)
			continue
		}

		if err := m.samples.MarkSynced(sample.ID); err != nil {
			m.logger.Error("Failed to flag sample synced", zap.Error(err),
				zap.String("sample_id", sample.ID))
			continue
		}
		delivered++
	}

	m.logger.Info("Sync sweep finished",
		zap.Int("pending", len(pending)),
		zap.Int("delivered", delivered),
		zap.Int("failed", failed),
	)
	return nil
}

// RefreshWorkItems replaces a user's cached assignment set from the
// remote store. Requires connectivity and a local store.
func (m *Manager) RefreshWorkItems(ctx context.Context, userID string) error {
	if !m.Online() {
		return ErrOffline{}
	}
	if m.workItems == nil {
		return ErrNoStore{}
	}

	var docs []json.RawMessage
	if err := m.remote.Query(ctx, "work_items", "user_id", userID, &docs); err != nil {
		return err
	}

	items := make([]models.CachedWorkItem, 0, len(docs))
	for _, raw := range docs {
		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil || head.ID == "" {
			m.logger.Warn("Skipping work item without id")
			continue
		}
		items = append(items, models.CachedWorkItem{
			ID:      head.ID,
			UserID:  userID,
			Payload: string(raw),
		})
	}

	if err := m.workItems.ReplaceAll(userID, items); err != nil {
		return err
	}
	m.logger.Info("Work item cache refreshed",
		zap.String("user_id", userID),
		zap.Int("count", len(items)),
	)
	return nil
}

// RefreshGeofences replaces the cached geofence mirror from the remote
// store. Requires connectivity and a local store.
func (m *Manager) RefreshGeofences(ctx context.Context) error {
	if !m.Online() {
		return ErrOffline{}
	}
	if m.geofences == nil {
		return ErrNoStore{}
	}

	var fences []models.CachedGeofence
	if err := m.remote.Query(ctx, "geofences", "active", "true", &fences); err != nil {
		return err
	}

	if err := m.geofences.ReplaceAll(fences); err != nil {
		return err
	}
	m.logger.Info("Geofence cache refreshed", zap.Int("count", len(fences)))
	return nil
}

// EvaluateGeofences returns the cached active fences containing the
// point. Works entirely locally, which is what the mirror exists for.
func (m *Manager) EvaluateGeofences(lat, lng float64) ([]models.CachedGeofence, error) {
	if m.geofences == nil {
		return nil, ErrNoStore{}
	}

	active, err := m.geofences.Active()
	if err != nil {
		return nil, err
	}

	var inside []models.CachedGeofence
	for _, fence := range active {
		if geo.WithinGeofence(lat, lng, fence) {
			inside = append(inside, fence)
		}
	}
	return inside, nil
}

// MovementStats summarises a user's trail over a trailing window, for
// the dashboard consumers of the status surface.
func (m *Manager) MovementStats(userID string, window time.Duration) (models.MovementStats, error) {
	if m.samples == nil {
		return models.MovementStats{}, ErrNoStore{}
	}
	return tracker.MovementStats(m.samples, userID, window, m.cfg.ActivityThresholdKmh)
}

// RetentionSweep prunes synced samples older than the retention window.
// Unsynced samples are kept regardless of age: they must eventually sync
// or be cleared explicitly.
func (m *Manager) RetentionSweep() (int64, error) {
	if m.samples == nil {
		return 0, ErrNoStore{}
	}
	return m.samples.DeleteSyncedBefore(time.Now().Add(-m.cfg.RetentionWindow))
}

// Stats reports per-collection counts and an estimated total size.
func (m *Manager) Stats() (models.StorageStats, error) {
	var stats models.StorageStats
	if m.samples == nil {
		return stats, ErrNoStore{}
	}

	var err error
	if stats.SampleCount, err = m.samples.Count(); err != nil {
		return stats, err
	}
	if stats.UnsyncedCount, err = m.samples.UnsyncedCount(); err != nil {
		return stats, err
	}

	// The cache repositories may be absent individually; a missing one
	// simply contributes nothing to the report.
	if m.workItems != nil {
		if stats.WorkItemCount, err = m.workItems.Count(); err != nil {
			return stats, err
		}
	}
	if m.geofences != nil {
		if stats.GeofenceCount, err = m.geofences.Count(); err != nil {
			return stats, err
		}
	}

	var tileBytes int64
	if m.tiles != nil {
		if stats.TileCount, err = m.tiles.Count(); err != nil {
			return stats, err
		}
		if tileBytes, err = m.tiles.ImageBytes(); err != nil {
			return stats, err
		}
	}
	// Row-size estimates; tile imagery dominates in practice.
	stats.EstimatedBytes = tileBytes +
		int64(stats.SampleCount)*256 +
		int64(stats.WorkItemCount)*512 +
		int64(stats.GeofenceCount)*128
	return stats, nil
}

// Reset clears every local collection.
func (m *Manager) Reset() error {
	if m.samples == nil {
		return ErrNoStore{}
	}
	if err := m.samples.Clear(); err != nil {
		return err
	}
	if m.workItems != nil {
		if err := m.workItems.Clear(); err != nil {
			return err
		}
	}
	if m.tiles != nil {
		if err := m.tiles.Clear(); err != nil {
			return err
		}
	}
	if m.geofences != nil {
		if err := m.geofences.Clear(); err != nil {
			return err
		}
	}
	m.logger.Info("Local store reset")
	return nil
}

// probeLoop watches connectivity. Regaining the network triggers an
// immediate sweep; losing it only flips the flag.
func (m *Manager) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	m.probeOnce(ctx)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probeOnce(ctx)
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) probeOnce(ctx context.Context) {
	err := m.remote.HealthCheck(ctx)
	nowOnline := err == nil

	m.mu.Lock()
	wasOnline := m.online
	m.online = nowOnline
	m.mu.Unlock()

	if nowOnline && !wasOnline {
		m.logger.Info("Connectivity regained, running sync sweep")
		if err := m.Sweep(ctx); err != nil {
			m.logger.Error("Connectivity-triggered sweep failed", zap.Error(err))
		}
	} else if !nowOnline && wasOnline {
		m.logger.Info("Connectivity lost", zap.Error(err))
	}
}

// sweepLoop is the fixed-interval sweep. It shares the sweep function
// with the connectivity trigger; idempotence per item makes the overlap
// harmless.
func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !m.Online() {
				continue
			}
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error("Periodic sweep failed", zap.Error(err))
			}
		case <-m.stopChan:
			return
		}
	}
}

func (m *Manager) retentionLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.RetentionSweep(); err != nil {
				m.logger.Error("Retention sweep failed", zap.Error(err))
			}
		case <-m.stopChan:
			return
		}
	}
}
