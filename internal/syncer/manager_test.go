package syncer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldtrack/location-agent/internal/database"
	"fieldtrack/location-agent/internal/models"
	"fieldtrack/location-agent/internal/store"
)

type fakeRemote struct {
	mu          sync.Mutex
	failUpserts bool
	healthy     bool
	upserts     int
	queryJSON   string
}

func (f *fakeRemote) Upsert(_ context.Context, _ string, _ interface{}, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.failUpserts {
		return errors.New("network unavailable")
	}
	return nil
}

func (f *fakeRemote) Query(_ context.Context, _, _, _ string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return json.Unmarshal([]byte(f.queryJSON), out)
}

func (f *fakeRemote) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.healthy {
		return errors.New("unreachable")
	}
	return nil
}

func (f *fakeRemote) setFailUpserts(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpserts = fail
}

func (f *fakeRemote) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

type testEnv struct {
	remote    *fakeRemote
	manager   *Manager
	samples   *store.Samples
	workItems *store.WorkItems
	tiles     *store.Tiles
	geofences *store.Geofences
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		remote:    &fakeRemote{healthy: true},
		samples:   store.NewSamples(db.DB, zap.NewNop()),
		workItems: store.NewWorkItems(db.DB, zap.NewNop()),
		tiles:     store.NewTiles(db.DB, zap.NewNop()),
		geofences: store.NewGeofences(db.DB, zap.NewNop()),
	}
	env.manager = NewManager(env.remote, env.samples, env.workItems, env.tiles, env.geofences, cfg, zap.NewNop())
	return env
}

func defaultConfig() Config {
	return Config{
		SweepInterval:        time.Minute,
		ProbeInterval:        10 * time.Second,
		RetentionWindow:      30 * 24 * time.Hour,
		TileURLTemplate:      "https://tile.example.org/{z}/{x}/{y}.png",
		TileFreshness:        7 * 24 * time.Hour,
		TileFetchEvery:       time.Millisecond,
		ActivityThresholdKmh: 5,
	}
}

func unsyncedSample(userID string, at time.Time) *models.PositionSample {
	return &models.PositionSample{
		ID:              uuid.NewString(),
		UserID:          userID,
		Latitude:        6.9271,
		Longitude:       79.8612,
		Timestamp:       at,
		ConnectionState: models.ConnectionOffline,
		MovementType:    models.MovementUnknown,
	}
}

func TestSweepDeliversAndFlagsSynced(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	require.NoError(t, env.samples.Insert(unsyncedSample("user-1", time.Now().UTC())))
	require.NoError(t, env.samples.Insert(unsyncedSample("user-1", time.Now().UTC().Add(time.Second))))

	require.NoError(t, env.manager.Sweep(context.Background()))

	pending, err := env.samples.Unsynced()
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 2, env.remote.upsertCount())
}

func TestSweepLeavesFailuresQueued(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.remote.setFailUpserts(true)

	require.NoError(t, env.samples.Insert(unsyncedSample("user-1", time.Now().UTC())))
	require.NoError(t, env.manager.Sweep(context.Background()))

	pending, err := env.samples.Unsynced()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// The next sweep retries and succeeds.
	env.remote.setFailUpserts(false)
	require.NoError(t, env.manager.Sweep(context.Background()))

	pending, err = env.samples.Unsynced()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweepIdempotent(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	require.NoError(t, env.samples.Insert(unsyncedSample("user-1", time.Now().UTC())))
	require.NoError(t, env.manager.Sweep(context.Background()))
	delivered := env.remote.upsertCount()

	// Second sweep with nothing new is a no-op.
	require.NoError(t, env.manager.Sweep(context.Background()))
	assert.Equal(t, delivered, env.remote.upsertCount())
}

func TestConnectivityRegainedTriggersSweep(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()

	// Offline: a fix captured now lands in the retry queue.
	env.remote.healthy = false
	env.manager.probeOnce(ctx)
	assert.False(t, env.manager.Online())

	require.NoError(t, env.samples.Insert(unsyncedSample("user-1", time.Now().UTC())))

	// Connectivity returns: the transition itself runs the sweep.
	env.remote.healthy = true
	env.manager.probeOnce(ctx)
	assert.True(t, env.manager.Online())

	pending, err := env.samples.Unsynced()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestConnectivityLossOnlyFlipsFlag(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()

	env.manager.probeOnce(ctx)
	require.True(t, env.manager.Online())

	require.NoError(t, env.samples.Insert(unsyncedSample("user-1", time.Now().UTC())))

	env.remote.healthy = false
	env.manager.probeOnce(ctx)
	assert.False(t, env.manager.Online())

	// Nothing was destroyed or delivered on the way down.
	pending, err := env.samples.Unsynced()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRefreshWorkItemsReplacesCache(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.manager.online = true
	env.remote.queryJSON = `[{"id":"w1","title":"Inspect"},{"id":"w2","title":"Deliver"}]`

	require.NoError(t, env.manager.RefreshWorkItems(context.Background(), "user-1"))

	items, err := env.workItems.ByUser("user-1")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	// A later refresh replaces the set wholesale.
	env.remote.queryJSON = `[{"id":"w3","title":"Survey"}]`
	require.NoError(t, env.manager.RefreshWorkItems(context.Background(), "user-1"))

	items, err = env.workItems.ByUser("user-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "w3", items[0].ID)
}

func TestRefreshRequiresConnectivity(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	err := env.manager.RefreshWorkItems(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrOffline{})

	err = env.manager.RefreshGeofences(context.Background())
	assert.ErrorIs(t, err, ErrOffline{})
}

func TestRefreshGeofencesAndEvaluate(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.manager.online = true
	env.remote.queryJSON = `[
		{"id":"g1","name":"Depot","centerLat":6.9271,"centerLng":79.8612,"radiusMeters":200,"active":true},
		{"id":"g2","name":"Yard","centerLat":7.2,"centerLng":80.6,"radiusMeters":100,"active":true}
	]`

	require.NoError(t, env.manager.RefreshGeofences(context.Background()))

	inside, err := env.manager.EvaluateGeofences(6.9272, 79.8612)
	require.NoError(t, err)
	require.Len(t, inside, 1)
	assert.Equal(t, "g1", inside[0].ID)

	inside, err = env.manager.EvaluateGeofences(5.0, 75.0)
	require.NoError(t, err)
	assert.Empty(t, inside)
}

func TestRetentionSweepKeepsUnsynced(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	old := time.Now().UTC().Add(-45 * 24 * time.Hour)
	oldSynced := unsyncedSample("user-1", old)
	oldSynced.Synced = true
	require.NoError(t, env.samples.Insert(oldSynced))
	require.NoError(t, env.samples.Insert(unsyncedSample("user-1", old)))

	removed, err := env.manager.RetentionSweep()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := env.samples.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStatsAndReset(t *testing.T) {
	env := newTestEnv(t, defaultConfig())

	require.NoError(t, env.samples.Insert(unsyncedSample("user-1", time.Now().UTC())))
	require.NoError(t, env.workItems.ReplaceAll("user-1", []models.CachedWorkItem{{ID: "w1", Payload: "{}"}}))
	require.NoError(t, env.tiles.Put(&models.CachedTile{URL: "u", Zoom: 1, X: 0, Y: 0, Image: []byte{1, 2, 3}, FetchedAt: time.Now()}))
	require.NoError(t, env.geofences.ReplaceAll([]models.CachedGeofence{{ID: "g1", Active: true}}))

	stats, err := env.manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SampleCount)
	assert.Equal(t, 1, stats.UnsyncedCount)
	assert.Equal(t, 1, stats.WorkItemCount)
	assert.Equal(t, 1, stats.TileCount)
	assert.Equal(t, 1, stats.GeofenceCount)
	assert.Greater(t, stats.EstimatedBytes, int64(3))

	require.NoError(t, env.manager.Reset())

	stats, err = env.manager.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.SampleCount)
	assert.Zero(t, stats.TileCount)
	assert.Zero(t, stats.EstimatedBytes)
}

func TestStatsAndResetTolerateMissingCaches(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	samples := store.NewSamples(db.DB, zap.NewNop())
	manager := NewManager(&fakeRemote{healthy: true}, samples, nil, nil, nil, defaultConfig(), zap.NewNop())

	require.NoError(t, samples.Insert(unsyncedSample("user-1", time.Now().UTC())))

	stats, err := manager.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SampleCount)
	assert.Zero(t, stats.WorkItemCount)
	assert.Zero(t, stats.TileCount)
	assert.Zero(t, stats.GeofenceCount)

	require.NoError(t, manager.Reset())

	count, err := samples.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOfflineCaptureThenSyncScenario(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	ctx := context.Background()

	// t=0: online fix delivered immediately, stored synced.
	first := unsyncedSample("user-1", time.Now().UTC())
	first.ConnectionState = models.ConnectionOnline
	first.Synced = true
	require.NoError(t, env.samples.Insert(first))

	// t=5s: offline fix at (6.9272, 79.8612) queued unsynced.
	second := unsyncedSample("user-1", time.Now().UTC().Add(5*time.Second))
	second.Latitude = 6.9272
	require.NoError(t, env.samples.Insert(second))

	env.remote.healthy = false
	env.manager.probeOnce(ctx)

	// Connectivity returns: the sweep delivers the queued sample.
	env.remote.healthy = true
	env.manager.probeOnce(ctx)

	stored, err := env.samples.Get(second.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Synced)
}

func TestTilePrefetchFetchesEachTileOnce(t *testing.T) {
	var mu sync.Mutex
	requests := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests[r.URL.Path]++
		mu.Unlock()
		w.Write([]byte{0x89, 0x50})
	}))
	defer srv.Close()

	cfg := defaultConfig()
	cfg.TileURLTemplate = srv.URL + "/{z}/{x}/{y}.png"
	env := newTestEnv(t, cfg)

	box := BoundingBox{MinLat: 6.9271, MinLng: 79.8612, MaxLat: 6.9280, MaxLng: 79.8620}
	result, err := env.manager.PrefetchTiles(context.Background(), box, []int{12, 14})
	require.NoError(t, err)
	assert.Zero(t, result.Failed)
	assert.Greater(t, result.Fetched, 0)

	mu.Lock()
	for path, count := range requests {
		assert.Equal(t, 1, count, "tile %s fetched more than once", path)
	}
	total := len(requests)
	mu.Unlock()
	assert.Equal(t, total, result.Fetched)

	// A second run over the same box hits only the cache.
	result, err = env.manager.PrefetchTiles(context.Background(), box, []int{12, 14})
	require.NoError(t, err)
	assert.Zero(t, result.Fetched)
	assert.Equal(t, total, result.Skipped)
}

func TestTilePrefetchSurvivesPerTileFailure(t *testing.T) {
	var mu sync.Mutex
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		fail := calls == 1
		mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte{0x01})
	}))
	defer srv.Close()

	cfg := defaultConfig()
	cfg.TileURLTemplate = srv.URL + "/{z}/{x}/{y}.png"
	env := newTestEnv(t, cfg)

	box := BoundingBox{MinLat: 6.9271, MinLng: 79.8612, MaxLat: 6.9280, MaxLng: 79.8620}
	result, err := env.manager.PrefetchTiles(context.Background(), box, []int{12, 14})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Greater(t, result.Fetched, 0)
}

func TestGetTileServesFreshCacheWithoutFetch(t *testing.T) {
	var mu sync.Mutex
	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fetches++
		mu.Unlock()
		w.Write([]byte{0x02})
	}))
	defer srv.Close()

	cfg := defaultConfig()
	cfg.TileURLTemplate = srv.URL + "/{z}/{x}/{y}.png"
	env := newTestEnv(t, cfg)

	// Fresh tile: served from cache, no request.
	fresh := &models.CachedTile{
		URL: srv.URL + "/12/2956/1969.png", Zoom: 12, X: 2956, Y: 1969,
		Image: []byte{0xAA}, FetchedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, env.tiles.Put(fresh))

	tile, err := env.manager.GetTile(context.Background(), 12, 2956, 1969)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, tile.Image)
	mu.Lock()
	assert.Zero(t, fetches)
	mu.Unlock()

	// Stale tile: treated as a miss and re-fetched.
	stale := &models.CachedTile{
		URL: srv.URL + "/12/2956/1970.png", Zoom: 12, X: 2956, Y: 1970,
		Image: []byte{0xBB}, FetchedAt: time.Now().UTC().Add(-8 * 24 * time.Hour),
	}
	require.NoError(t, env.tiles.Put(stale))

	tile, err = env.manager.GetTile(context.Background(), 12, 2956, 1970)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, tile.Image)
	mu.Lock()
	assert.Equal(t, 1, fetches)
	mu.Unlock()
}
