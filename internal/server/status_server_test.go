package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fieldtrack/location-agent/internal/database"
	"fieldtrack/location-agent/internal/models"
	"fieldtrack/location-agent/internal/store"
	"fieldtrack/location-agent/internal/syncer"
)

type stubRemote struct{}

func (stubRemote) Upsert(context.Context, string, interface{}, string) error { return nil }
func (stubRemote) Query(context.Context, string, string, string, interface{}) error {
	return nil
}
func (stubRemote) HealthCheck(context.Context) error { return nil }

func newTestServer(t *testing.T) (*StatusServer, *store.Samples) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	samples := store.NewSamples(db.DB, zap.NewNop())
	manager := syncer.NewManager(
		stubRemote{},
		samples,
		store.NewWorkItems(db.DB, zap.NewNop()),
		store.NewTiles(db.DB, zap.NewNop()),
		store.NewGeofences(db.DB, zap.NewNop()),
		syncer.Config{RetentionWindow: 30 * 24 * time.Hour, ActivityThresholdKmh: 5},
		zap.NewNop(),
	)
	return NewStatusServer(manager, nil, zap.NewNop()), samples
}

func TestStatusReportsStorageCounts(t *testing.T) {
	srv, samples := newTestServer(t)

	require.NoError(t, samples.Insert(&models.PositionSample{
		ID: "s1", UserID: "u1", Latitude: 6.9271, Longitude: 79.8612,
		Timestamp:       time.Now().UTC(),
		ConnectionState: models.ConnectionOnline,
		MovementType:    models.MovementUnknown,
	}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Online)
	assert.Equal(t, 1, resp.Storage.SampleCount)
	assert.Equal(t, 1, resp.Storage.UnsyncedCount)
	assert.Nil(t, resp.LastPosition)
}

func TestMovementStatsEndpoint(t *testing.T) {
	srv, samples := newTestServer(t)

	now := time.Now().UTC()
	require.NoError(t, samples.Insert(&models.PositionSample{
		ID: "s1", UserID: "u1", Latitude: 6.9271, Longitude: 79.8612,
		Timestamp:       now.Add(-10 * time.Minute),
		ConnectionState: models.ConnectionOnline,
		MovementType:    models.MovementUnknown,
	}))
	require.NoError(t, samples.Insert(&models.PositionSample{
		ID: "s2", UserID: "u1", Latitude: 6.9371, Longitude: 79.8612,
		Timestamp:       now,
		ConnectionState: models.ConnectionOnline,
		MovementType:    models.MovementUnknown,
	}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats?user_id=u1&hours=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.MovementStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.PointCount)
	assert.Greater(t, stats.TotalDistanceKm, 1.0)
}

func TestMovementStatsRequiresUserID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats?user_id=u1&hours=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOnlyGETIsAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
