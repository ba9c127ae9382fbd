package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"fieldtrack/location-agent/internal/models"
	"fieldtrack/location-agent/internal/syncer"
	"fieldtrack/location-agent/internal/tracker"

	"go.uber.org/zap"
)

// StatusResponse is the local status surface: connectivity and sync
// indicators plus per-collection counts. No raw error details leave the
// engine, only flags and counts.
type StatusResponse struct {
	Online       bool                   `json:"online"`
	Storage      models.StorageStats    `json:"storage"`
	LastPosition *models.PositionSample `json:"lastPosition,omitempty"`
	ReportedAt   time.Time              `json:"reportedAt"`
}

// StatusServer exposes the engine's state to local consumers (dashboard
// widgets, debugging) over a loopback HTTP listener.
type StatusServer struct {
	manager *syncer.Manager
	session *tracker.Session
	logger  *zap.Logger
}

// NewStatusServer creates a status server over the sync manager and the
// active tracking session.
func NewStatusServer(manager *syncer.Manager, session *tracker.Session, logger *zap.Logger) *StatusServer {
	return &StatusServer{
		manager: manager,
		session: session,
		logger:  logger,
	}
}

// ServeHTTP implements http.Handler
func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch r.URL.Path {
	case "/status":
		s.handleStatus(w, r)
	case "/stats":
		s.handleMovementStats(w, r)
	case "/health":
		s.handleHealth(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	storage, err := s.manager.Stats()
	if err != nil {
		s.logger.Warn("Storage stats unavailable", zap.Error(err))
		// Degraded mode still reports connectivity.
	}

	resp := StatusResponse{
		Online:     s.manager.Online(),
		Storage:    storage,
		ReportedAt: time.Now(),
	}
	if s.session != nil {
		resp.LastPosition = s.session.LastCommitted()
	}
	writeJSON(w, resp)
}

func (s *StatusServer) handleMovementStats(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "Missing user_id", http.StatusBadRequest)
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid hours", http.StatusBadRequest)
			return
		}
		hours = parsed
	}

	stats, err := s.manager.MovementStats(userID, time.Duration(hours)*time.Hour)
	if err != nil {
		s.logger.Warn("Movement stats unavailable", zap.Error(err))
		http.Error(w, "Stats unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, stats)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}
