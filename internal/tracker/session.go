// Package tracker owns the continuous tracking session: the live
// location subscription, the resilient fallback poller, the noise and
// throttle filters, sample enrichment and immediate remote delivery
// with local queueing on failure.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldtrack/location-agent/internal/device"
	"fieldtrack/location-agent/internal/geo"
	"fieldtrack/location-agent/internal/location"
	"fieldtrack/location-agent/internal/models"

	"go.uber.org/zap"
)

// LiveCollection is the remote collection holding the latest position
// per user; upserts are keyed by userId, so the remote authority keeps
// only the newest sample.
const LiveCollection = "live_positions"

// Remote is the slice of the remote store the session needs.
type Remote interface {
	Upsert(ctx context.Context, collection string, payload interface{}, conflictKey string) error
}

// SampleStore is the slice of the local store the session needs. A nil
// store means the engine runs degraded: remote-only delivery, failures
// dropped after logging.
type SampleStore interface {
	Insert(sample *models.PositionSample) error
}

// Connectivity reports the current network state, owned by the sync
// manager's watcher.
type Connectivity interface {
	Online() bool
}

// Config carries the session's filter and polling parameters.
type Config struct {
	MinUpdateInterval time.Duration // throttle between committed samples
	MinDistanceMeters float64       // noise filter against last committed position
	ForegroundPoll    time.Duration
	BackgroundPoll    time.Duration
	GeocodeTimeout    time.Duration
	DeliveryTimeout   time.Duration
}

// Session is one tracking session: Idle until Start, Active until Stop.
// Errors never terminate an active session; a hard watch failure is
// reported through the error callback, everything else is logged and
// absorbed.
type Session struct {
	provider     location.Provider
	remote       Remote
	samples      SampleStore
	geocoder     location.Geocoder
	dev          *device.Device
	connectivity Connectivity
	cfg          Config
	userID       string
	logger       *zap.Logger

	mu            sync.RWMutex
	lastCommitted *models.PositionSample
	workItemID    *string
	foreground    bool
	stopped       bool

	pollReset chan struct{}
	stopChan  chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSession wires a session for one user. All collaborators except the
// provider and remote may be nil; nil degrades the matching enrichment
// or queueing step, never the session.
func NewSession(
	provider location.Provider,
	remote Remote,
	samples SampleStore,
	geocoder location.Geocoder,
	dev *device.Device,
	connectivity Connectivity,
	cfg Config,
	userID string,
	logger *zap.Logger,
) *Session {
	if cfg.GeocodeTimeout == 0 {
		cfg.GeocodeTimeout = 3 * time.Second
	}
	if cfg.DeliveryTimeout == 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	return &Session{
		provider:     provider,
		remote:       remote,
		samples:      samples,
		geocoder:     geocoder,
		dev:          dev,
		connectivity: connectivity,
		cfg:          cfg,
		userID:       userID,
		logger:       logger,
		foreground:   true,
		pollReset:    make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
	}
}

// Start begins tracking. The watch subscription and the fallback poller
// run until Stop; a terminal watch failure (permission refusal) is
// delivered to onWatchError.
func (s *Session) Start(onWatchError func(error)) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.provider.Watch(ctx, s.HandleFix); err != nil {
			s.logger.Error("Location watch terminated", zap.Error(err))
			if onWatchError != nil {
				onWatchError(err)
			}
		}
	}()

	s.wg.Add(1)
	go s.pollLoop(ctx)

	s.logger.Info("Tracking session started",
		zap.String("user_id", s.userID),
		zap.Duration("min_update_interval", s.cfg.MinUpdateInterval),
		zap.Float64("min_distance_m", s.cfg.MinDistanceMeters),
	)
	return nil
}

// Stop ends the session. Only new work is cancelled; deliveries already
// in flight run to completion and their results are discarded.
func (s *Session) Stop() {
	s.mu.Lock()
	select {
	case <-s.stopChan:
		s.mu.Unlock()
		return
	default:
		s.stopped = true
		close(s.stopChan)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Tracking session stopped", zap.String("user_id", s.userID))
}

// SetForeground switches the fallback poll cadence. Foreground polls
// every ForegroundPoll, background every BackgroundPoll; the running
// ticker is re-armed on every transition.
func (s *Session) SetForeground(foreground bool) {
	s.mu.Lock()
	changed := s.foreground != foreground
	s.foreground = foreground
	s.mu.Unlock()

	if changed {
		select {
		case s.pollReset <- struct{}{}:
		default:
		}
		s.logger.Debug("Visibility changed", zap.Bool("foreground", foreground))
	}
}

// SetWorkItem associates subsequent samples with a work assignment.
func (s *Session) SetWorkItem(workItemID *string) {
	s.mu.Lock()
	s.workItemID = workItemID
	s.mu.Unlock()
}

// LastCommitted returns the most recent committed sample, or nil.
func (s *Session) LastCommitted() *models.PositionSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCommitted
}

// HandleFix runs the acceptance algorithm on one raw fix. Both the watch
// subscription and the fallback poller funnel through here, so duplicate
// fixes from the two paths suppress each other naturally.
func (s *Session) HandleFix(fix models.DeviceFix) {
	s.mu.RLock()
	stopped := s.stopped
	prev := s.lastCommitted
	workItemID := s.workItemID
	s.mu.RUnlock()

	if stopped {
		return
	}
	if !s.passesFilters(prev, fix) {
		return
	}

	sample := s.enrich(fix, workItemID)

	s.mu.Lock()
	// Enrichment can block on the geocoder, and the watch callback and
	// the fallback poller run concurrently. Another fix may have
	// committed meanwhile, so the filters must hold against the current
	// last committed sample, not the one read before enrichment.
	if s.stopped || !s.passesFilters(s.lastCommitted, fix) {
		s.mu.Unlock()
		return
	}
	s.lastCommitted = sample
	s.mu.Unlock()

	s.deliver(sample)
}

// passesFilters applies the time throttle, then the distance filter; a
// fix must pass both. The first fix of a session always passes.
func (s *Session) passesFilters(prev *models.PositionSample, fix models.DeviceFix) bool {
	if prev == nil {
		return true
	}
	if fix.Timestamp.Sub(prev.Timestamp) < s.cfg.MinUpdateInterval {
		return false
	}
	dist := geo.DistanceMeters(prev.Latitude, prev.Longitude, fix.Latitude, fix.Longitude)
	return dist >= s.cfg.MinDistanceMeters
}

// enrich builds a persisted sample from an accepted fix.
func (s *Session) enrich(fix models.DeviceFix, workItemID *string) *models.PositionSample {
	sample := &models.PositionSample{
		ID:             uuid.NewString(),
		UserID:         s.userID,
		Latitude:       fix.Latitude,
		Longitude:      fix.Longitude,
		AccuracyMeters: fix.AccuracyMeters,
		Timestamp:      fix.Timestamp,
		WorkItemID:     workItemID,
		HeadingDegrees: fix.HeadingDegrees,
		AltitudeMeters: fix.AltitudeMeters,
		MovementType:   models.MovementUnknown,
	}

	if fix.SpeedMs != nil {
		speedKmh := *fix.SpeedMs * 3.6
		if speedKmh < 0 {
			speedKmh = 0
		}
		sample.SpeedKmh = &speedKmh
		sample.MovementType = geo.ClassifyMovement(speedKmh)
	}

	sample.ConnectionState = models.ConnectionOnline
	if s.connectivity != nil && !s.connectivity.Online() {
		sample.ConnectionState = models.ConnectionOffline
	}

	if s.dev != nil {
		sample.BatteryPercent = s.dev.BatteryPercent()
	}

	if s.geocoder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GeocodeTimeout)
		if addr, ok := s.geocoder.Reverse(ctx, fix.Latitude, fix.Longitude); ok {
			sample.Address = &addr
		}
		cancel()
	}

	return sample
}

// deliver attempts immediate remote delivery; on failure the sample is
// queued locally exactly once for the sync sweep. At-least-once overall.
func (s *Session) deliver(sample *models.PositionSample) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeliveryTimeout)
	defer cancel()

	err := s.remote.Upsert(ctx, LiveCollection, sample, "userId")
	if err == nil {
		sample.Synced = true
	} else {
		s.logger.Warn("Immediate delivery failed, queueing sample",
			zap.Error(err),
			zap.String("sample_id", sample.ID),
		)
	}

	if s.samples == nil {
		if err != nil {
			s.logger.Error("No local store available, dropping undelivered sample",
				zap.String("sample_id", sample.ID),
			)
		}
		return
	}

	if insertErr := s.samples.Insert(sample); insertErr != nil {
		s.logger.Error("Failed to persist sample", zap.Error(insertErr))
	}
}

func (s *Session) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pollOnce(ctx)
		case <-s.pollReset:
			ticker.Reset(s.pollInterval())
		case <-s.stopChan:
			return
		}
	}
}

// pollOnce is the fallback path for environments where the watch
// subscription fires unreliably. A failed poll never aborts tracking.
func (s *Session) pollOnce(ctx context.Context) {
	fix, err := s.provider.Current(ctx)
	if err != nil {
		s.logger.Debug("Fallback poll failed", zap.Error(err))
		return
	}
	s.HandleFix(fix)
}

func (s *Session) pollInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.foreground {
		return s.cfg.ForegroundPoll
	}
	return s.cfg.BackgroundPoll
}
