package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldtrack/location-agent/internal/client"
	"fieldtrack/location-agent/internal/config"
	"fieldtrack/location-agent/internal/database"
	"fieldtrack/location-agent/internal/device"
	"fieldtrack/location-agent/internal/location"
	"fieldtrack/location-agent/internal/logger"
	"fieldtrack/location-agent/internal/server"
	"fieldtrack/location-agent/internal/store"
	"fieldtrack/location-agent/internal/syncer"
	"fieldtrack/location-agent/internal/tracker"

	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/local.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting location agent",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	// Initialize the local store. A failure here is not fatal: the engine
	// degrades to remote-only delivery and keeps tracking.
	var samples *store.Samples
	var workItems *store.WorkItems
	var tiles *store.Tiles
	var geofences *store.Geofences

	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Error("Local store unavailable, running remote-only", zap.Error(err))
	} else {
		defer func() {
			if err := db.Close(); err != nil {
				log.Error("Failed to close database", zap.Error(err))
			}
		}()
		samples = store.NewSamples(db.DB, log.Logger)
		workItems = store.NewWorkItems(db.DB, log.Logger)
		tiles = store.NewTiles(db.DB, log.Logger)
		geofences = store.NewGeofences(db.DB, log.Logger)
	}

	// Resolve the tracked user's identity
	dev := device.New()
	userID := dev.ResolveUserID(cfg.User.ID)
	log.Info("Tracking user resolved", zap.String("user_id", userID))

	// Remote store client
	remote := client.NewRemoteClient(
		cfg.Remote.BaseURL,
		cfg.Remote.APIKey,
		time.Duration(cfg.Remote.TimeoutSeconds)*time.Second,
		log.Logger,
	)

	// Device location provider and optional geocoder
	provider := location.NewHTTPProvider(
		cfg.Location.Endpoint,
		time.Duration(cfg.Location.PollSeconds)*time.Second,
		log.Logger,
	)

	var geocoder location.Geocoder = location.NoopGeocoder{}
	if cfg.Geocoder.Enabled && cfg.Geocoder.BaseURL != "" {
		geocoder = location.NewNominatimGeocoder(cfg.Geocoder.BaseURL, log.Logger)
	}

	// Sync manager: connectivity watcher, periodic sweep, retention
	manager := syncer.NewManager(remote, samples, workItems, tiles, geofences, syncer.Config{
		SweepInterval:        time.Duration(cfg.Sync.SweepIntervalSeconds) * time.Second,
		ProbeInterval:        time.Duration(cfg.Sync.ProbeIntervalSeconds) * time.Second,
		RetentionWindow:      time.Duration(cfg.Sync.RetentionDays) * 24 * time.Hour,
		TileURLTemplate:      cfg.Tiles.URLTemplate,
		TileFreshness:        time.Duration(cfg.Tiles.FreshnessHours) * time.Hour,
		TileFetchEvery:       time.Duration(cfg.Tiles.FetchDelayMs) * time.Millisecond,
		ActivityThresholdKmh: cfg.Tracking.ActivityThresholdKmh,
	}, log.Logger)
	manager.Start()

	// Tracking session. The store handle goes in only when it opened, so
	// a degraded engine sees a genuinely absent queue.
	var sampleStore tracker.SampleStore
	if samples != nil {
		sampleStore = samples
	}
	session := tracker.NewSession(provider, remote, sampleStore, geocoder, dev, manager, tracker.Config{
		MinUpdateInterval: time.Duration(cfg.Tracking.MinUpdateIntervalMs) * time.Millisecond,
		MinDistanceMeters: cfg.Tracking.MinDistanceMeters,
		ForegroundPoll:    time.Duration(cfg.Tracking.ForegroundPollSeconds) * time.Second,
		BackgroundPoll:    time.Duration(cfg.Tracking.BackgroundPollSeconds) * time.Second,
	}, userID, log.Logger)

	if err := session.Start(func(err error) {
		log.Error("Tracking watch failed", zap.Error(err))
	}); err != nil {
		log.Fatal("Failed to start tracking session", zap.Error(err))
	}

	// Optional local status server
	var statusHTTPServer *http.Server
	if cfg.Server.Enabled {
		statusServer := server.NewStatusServer(manager, session, log.Logger)
		addr := fmt.Sprintf("localhost:%d", cfg.Server.Port)
		statusHTTPServer = &http.Server{
			Addr:         addr,
			Handler:      statusServer,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go func() {
			log.Info("Starting status server", zap.String("address", addr))
			if err := statusHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Status server error", zap.Error(err))
			}
		}()
	}

	log.Info("Location agent started successfully",
		zap.String("user_id", userID),
		zap.String("remote_url", cfg.Remote.BaseURL),
	)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	if statusHTTPServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := statusHTTPServer.Shutdown(ctx); err != nil {
			log.Warn("Status server shutdown error", zap.Error(err))
		}
	}

	// Stop the session and the sync manager with a bounded wait
	done := make(chan struct{})
	go func() {
		session.Stop()
		manager.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Tracking stopped successfully")
	case <-time.After(5 * time.Second):
		log.Warn("Shutdown timeout reached, forcing exit")
		os.Exit(1)
	}

	// One last retention pass so a long-offline device does not hoard
	// synced history forever
	if _, err := manager.RetentionSweep(); err != nil {
		log.Debug("Final retention sweep skipped", zap.Error(err))
	}

	log.Info("Location agent stopped")
}
