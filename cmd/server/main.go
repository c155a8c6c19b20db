package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/turbine-shutdown/backend/internal/api"
	"github.com/turbine-shutdown/backend/internal/config"
	"github.com/turbine-shutdown/backend/internal/events"
	"github.com/turbine-shutdown/backend/internal/identity"
	"github.com/turbine-shutdown/backend/internal/logging"
	"github.com/turbine-shutdown/backend/internal/metrics"
	"github.com/turbine-shutdown/backend/internal/override"
	"github.com/turbine-shutdown/backend/internal/procedure"
	"github.com/turbine-shutdown/backend/internal/sensor"
	"github.com/turbine-shutdown/backend/internal/sequencer"
	"github.com/turbine-shutdown/backend/internal/session"
	"github.com/turbine-shutdown/backend/internal/storage"
	"github.com/turbine-shutdown/backend/internal/validation"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const configFileName = "turbine-shutdown.yaml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "turbine-shutdown: %v\n", err)
		os.Exit(1)
	}
}

func configPath() (string, error) {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p, nil
	}
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exePath), configFileName), nil
}

func run() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}

	logger := logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = logger.Sync() }()
	log := logging.For(logger, "server")

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	proc, err := loadProcedure(cfg.Procedure.Path)
	if err != nil {
		return err
	}
	log.Infow("Procedure loaded", "name", proc.Name, "version", proc.Version, "steps", proc.Len())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warnw("Closing storage failed", "error", err)
		}
	}()
	log.Infow("Storage ready", "driver", cfg.Storage.Driver, "dataDir", cfg.GetDataDir())

	users, err := identity.LoadFile(cfg.Identity.UsersFile)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	log.Infow("User directory loaded", "users", users.Len())

	snapshot := sensor.NewSnapshot(cfg.Sensor.MaxSampleAge)
	snapshot.SetMaxSkew(cfg.Validation.MaxClockSkew)
	if cfg.OPCUAEnabled() {
		feed, err := sensor.NewOPCUAFeed(cfg.Sensor.OPCUA, snapshot, logging.For(logger, "opcua"))
		if err != nil {
			return fmt.Errorf("invalid opcua config: %w", err)
		}
		if err := feed.Start(ctx); err != nil {
			return fmt.Errorf("failed to start opcua feed: %w", err)
		}
		defer func() { _ = feed.Stop() }()
	}
	if cfg.ReplayEnabled() {
		replay, err := sensor.NewReplay(cfg.Sensor.Replay, snapshot, logging.For(logger, "replay"))
		if err != nil {
			return fmt.Errorf("failed to load sensor replay: %w", err)
		}
		go replay.Run(ctx)
	}

	broker := events.NewBroker(events.DefaultBuffer)
	meter := metrics.New()

	seq := sequencer.New(proc, validation.NewEngine(cfg.Validation.QualityThreshold), cfg.Validation.HistoryCap)
	seq.SetMaxSkew(cfg.Validation.MaxClockSkew)
	manager, err := session.NewManager(seq, override.NewAuthority(), session.Options{
		Feed:        snapshot,
		Identity:    users,
		Audit:       store,
		Repository:  store,
		Committer:   store,
		Publisher:   broker,
		Metrics:     meter,
		Logger:      logging.For(logger, "session"),
		FeedTimeout: cfg.Validation.FeedTimeout,
	})
	if err != nil {
		return err
	}
	restored, err := manager.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore sessions: %w", err)
	}
	if cfg.Sessions.CleanupInterval > 0 {
		go manager.RunCleanup(ctx, cfg.Sessions.CleanupInterval, cfg.Sessions.TerminalRetention)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	var origins []string
	if cfg.Server.EnableCORS {
		origins = cfg.Server.AllowOrigins
	}
	api.SetupMiddleware(e, api.MiddlewareOptions{
		Logger:         logging.For(logger, "api"),
		RequestLogging: cfg.Logging.RequestLogging,
		AllowOrigins:   origins,
		BodyLimit:      cfg.Server.BodyLimit,
	})
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Sessions:  manager,
		Procedure: proc,
		Samples:   snapshot,
		Audit:     store,
		Events:    broker,
		Metrics:   meter.Handler(),
		Logger:    logging.For(logger, "stream"),
		Version:   Version,

		MaxClockSkew: cfg.Validation.MaxClockSkew,
	}))

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Infow("Turbine shutdown engine starting",
		"version", Version,
		"buildTime", BuildTime,
		"config", path,
		"listen", cfg.GetServerAddr(),
		"restoredSessions", restored,
		"opcua", cfg.OPCUAEnabled(),
		"replay", cfg.ReplayEnabled(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Server shutdown failed", "error", err)
	}
	return nil
}

func loadProcedure(path string) (*procedure.Procedure, error) {
	if path == "" {
		return procedure.Default()
	}
	proc, err := procedure.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load procedure %s: %w", path, err)
	}
	return proc, nil
}
