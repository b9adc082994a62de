package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/common"
	"github.com/ternarybob/lodestar/internal/handlers"
	"github.com/ternarybob/lodestar/internal/interfaces"
	"github.com/ternarybob/lodestar/internal/services/apps"
	"github.com/ternarybob/lodestar/internal/services/auth"
	"github.com/ternarybob/lodestar/internal/services/batchjobs"
	"github.com/ternarybob/lodestar/internal/services/jobs"
	"github.com/ternarybob/lodestar/internal/services/notify"
	"github.com/ternarybob/lodestar/internal/services/sessions"
	"github.com/ternarybob/lodestar/internal/services/sites"
	"github.com/ternarybob/lodestar/internal/services/transfers"
	"github.com/ternarybob/lodestar/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB *badger.BadgerDB

	// Storage
	SiteStorage     interfaces.SiteStorage
	AppStorage      interfaces.AppStorage
	JobStorage      interfaces.JobStorage
	EventStorage    interfaces.EventStorage
	BatchJobStorage interfaces.BatchJobStorage
	SessionStorage  interfaces.SessionStorage
	TransferStorage interfaces.TransferStorage
	TokenStorage    interfaces.TokenStorage

	// Services
	Notifier        interfaces.Notifier
	AuthService     *auth.Service
	SiteService     *sites.Service
	AppService      *apps.Service
	JobService      *jobs.Service
	SessionService  *sessions.Service
	BatchJobService *batchjobs.Service
	TransferService *transfers.Service

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	SiteHandler     *handlers.SiteHandler
	AppHandler      *handlers.AppHandler
	JobHandler      *handlers.JobHandler
	EventHandler    *handlers.EventHandler
	BatchJobHandler *handlers.BatchJobHandler
	SessionHandler  *handlers.SessionHandler
	TransferHandler *handlers.TransferHandler
	WSHandler       *handlers.WebSocketHandler

	sweeper *cron.Cron
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if err := app.startSessionSweeper(); err != nil {
		return nil, fmt.Errorf("failed to start session sweeper: %w", err)
	}

	logger.Info().
		Str("storage_path", cfg.Storage.Badger.Path).
		Int("session_expiry_seconds", cfg.Sessions.ExpirySeconds).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.DB = db

	a.SiteStorage = badger.NewSiteStorage(db, a.Logger)
	a.AppStorage = badger.NewAppStorage(db, a.Logger)
	a.JobStorage = badger.NewJobStorage(db, a.Logger)
	a.EventStorage = badger.NewEventStorage(db, a.Logger)
	a.BatchJobStorage = badger.NewBatchJobStorage(db, a.Logger)
	a.SessionStorage = badger.NewSessionStorage(db, a.Logger)
	a.TransferStorage = badger.NewTransferStorage(db, a.Logger)
	a.TokenStorage = badger.NewTokenStorage(db, a.Logger)

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order.
func (a *App) initServices() error {
	a.Notifier = notify.NewService(a.Logger)

	a.AuthService = auth.NewService(a.TokenStorage, a.Logger)
	if err := a.seedTokens(); err != nil {
		return err
	}

	a.SiteService = sites.NewService(a.SiteStorage, a.Notifier, a.Logger)
	a.JobService = jobs.NewService(a.JobStorage, a.AppStorage, a.Notifier, a.Logger)
	a.AppService = apps.NewService(a.AppStorage, a.SiteStorage, a.JobStorage, a.Notifier, a.Logger)
	a.SessionService = sessions.NewService(a.SessionStorage, a.JobStorage, a.BatchJobStorage, a.Notifier, a.Logger)
	a.BatchJobService = batchjobs.NewService(a.BatchJobStorage, a.JobStorage, a.Notifier,
		batchjobs.Config{LenientFreeze: a.Config.BatchJobs.LenientFreeze}, a.Logger)
	a.TransferService = transfers.NewService(a.TransferStorage, a.JobService, a.Notifier, a.Logger)

	return nil
}

// seedTokens registers preconfigured API tokens from config.
func (a *App) seedTokens() error {
	ctx := context.Background()
	for token, ownerID := range a.Config.Auth.Tokens {
		if err := a.AuthService.Register(ctx, token, ownerID); err != nil {
			return fmt.Errorf("failed to seed token for owner %d: %w", ownerID, err)
		}
	}
	if n := len(a.Config.Auth.Tokens); n > 0 {
		a.Logger.Debug().Int("tokens", n).Msg("Seeded API tokens from config")
	}
	return nil
}

// initHandlers wires the HTTP layer.
func (a *App) initHandlers() {
	handlers.MaxPageLimit = a.Config.API.MaxPageLimit
	handlers.DefaultPageLimit = a.Config.API.DefaultPageLimit

	a.APIHandler = handlers.NewAPIHandler()
	a.SiteHandler = handlers.NewSiteHandler(a.SiteService, a.Logger)
	a.AppHandler = handlers.NewAppHandler(a.AppService, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Logger)
	a.EventHandler = handlers.NewEventHandler(a.EventStorage, a.Logger)
	a.BatchJobHandler = handlers.NewBatchJobHandler(a.BatchJobService, a.Logger)
	a.SessionHandler = handlers.NewSessionHandler(a.SessionService, a.Logger)
	a.TransferHandler = handlers.NewTransferHandler(a.TransferService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Notifier, a.AuthService, a.Config.WSThrottle(), a.Logger)
}

// startSessionSweeper schedules the expired-session reaper.
func (a *App) startSessionSweeper() error {
	expiry := a.Config.SessionExpiry()
	schedule := a.Config.Sessions.SweepSchedule

	a.sweeper = cron.New()
	_, err := a.sweeper.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.SessionService.SweepExpired(ctx, expiry); err != nil {
			a.Logger.Warn().Err(err).Msg("Session expiry sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	a.sweeper.Start()

	a.Logger.Debug().
		Str("schedule", schedule).
		Dur("expiry", expiry).
		Msg("Session sweeper started")

	return nil
}

// Close shuts down background tasks and the storage layer.
func (a *App) Close() error {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.Notifier != nil {
		a.Notifier.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	a.Logger.Info().Msg("Application shut down")
	return nil
}
