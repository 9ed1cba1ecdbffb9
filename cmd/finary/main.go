package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"finary/internal/aibackend"
	"finary/internal/amqp"
	"finary/internal/backend"
	"finary/internal/cache"
	"finary/internal/cli"
	"finary/internal/dashboard"
	"finary/internal/events"
	"finary/internal/export"
	apphttp "finary/internal/http"
	"finary/internal/identity"
	"finary/internal/insight"
	"finary/internal/log"
	"finary/internal/services"
)

const cacheCleanupInterval = 10 * time.Minute

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(cli.SetupLogger(os.Getenv("LOG_LEVEL")))
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentApp)

	// Storage
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	store, err := backend.NewFactory(logger.Logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize storage backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	// Engine
	bus := events.NewLocalBus()
	provider := identity.ContextProvider{}
	ai := aibackend.NewClient(cfg.AIBackendURL, cfg.AIBackendTimeout)
	mutations := services.NewMutationService(provider, store.Store, bus)
	sessions := dashboard.NewRegistry(dashboard.NewLoader(store.Store), bus, cfg.SessionCacheSize, cfg.SessionTTL)
	insights := insight.NewService(ai, cfg.SessionCacheSize, cfg.SessionTTL)

	caches := cache.NewManager()
	caches.Register("dashboard_sessions", sessions.Cleaner())
	caches.Register("insights", insights.Cleaner())
	caches.StartCleanup(cacheCleanupInterval)

	deps := apphttp.Deps{
		Logger:             logger,
		Mutations:          mutations,
		Assistant:          services.NewAssistant(provider, ai, mutations),
		Sessions:           sessions,
		Insights:           insights,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}
	if store.Ping != nil {
		deps.Ready = store.Ping
	}

	if cfg.SheetsExportEnabled() {
		sheets, err := export.NewSheetsExporter(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			// Export is optional; keep serving without it.
			logger.Warn("Google Sheets export disabled", log.FieldError, err)
		} else {
			deps.Sheets = sheets
			logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
		}
	}

	// Optional broker fan-out
	var broker *amqp.Client
	if cfg.AMQPEnabled() {
		broker, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, amqp.QueueMode(cfg.AMQPQueueMode))
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, deps)

	var bridgeWG sync.WaitGroup
	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		bridgeWG.Wait()
		caches.Stop()
		if broker != nil {
			if err := broker.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if store.Cleanup != nil {
			if err := store.Cleanup(); err != nil {
				logger.Error("Storage cleanup error", log.FieldError, err)
			}
		}
	})

	if broker != nil {
		bridge := amqp.NewBridge(broker, bus, cli.InstanceID("finary"))
		bridgeWG.Add(1)
		go func() {
			defer bridgeWG.Done()
			if err := bridge.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("AMQP bridge stopped", log.FieldError, err)
			}
		}()
		logger.Info("AMQP fan-out enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue, "queue_mode", cfg.AMQPQueueMode, "origin", bridge.Origin())
	}

	logger.Info("Starting finary server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"ai_backend", ai.BaseURL(),
		"amqp", cfg.AMQPEnabled(),
		"sheets_export", deps.Sheets != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
