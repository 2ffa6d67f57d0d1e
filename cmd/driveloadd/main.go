package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jayhsu5202/Google-Drive-Downloader/internal/api"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/config"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/hub"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/observability"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/registry"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/scheduler"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/storage"
	"github.com/jayhsu5202/Google-Drive-Downloader/internal/supervisor"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg := loadConfiguration()

	logger, metrics := initializeObservability(cfg)

	app := buildApplication(cfg, logger, metrics)

	runApplication(cfg, app, logger)
}

// Application holds the assembled component graph.
type Application struct {
	registry  *registry.Registry
	hub       *hub.Hub
	scheduler *scheduler.Scheduler
	server    *api.Server
	mirror    hub.Mirror
}

// loadConfiguration loads and validates the daemon configuration.
func loadConfiguration() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

// initializeObservability sets up the structured logger and metrics.
func initializeObservability(cfg *config.Config) (observability.Logger, observability.Metrics) {
	logger := observability.NewLogger(observability.LoggerOptions{
		Level: cfg.LogLevel,
		JSON:  cfg.LogJSON,
	})

	logger.Info("starting service",
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
		"max_concurrent", cfg.Scheduler.MaxConcurrent)

	return logger, observability.NewPrometheusMetrics(cfg.ServiceName)
}

// buildApplication wires storage, registry, event hub, supervisor,
// scheduler and the HTTP surface together.
func buildApplication(cfg *config.Config, logger observability.Logger, metrics observability.Metrics) *Application {
	store, err := storage.New(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize task store: %v", err)
	}

	reg := registry.New(store, logger, cfg.Scheduler.FlushInterval)

	h := hub.New(logger)
	var mirror hub.Mirror
	if cfg.AMQP.Enabled {
		m, err := hub.NewAMQPMirror(cfg.AMQP, logger)
		if err != nil {
			log.Fatalf("Failed to connect event mirror: %v", err)
		}
		h.SetMirror(m)
		mirror = m
	}

	sup := supervisor.New(cfg.Tool, logger)
	sched := scheduler.New(reg, h, sup, logger, metrics, cfg.Scheduler, cfg.Tool.DownloadRoot)

	return &Application{
		registry:  reg,
		hub:       h,
		scheduler: sched,
		server:    api.New(sched, reg, h, logger),
		mirror:    mirror,
	}
}

// runApplication recovers persisted tasks, starts the background loops and
// the HTTP server, and blocks until a termination signal.
func runApplication(cfg *config.Config, app *Application, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resumable, err := app.registry.Recover(ctx)
	if err != nil {
		log.Fatalf("Failed to recover task collection: %v", err)
	}
	if len(resumable) > 0 {
		logger.Info("resuming interrupted tasks", "count", len(resumable))
		app.scheduler.Enqueue(resumable...)
	}

	go app.registry.Run(ctx)
	go app.scheduler.Run(ctx)

	server := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     app.server.Routes(),
		ReadTimeout: cfg.HTTP.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown incomplete", "error", err)
	}
	app.registry.Flush(shutdownCtx)
	if app.mirror != nil {
		if err := app.mirror.Close(); err != nil {
			logger.Warn("event mirror close failed", "error", err)
		}
	}

	logger.Info("service stopped")
}
