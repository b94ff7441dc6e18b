package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"panierfacile-pricing/internal/api/handlers"
	"panierfacile-pricing/internal/api/routes"
	"panierfacile-pricing/internal/background"
	"panierfacile-pricing/internal/cache"
	"panierfacile-pricing/internal/comparison"
	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/matcher"
	"panierfacile-pricing/internal/refresh"
	"panierfacile-pricing/internal/scraper"
	"panierfacile-pricing/internal/scraper/workers"
	"panierfacile-pricing/internal/store"
)

const version = "1.0.0"

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logging.InitializeLogging(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseLogging()

	logger := logging.GetGlobalLogger()
	logger.Info("Starting PanierFacile pricing service", map[string]interface{}{"version": version})

	ctx := context.Background()

	st, err := store.Open(cfg)
	if err != nil {
		logger.Fatal("Failed to open store", map[string]interface{}{"error": err.Error()})
	}
	defer st.Close()

	matchCache := cache.New(ctx, cfg)
	defer matchCache.Close()

	limiter := workers.NewRateLimiter(cfg)
	defer limiter.Stop()

	blocked := scraper.NewBlockRegistry(cfg.DataDir)
	factory := scraper.NewFactory(cfg,
		scraper.WithGate(limiter),
		scraper.WithBlockRegistry(blocked),
	)
	logger.Info("Retailer scrapers ready", map[string]interface{}{
		"enabled": factory.Enabled(),
		"blocked": len(blocked.Snapshot()),
	})

	m := matcher.New(cfg, st, matchCache, factory)
	comparator := comparison.New(cfg, st, factory)
	refresher := refresh.New(cfg, st, factory)

	// Initialize background task manager
	taskManager := background.NewTaskManager(cfg, background.Services{
		Matcher:    m,
		Comparator: comparator,
		Refresher:  refresher,
	})
	if err := taskManager.Start(ctx); err != nil {
		logger.Fatal("Failed to start task manager", map[string]interface{}{"error": err.Error()})
	}

	deps := &handlers.Deps{
		Config:   cfg,
		Version:  version,
		Scrapers: factory,
		Store:    st,
		Matcher:  m,
		Cache:    matchCache,
		Tasks:    taskManager,
		Limiter:  limiter,
	}

	var scheduler *refresh.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = refresh.NewScheduler(cfg, refresher)
		if err := scheduler.Start(); err != nil {
			logger.Fatal("Failed to start refresh scheduler", map[string]interface{}{"error": err.Error()})
		}
		deps.Scheduler = scheduler
	}

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	routes.SetupRoutes(e, deps)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Stop accepting requests before draining the queue
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down server", map[string]interface{}{"error": err.Error()})
		}

		if scheduler != nil {
			scheduler.Stop(shutdownCtx)
		}

		logger.Info("Stopping background task manager...")
		if err := taskManager.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping task manager", map[string]interface{}{"error": err.Error()})
		}

		logger.Info("Server shutdown complete")
	}()

	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("Server starting", map[string]interface{}{"address": address})

	if err := e.Start(address); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed to start", map[string]interface{}{"error": err.Error()})
	}
	<-stopped
}
