package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/aiprojectops/youtube-shorts-generator/internal/batch"
	"github.com/aiprojectops/youtube-shorts-generator/internal/config"
	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/internal/metrics"
	"github.com/aiprojectops/youtube-shorts-generator/internal/middleware"
	"github.com/aiprojectops/youtube-shorts-generator/internal/queue"
	"github.com/aiprojectops/youtube-shorts-generator/internal/store"
	"github.com/aiprojectops/youtube-shorts-generator/internal/tracing"
)

func main() {
	// A missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.ErrorWithErr("Service exited", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing)
		if err != nil {
			logger.ErrorWithErr("Tracing disabled", err)
		} else {
			defer closer.Close()
		}
	}

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i].Close()
		}
	}()

	checks := make(map[string]HealthCheck)

	st, err := openStore(ctx, cfg, logger, checks, &closers)
	if err != nil {
		return err
	}

	dispatcher, err := buildDispatcher(cfg, logger, &closers)
	if err != nil {
		return err
	}
	defer dispatcher.Wait()

	tracker := batch.NewTracker(dispatcher, logger)
	manager := queue.NewManager(store.NewObserved(st, cfg.Store.Backend, logger), tracker, logger)
	if err := manager.Restore(ctx); err != nil {
		// Keep serving from memory; new work is still persisted when the store recovers
		logger.ErrorWithErr("Failed to restore queues", err)
	}

	sched, err := buildScheduler(cfg, manager, logger)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := os.MkdirAll(cfg.Server.UploadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	api := NewAPI(manager, cfg.Server.UploadDir, cfg.Server.MaxUploadBytes, logger)
	for name, check := range checks {
		api.AddHealthCheck(name, check)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	go limiter.Cleanup(ctx, 10*time.Minute, 30*time.Minute)

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, cfg.Auth.JWTSecret, limiter, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}

	logger.Info("Server stopped")
	return nil
}
