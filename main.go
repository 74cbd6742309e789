package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	database "github.com/mcardoso/auth-api/app/db"
	appLogger "github.com/mcardoso/auth-api/app/logger"
	"github.com/mcardoso/auth-api/app/observability/metrics"
	"github.com/mcardoso/auth-api/app/tracer"
	"github.com/mcardoso/auth-api/config"
	"github.com/mcardoso/auth-api/internal/api/auth"
	"github.com/mcardoso/auth-api/internal/container"
	"github.com/mcardoso/auth-api/internal/router"
)

const tokenCleanupInterval = time.Hour

func main() {
	// Standard log until slog is configured, in case godotenv fails.
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := setupLogger(cfg.Mode)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	providers, metricsHandler, err := tracer.InitTracingAndMetrics("auth-api")
	if err != nil {
		logger.Error("Failed to initialize observability", slog.Any("error", err))
		os.Exit(1)
	}
	metrics.InitAppMetrics()

	connectionURL := database.ConnectionURL(cfg.Database)
	if err := database.RunMigrations(connectionURL, logger); err != nil {
		logger.Error("Failed to run database migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := database.Init(connectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if !database.WaitForDB(ctx, pool, logger) {
		logger.Error("Database not ready after waiting, exiting.")
		os.Exit(1)
	}

	c := container.NewContainer(&cfg, pool, logger)

	apiRouter := router.SetupRouter(&router.Config{
		AuthHandler:            c.AuthHandler,
		AuthenticateMiddleware: auth.Authenticate(logger, cfg.JWT),
	})

	r := chi.NewMux()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appLogger.StructuredLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Timeout(cfg.Server.Timeout))
	r.Use(middleware.Compress(5, "application/json"))
	r.Mount("/", apiRouter)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.HTTPPort),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metricsHandler)
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Metrics.Port),
		Handler: metricsMux,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting metrics server", slog.String("address", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	// Periodically removes refresh tokens whose stored expiry has passed.
	g.Go(func() error {
		ticker := time.NewTicker(tokenCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if _, err := c.AuthService.CleanupExpiredTokens(gCtx); err != nil {
					logger.Warn("Expired token cleanup failed", slog.Any("error", err))
				}
			}
		}
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutdown signal received, starting graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server graceful shutdown failed", slog.Any("error", err))
		}
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("Observability shutdown failed", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down complete.")
}

// setupLogger configures and returns the application logger.
func setupLogger(mode string) *slog.Logger {
	if mode == "development" || mode == "" {
		tintOpts := &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}
		return slog.New(tint.NewHandler(os.Stdout, tintOpts))
	}

	jsonOpts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, jsonOpts))
}
