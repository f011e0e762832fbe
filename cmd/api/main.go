package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/teletherapy-scheduler/cmd/mainconfig"
	"github.com/wolfman30/teletherapy-scheduler/internal/api/router"
	"github.com/wolfman30/teletherapy-scheduler/internal/app/bootstrap"
	appconfig "github.com/wolfman30/teletherapy-scheduler/internal/config"
	"github.com/wolfman30/teletherapy-scheduler/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/teletherapy-scheduler/internal/http/middleware"
	"github.com/wolfman30/teletherapy-scheduler/internal/notify"
	"github.com/wolfman30/teletherapy-scheduler/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting teletherapy scheduler API",
		"env", cfg.Env,
		"port", cfg.Port,
		"storage", cfg.Storage,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsHandler, registry := setupMetrics()
	rt, err := bootstrap.BuildRuntime(ctx, cfg, bootstrap.RuntimeOptions{
		Logger:     logger,
		Registerer: registry,
		SES:        buildSESClient(ctx, cfg, logger),
	})
	if err != nil {
		logger.Error("failed to build scheduler runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiterDone := make(chan struct{})
	go limiter.Run(limiterDone)

	bgCtx, cancelBackground := context.WithCancel(context.Background())
	if rt.Deliverer != nil {
		go rt.Deliverer.Start(bgCtx)
	}
	rt.Jobs.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           buildRouter(cfg, rt, metricsHandler, limiter, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	rt.Jobs.Stop(shutdownCtx)
	cancelBackground()
	close(limiterDone)
	rt.Scheduler.Wait()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics returns the /metrics handler and the registry scheduling
// metrics register on.
func setupMetrics() (http.Handler, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}), registry
}

// buildSESClient returns nil unless SES is the selected email provider.
func buildSESClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) notify.SESAPI {
	if cfg.EmailProvider != "ses" {
		return nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		return nil
	}
	return sesv2.NewFromConfig(awsCfg)
}

func buildRouter(cfg *appconfig.Config, rt *bootstrap.Runtime, metricsHandler http.Handler, limiter *httpmiddleware.RateLimiter, logger *logging.Logger) http.Handler {
	return router.New(&router.Config{
		Logger:             logger,
		Sessions:           handlers.NewSessionHandler(rt.Scheduler, rt.Streamer, logger.Component("http")),
		Availability:       handlers.NewAvailabilityHandler(rt.Scheduler, logger.Component("http")),
		Health:             handlers.NewHealthHandler(rt.Checks, logger.Component("health")),
		MetricsHandler:     metricsHandler,
		AuthSecret:         cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
	})
}
