package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/campaign-engine/internal/api"
	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	return ln.Close()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logCloser := logger.Configure(logger.Options{
		Level:      cfg.Logging.Level,
		RedactPII:  cfg.Logging.Redact(),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	if err := run(cfg); err != nil {
		logger.Error("server exited", "error", err.Error())
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		return fmt.Errorf("pre-flight check: %w", err)
	}

	ctx := context.Background()
	app, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.pool.Start(); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Handlers:       api.NewHandlers(app.campaigns, app.verifier, app.processes, cfg.Auth.AdminEmail),
		Health:         api.NewHealthChecker(app.db, app.redis, app.pinger, app.pool, cfg.Workers.QueueSize),
		AdminToken:     cfg.Auth.AdminToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        app.metrics,
		MetricsHandler: app.metricsHandler,
	})
	server := api.NewServer(router)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "store", app.storeKind, "jobs", cfg.Jobs.Backend)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case sig := <-done:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err.Error())
	}
	// Running bulk jobs get the rest of the deadline to finish.
	if err := app.pool.Stop(shutdownCtx); err != nil {
		logger.Warn("worker pool did not drain", "error", err.Error())
	}
	logger.Info("server stopped")
	return runErr
}
