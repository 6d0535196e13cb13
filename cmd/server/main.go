// Package main is the entry point for the abgate server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/blueberrycongee/abgate/internal/config"
	"github.com/blueberrycongee/abgate/internal/observability"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file (defaults and environment only when empty)")
	flag.Parse()

	cfgManager, err := config.NewManager(*configPath, nil)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg := cfgManager.Get()

	// Initialize structured logger
	level := new(slog.LevelVar)
	initial, err := observability.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	level.Set(initial)
	redactor := observability.NewRedactor()
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      level,
		Output:     os.Stdout,
		AddSource:  cfg.Logging.AddSource,
		JSONFormat: cfg.Logging.Format != "text",
	}, redactor)
	slog.SetDefault(logger)

	logger.Info("starting abgate", "version", version, "config", cfgManager.Status().Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, redactor)
	if err != nil {
		return err
	}

	reloader := newSettingsReloader(logger, level, a.assigner)
	cfgManager.OnChange(reloader.Reload)
	if *configPath != "" {
		if err := cfgManager.Watch(ctx); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server...")
	case err := <-serveErr:
		logger.Error("server error", "error", err)
		_ = a.close(context.Background())
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := a.close(shutdownCtx); err != nil {
		logger.Error("releasing resources failed", "error", err)
	}
	_ = cfgManager.Close()
	logger.Info("server stopped")
	return nil
}
