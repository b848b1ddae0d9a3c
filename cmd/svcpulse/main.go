// Command svcpulse runs the health and metrics service. "svcpulse check"
// queries a running instance and exits non-zero unless every dependency is up.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BigKAA/svcpulse/internal/app"
	"github.com/BigKAA/svcpulse/internal/config"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("config: load failed", "error", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "check" {
		os.Exit(check(cfg))
	}

	logger := newLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("config: loaded",
		"port", cfg.Port,
		"grpc_port", cfg.GRPCPort,
		"check_interval", cfg.CheckInterval,
		"check_timeout", cfg.CheckTimeout,
		"database_url", cfg.RedactedDatabaseURL(),
	)
	for name, derr := range cfg.DependencyErrors {
		logger.Warn("config: optional dependency misconfigured", "dependency", name, "error", derr)
	}

	a, err := app.New(cfg, app.WithLogger(logger))
	if err != nil {
		logger.Error("app: init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("app: exited with error", "error", err)
		os.Exit(1)
	}
}

// check runs a health check against the local instance: exit 0 when every
// dependency is up, 1 otherwise.
func check(cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	healthy, err := runCheck(ctx, http.DefaultClient, "http://127.0.0.1:"+cfg.Port, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !healthy {
		return 1
	}
	return 0
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
