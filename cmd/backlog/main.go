// Package main runs a single backlog pass and exits. Suitable for a cron
// job or a Kubernetes CronJob.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"presale-settler/internal/app"
	"presale-settler/internal/config"
	"presale-settler/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		os.Stderr.WriteString("init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Backlog.PassTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init", zap.Error(err))
	}
	defer a.Close()

	sum, err := a.Worker.RunOnce(ctx)
	if err != nil {
		logger.Error("backlog pass failed", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
	_ = json.NewEncoder(os.Stdout).Encode(sum)
	if sum.Fail > 0 {
		a.Close()
		os.Exit(2)
	}
}
