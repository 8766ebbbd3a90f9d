// Package main runs the settlement service: the payment webhook, the
// backlog trigger, health and metrics endpoints, and the optional
// in-process backlog schedule.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"presale-settler/internal/app"
	"presale-settler/internal/backlog"
	"presale-settler/internal/config"
	"presale-settler/internal/logging"
	"presale-settler/internal/observability"
	"presale-settler/internal/webhook"
)

const (
	webhookPath = "/api/webhooks/helius"
	backlogPath = "/api/worker/pending-sends"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger depends on config; stderr is all we have.
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		os.Stderr.WriteString("init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("settler exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	dispatcher := webhook.NewDispatcher(a.Pipeline, webhook.DispatcherConfig{
		Workers:   cfg.Dispatcher.Workers,
		QueueSize: cfg.Dispatcher.QueueSize,
		Logger:    logger,
	})

	var scheduler *backlog.Scheduler
	if cfg.Backlog.Schedule != "" {
		scheduler, err = backlog.NewScheduler(a.Worker, cfg.Backlog.Schedule, cfg.Backlog.PassTimeout, logger)
		if err != nil {
			_ = dispatcher.Close(context.Background())
			return err
		}
		scheduler.Start()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(cfg, a, dispatcher, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	return shutdown(cfg.Server.ShutdownTimeout, srv, dispatcher, scheduler, logger)
}

// shutdown stops intake first, then drains queued notifications and any
// running backlog pass within one deadline.
func shutdown(timeout time.Duration, srv *http.Server, dispatcher *webhook.Dispatcher, scheduler *backlog.Scheduler, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := dispatcher.Close(ctx); err != nil {
		logger.Warn("dispatcher did not drain before deadline", zap.Error(err))
		errs = append(errs, err)
	}
	if scheduler != nil {
		if err := scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newRouter(cfg *config.Config, a *app.App, dispatcher *webhook.Dispatcher, logger *zap.Logger) *gin.Engine {
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	webhook.NewHandler(cfg.Auth.WebhookSecret, dispatcher, logger).Register(r, webhookPath)
	backlog.NewHandler(a.Worker, cfg.Auth.WorkerSecret, logger).Register(r, backlogPath)
	return r
}
