package backlog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs backlog passes on a cron schedule inside the service.
// A tick that fires while the previous pass is still running is dropped.
type Scheduler struct {
	runner  Runner
	cron    *cron.Cron
	timeout time.Duration
	running atomic.Bool
	logger  *zap.Logger
}

// NewScheduler parses spec (standard five-field cron or a descriptor such as
// "@every 1m") and prepares the schedule. Passes are bounded by timeout.
func NewScheduler(runner Runner, spec string, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	s := &Scheduler{
		runner:  runner,
		cron:    cron.New(),
		timeout: timeout,
		logger:  logger.Named("backlog_cron"),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("parse backlog schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("backlog schedule started")
}

// Stop halts the schedule and waits for a running pass, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("backlog schedule stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("previous backlog pass still running; tick skipped")
		return
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.runner.RunOnce(ctx); err != nil {
		s.logger.Error("scheduled backlog pass", zap.Error(err))
	}
}
