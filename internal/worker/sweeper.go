package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/timer"
)

// Sweepable is implemented by timer.Manager.
type Sweepable interface {
	Sweep(ctx context.Context) (timer.SweepStats, error)
}

// Sweeper drives periodic recomputation of running timers. Overlapping runs are skipped.
type Sweeper struct {
	target   Sweepable
	interval time.Duration
	logger   *zap.Logger
	cron     *cron.Cron
	onSweep  func(stats timer.SweepStats, took time.Duration)
}

// NewSweeper builds a sweeper firing every interval.
func NewSweeper(target Sweepable, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

// OnSweep registers a callback receiving the stats of every completed sweep.
func (s *Sweeper) OnSweep(fn func(stats timer.SweepStats, took time.Duration)) {
	s.onSweep = fn
}

// Start schedules sweeps until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts scheduling and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) timer.SweepStats {
	started := time.Now()
	stats, err := s.target.Sweep(ctx)
	took := time.Since(started)
	if err != nil {
		s.logger.Warn("sweep interrupted", zap.Error(err))
	}
	s.logger.Debug("sweep finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("violated", stats.Violated),
		zap.Int("escalated", stats.Escalated),
		zap.Int("failed", stats.Failed),
		zap.Int("evicted", stats.Evicted),
		zap.Duration("took", took))
	if s.onSweep != nil {
		s.onSweep(stats, took)
	}
	return stats
}
