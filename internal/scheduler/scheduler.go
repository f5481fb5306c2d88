package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner is one periodic unit of work, such as a backfill or detection cycle.
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler runs a Runner immediately and then on every tick. Each run gets
// its own goroutine and timeout, so a slow run never delays the next tick and
// runs may overlap.
type Scheduler struct {
	name       string
	runner     Runner
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger

	wg sync.WaitGroup
}

func NewScheduler(name string, runner Runner, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		name:       name,
		runner:     runner,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger.With("scheduler", name),
	}
}

// Start blocks until ctx is done and all in-flight runs have returned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "run_timeout", s.runTimeout)

	s.launch(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.launch(ctx)
		}
	}
}

func (s *Scheduler) launch(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

func (s *Scheduler) run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	startTime := time.Now()
	if err := s.runner.Run(runCtx); err != nil {
		s.logger.Error("run failed", "error", err, "duration", time.Since(startTime))
		return
	}
	s.logger.Debug("run completed", "duration", time.Since(startTime))
}
