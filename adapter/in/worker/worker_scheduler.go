// Package worker holds the in-process triggers that start cleanup runs.
package worker

import (
	"context"
	"sync"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/service/cleanup"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/logger"

	"github.com/rs/zerolog"
)

// =============================================================================
// RunScheduler - periodic cleanup sweeps
// =============================================================================

const (
	DefaultScheduleInterval = 24 * time.Hour
	DefaultStartupDelay     = 30 * time.Second
)

// Runner starts a run and blocks until it finished.
type Runner interface {
	Run(ctx context.Context, opts cleanup.RunOptions) (*domain.RunReport, error)
}

type RunScheduler struct {
	runner       Runner
	interval     time.Duration
	startupDelay time.Duration
	runOnStartup bool
	log          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunScheduler sweeps every interval. With runOnStartup the first sweep
// happens after the startup delay instead of one full interval.
func NewRunScheduler(runner Runner, interval time.Duration, runOnStartup bool) *RunScheduler {
	if interval <= 0 {
		interval = DefaultScheduleInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RunScheduler{
		runner:       runner,
		interval:     interval,
		startupDelay: DefaultStartupDelay,
		runOnStartup: runOnStartup,
		log:          logger.Component("run-scheduler"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the scheduler loop.
func (s *RunScheduler) Start() {
	s.log.Info().Dur("interval", s.interval).Bool("run_on_startup", s.runOnStartup).Msg("starting")
	s.wg.Add(1)
	go s.run()
}

// Stop cancels any active sweep and waits for the loop to exit.
func (s *RunScheduler) Stop() {
	s.log.Info().Msg("stopping")
	s.cancel()
	s.wg.Wait()
}

func (s *RunScheduler) run() {
	defer s.wg.Done()

	if s.runOnStartup {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.startupDelay):
			s.sweep()
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *RunScheduler) sweep() {
	report, err := s.runner.Run(s.ctx, cleanup.RunOptions{})
	switch {
	case apperr.HasCode(err, apperr.CodeConflict):
		s.log.Info().Msg("sweep skipped, a run is already in progress")
	case err != nil && report == nil:
		s.log.Error().Err(err).Msg("sweep failed to start")
	case err != nil:
		s.log.Warn().Err(err).Str("run_id", report.RunID).Str("status", string(report.Status)).Msg("sweep ended with error")
	default:
		s.log.Info().Str("run_id", report.RunID).Str("status", string(report.Status)).Msg("sweep finished")
	}
}

// SetStartupDelay sets the delay before the startup sweep (for testing).
func (s *RunScheduler) SetStartupDelay(d time.Duration) {
	s.startupDelay = d
}
