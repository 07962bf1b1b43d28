package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/service/cleanup"
	"cleanup_worker/pkg/apperr"

	"github.com/stretchr/testify/assert"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) Run(ctx context.Context, _ cleanup.RunOptions) (*domain.RunReport, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &domain.RunReport{RunID: "r", Status: domain.RunCompleted}, ctx.Err()
}

func TestRunScheduler_SweepsOnStartupAndInterval(t *testing.T) {
	runner := &countingRunner{}
	s := NewRunScheduler(runner, 20*time.Millisecond, true)
	s.SetStartupDelay(time.Millisecond)

	s.Start()
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := runner.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runner.calls.Load(), "no sweeps after Stop")
}

func TestRunScheduler_NoStartupSweep(t *testing.T) {
	runner := &countingRunner{}
	s := NewRunScheduler(runner, time.Hour, false)
	s.SetStartupDelay(time.Millisecond)

	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(0), runner.calls.Load())
}

func TestRunScheduler_ConflictIsTolerated(t *testing.T) {
	runner := &countingRunner{err: apperr.Conflict("busy")}
	s := NewRunScheduler(runner, 10*time.Millisecond, false)

	s.Start()
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestNewRunScheduler_DefaultInterval(t *testing.T) {
	s := NewRunScheduler(&countingRunner{}, 0, false)
	assert.Equal(t, DefaultScheduleInterval, s.interval)
}
