package bootstrap

import (
	"context"

	"cleanup_worker/adapter/in/worker"
	"cleanup_worker/config"
	"cleanup_worker/internal/stream"
	"cleanup_worker/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker owns the background run triggers: the periodic scheduler and the
// Redis run-request consumer. Both share the Runner, so overlapping triggers
// are coalesced by its single-run guard.
type Worker struct {
	deps      *Dependencies
	scheduler *worker.RunScheduler
	consumer  *stream.Consumer
	ctx       context.Context
	cancel    context.CancelFunc
	zlog      zerolog.Logger
}

func NewWorker(cfg *config.Config, deps *Dependencies) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   logger.Component("worker"),
	}

	if cfg.SchedulerEnabled {
		w.scheduler = worker.NewRunScheduler(deps.Runner, cfg.ScheduleInterval, cfg.ScheduleOnStartup)
	}

	if deps.Stream != nil {
		w.consumer = stream.NewConsumer(deps.Stream, deps.Runner, cfg.WorkerID)
		logger.Info("Run request consumer configured on %s", stream.StreamRunRequests)
	} else {
		logger.Warn("Redis not available, runs are only started by the scheduler or the API")
	}
	return w
}

// Start launches the triggers and blocks until Stop.
func (w *Worker) Start() {
	if w.consumer != nil {
		if err := w.consumer.Start(w.ctx); err != nil {
			w.zlog.Error().Err(err).Msg("run request consumer failed to start")
		}
	}
	if w.scheduler != nil {
		w.scheduler.Start()
	}
	<-w.ctx.Done()
}

// Stop cancels the consumer and any scheduled sweep in flight.
func (w *Worker) Stop() {
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	w.cancel()
}
