package stream

import (
	"context"
	"fmt"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/service/cleanup"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// RunRequest asks a worker to start a run.
type RunRequest struct {
	RequestID   string    `json:"request_id"`
	DryRun      *bool     `json:"dry_run,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// RunTrigger starts a run and blocks until it finished.
type RunTrigger interface {
	Run(ctx context.Context, opts cleanup.RunOptions) (*domain.RunReport, error)
}

// Consumer turns run requests on StreamRunRequests into runs.
type Consumer struct {
	stream  *RedisStream
	trigger RunTrigger
	name    string
	log     zerolog.Logger
}

func NewConsumer(stream *RedisStream, trigger RunTrigger, name string) *Consumer {
	return &Consumer{
		stream:  stream,
		trigger: trigger,
		name:    name,
		log:     logger.Component("run-consumer"),
	}
}

// Start creates the consumer group and consumes in the background until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.stream.CreateGroup(ctx, StreamRunRequests); err != nil {
		return fmt.Errorf("create group for %s: %w", StreamRunRequests, err)
	}
	go c.stream.Consume(ctx, StreamRunRequests, c.name, c.handle)
	return nil
}

func (c *Consumer) handle(ctx context.Context, id string, data []byte) error {
	req, err := decodeRunRequest(data)
	if err != nil {
		// Malformed requests are acked and dropped.
		c.log.Warn().Err(err).Str("id", id).Msg("dropping malformed run request")
		return nil
	}

	log := c.log.With().Str("request_id", req.RequestID).Str("requested_by", req.RequestedBy).Logger()
	report, err := c.trigger.Run(ctx, cleanup.RunOptions{DryRun: req.DryRun})
	switch {
	case apperr.HasCode(err, apperr.CodeConflict):
		log.Info().Msg("run already in progress, request coalesced")
		return nil
	case err != nil && report == nil:
		return err
	case err != nil:
		log.Warn().Err(err).Str("run_id", report.RunID).Str("status", string(report.Status)).Msg("requested run ended with error")
		return nil
	}
	log.Info().Str("run_id", report.RunID).Str("status", string(report.Status)).Msg("requested run finished")
	return nil
}

func decodeRunRequest(data []byte) (*RunRequest, error) {
	var req RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, apperr.InvalidInput("run request", err.Error())
	}
	if req.RequestID == "" {
		return nil, apperr.InvalidInput("request_id", "required")
	}
	return &req, nil
}
