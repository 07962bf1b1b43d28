package http

import (
	"context"
	"strconv"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/service/cleanup"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/logger"
	"cleanup_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// RunService is the slice of cleanup.Runner the API drives.
type RunService interface {
	Run(ctx context.Context, opts cleanup.RunOptions) (*domain.RunReport, error)
	Latest() *domain.RunReport
	Running() bool
}

// RunHandler starts runs on demand and reports whether one is active.
type RunHandler struct {
	runs RunService
	// base outlives the request; background runs stop when it is cancelled.
	base context.Context
	log  zerolog.Logger
}

func NewRunHandler(base context.Context, runs RunService) *RunHandler {
	return &RunHandler{runs: runs, base: base, log: logger.Component("run-api")}
}

// Register mounts the run routes. guard protects the mutating route.
func (h *RunHandler) Register(router fiber.Router, guard ...fiber.Handler) {
	runs := router.Group("/runs")
	runs.Get("/status", h.Status)
	runs.Post("/", append(guard, h.StartRun)...)
}

// StartRun starts a run. ?dry_run overrides the configured mode; ?wait=true
// blocks until the run finished and returns its report.
func (h *RunHandler) StartRun(c *fiber.Ctx) error {
	opts := cleanup.RunOptions{}
	if raw := c.Query("dry_run"); raw != "" {
		dryRun, err := strconv.ParseBool(raw)
		if err != nil {
			return response.BadRequest(c, "dry_run must be a boolean")
		}
		opts.DryRun = &dryRun
	}

	if c.QueryBool("wait", false) {
		report, err := h.runs.Run(c.UserContext(), opts)
		if report == nil && err != nil {
			return err
		}
		return response.OK(c, report)
	}

	if h.runs.Running() {
		return apperr.Conflict("a run is already in progress")
	}
	requestedBy, _ := c.Locals("operator").(string)
	go func() {
		report, err := h.runs.Run(h.base, opts)
		switch {
		case apperr.HasCode(err, apperr.CodeConflict):
			h.log.Info().Msg("background run skipped, another run started first")
		case err != nil && report == nil:
			h.log.Error().Err(err).Msg("background run failed to start")
		case report != nil:
			h.log.Info().Str("run_id", report.RunID).Str("status", string(report.Status)).
				Str("requested_by", requestedBy).Msg("background run finished")
		}
	}()
	return response.Accepted(c, fiber.Map{
		"accepted":     true,
		"requested_at": time.Now().UTC(),
	})
}

// Status reports whether a run is active plus a summary of the last one.
func (h *RunHandler) Status(c *fiber.Ctx) error {
	body := fiber.Map{"running": h.runs.Running()}
	if latest := h.runs.Latest(); latest != nil {
		body["latest"] = fiber.Map{
			"run_id":      latest.RunID,
			"status":      latest.Status,
			"dry_run":     latest.DryRun,
			"started_at":  latest.StartedAt,
			"finished_at": latest.FinishedAt,
			"planned":     latest.Plan.Len(),
		}
	}
	return response.OK(c, body)
}
