package http

import (
	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ReportHandler serves archived run reports, the quarantine list and
// per-item ledger history.
type ReportHandler struct {
	runs    RunService
	reports out.ReportRepository
	ledger  out.LedgerRepository
}

// NewReportHandler accepts a nil reports repository; only the in-memory
// latest report is served then.
func NewReportHandler(runs RunService, reports out.ReportRepository, ledger out.LedgerRepository) *ReportHandler {
	return &ReportHandler{runs: runs, reports: reports, ledger: ledger}
}

// Register registers report routes.
func (h *ReportHandler) Register(router fiber.Router) {
	reports := router.Group("/reports")
	reports.Get("/", h.ListReports)
	reports.Get("/latest", h.GetLatestReport)
	reports.Get("/:id", h.GetReport)

	router.Get("/quarantine", h.GetQuarantine)
	router.Get("/ledger/:kind/:id", h.GetItemHistory)
}

// =============================================================================
// Handlers
// =============================================================================

// ListReports returns archived reports, newest first.
func (h *ReportHandler) ListReports(c *fiber.Ctx) error {
	if h.reports == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "report archive not configured")
	}
	limit := response.Limit(c, 20, 100)
	reports, err := h.reports.List(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, response.SelectFields(c, reports), &response.Meta{
		Total:   len(reports),
		Limit:   limit,
		HasMore: len(reports) == limit,
	})
}

func (h *ReportHandler) GetReport(c *fiber.Ctx) error {
	runID := c.Params("id")
	if latest := h.runs.Latest(); latest != nil && latest.RunID == runID {
		return response.OK(c, response.SelectFields(c, latest))
	}
	if h.reports == nil {
		return response.NotFound(c, "run report not found")
	}
	report, err := h.reports.GetByRunID(c.UserContext(), runID)
	if err != nil {
		return err
	}
	return response.OK(c, response.SelectFields(c, report))
}

// GetLatestReport prefers the in-process report over the archive.
func (h *ReportHandler) GetLatestReport(c *fiber.Ctx) error {
	report, err := h.latest(c)
	if err != nil {
		return err
	}
	return response.OK(c, response.SelectFields(c, report))
}

// GetQuarantine lists the latest run's quarantined media for manual review.
func (h *ReportHandler) GetQuarantine(c *fiber.Ctx) error {
	report, err := h.latest(c)
	if err != nil {
		return err
	}
	items := report.Quarantine
	if items == nil {
		items = []domain.QuarantineItem{}
	}
	return response.OKWithMeta(c, fiber.Map{
		"run_id": report.RunID,
		"items":  items,
	}, &response.Meta{Total: len(items)})
}

// GetItemHistory returns every ledger entry recorded for one item.
func (h *ReportHandler) GetItemHistory(c *fiber.Ctx) error {
	kind := domain.ItemKind(c.Params("kind"))
	if kind != domain.ItemMedia && kind != domain.ItemEmail {
		return response.BadRequest(c, "kind must be media or email")
	}
	item := domain.ItemRef{Kind: kind, ID: c.Params("id")}
	entries, err := h.ledger.History(c.UserContext(), item)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	succeeded := false
	for _, e := range entries {
		if e.State == domain.StateSucceeded {
			succeeded = true
		}
	}
	return response.OK(c, fiber.Map{
		"item":      item,
		"succeeded": succeeded,
		"entries":   entries,
	})
}

func (h *ReportHandler) latest(c *fiber.Ctx) (*domain.RunReport, error) {
	if report := h.runs.Latest(); report != nil {
		return report, nil
	}
	if h.reports == nil {
		return nil, apperr.NotFound("run report")
	}
	return h.reports.Latest(c.UserContext())
}
