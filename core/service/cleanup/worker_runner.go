// Package cleanup orchestrates one run: fetch, decide, plan, execute, report.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/core/service/classification"
	"cleanup_worker/core/service/execution"
	"cleanup_worker/core/service/media"
	"cleanup_worker/core/service/plan"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/logger"
	"cleanup_worker/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// Config
// =============================================================================

// Config bounds one run.
type Config struct {
	DryRun          bool
	DecisionWorkers int
	// MaxMediaItems and MaxEmails stop the listing early; 0 means no limit.
	MaxMediaItems int
	MaxEmails     int
}

func DefaultConfig() Config {
	return Config{DecisionWorkers: 8}
}

func (c Config) Validate() error {
	if c.DecisionWorkers <= 0 {
		return apperr.ConfigErrorf("decision workers %d must be > 0", c.DecisionWorkers)
	}
	if c.MaxMediaItems < 0 || c.MaxEmails < 0 {
		return apperr.ConfigError("per-run item limits must be >= 0")
	}
	return nil
}

// RunOptions override Config for a single run.
type RunOptions struct {
	DryRun *bool
}

// =============================================================================
// Runner
// =============================================================================

// Runner wires the decision units, plan builder and coordinator into one pass.
// Either source may be nil to skip that corpus.
type Runner struct {
	mediaSource out.MediaSource
	emailSource out.EmailSource
	mediaUnit   *media.DecisionUnit
	emailUnit   *classification.EmailDecisionUnit
	builder     *plan.Builder
	ledger      out.LedgerRepository
	coordinator *execution.Coordinator
	reports     out.ReportRepository
	audit       out.AuditPublisher

	cfg Config
	log zerolog.Logger
	now func() time.Time

	running atomic.Bool
	mu      sync.RWMutex
	latest  *domain.RunReport
}

// Deps groups the collaborators of a Runner.
type Deps struct {
	MediaSource out.MediaSource
	EmailSource out.EmailSource
	MediaUnit   *media.DecisionUnit
	EmailUnit   *classification.EmailDecisionUnit
	Builder     *plan.Builder
	Ledger      out.LedgerRepository
	Coordinator *execution.Coordinator
	Reports     out.ReportRepository
	Audit       out.AuditPublisher
	Now         func() time.Time
}

func NewRunner(deps Deps, cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Builder == nil:
		return nil, apperr.ConfigError("plan builder is required")
	case deps.Ledger == nil:
		return nil, apperr.ConfigError("ledger is required")
	case deps.Coordinator == nil:
		return nil, apperr.ConfigError("coordinator is required")
	case deps.MediaSource != nil && deps.MediaUnit == nil:
		return nil, apperr.ConfigError("media source configured without a media decision unit")
	case deps.EmailSource != nil && deps.EmailUnit == nil:
		return nil, apperr.ConfigError("email source configured without an email decision unit")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		mediaSource: deps.MediaSource,
		emailSource: deps.EmailSource,
		mediaUnit:   deps.MediaUnit,
		emailUnit:   deps.EmailUnit,
		builder:     deps.Builder,
		ledger:      deps.Ledger,
		coordinator: deps.Coordinator,
		reports:     deps.Reports,
		audit:       deps.Audit,
		cfg:         cfg,
		log:         logger.Component("cleanup"),
		now:         now,
	}, nil
}

// Latest returns the most recent report produced by this process.
func (r *Runner) Latest() *domain.RunReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool { return r.running.Load() }

// Run executes one full pass. Only one run may be active at a time.
// A report is returned whenever the run got past startup, even on error.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*domain.RunReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, apperr.Conflict("a cleanup run is already in progress")
	}
	defer r.running.Store(false)

	dryRun := r.cfg.DryRun
	if opts.DryRun != nil {
		dryRun = *opts.DryRun
	}

	runID := uuid.Must(uuid.NewV7()).String()
	ctx = logger.ContextWithRunID(ctx, runID)
	log := r.log.With().Str("run_id", runID).Bool("dry_run", dryRun).Logger()

	started := r.now()
	report := &domain.RunReport{
		RunID:     runID,
		DryRun:    dryRun,
		StartedAt: started.UTC(),
		Email:     domain.EmailCounts{BySource: map[domain.DispositionSource]int{}},
	}
	log.Info().Msg("cleanup run started")

	sizes := make(map[string]int64)
	err := r.run(ctx, report, started, dryRun, sizes, log)
	switch {
	case err != nil && ctx.Err() != nil:
		report.Status = domain.RunCancelled
		report.Error = err.Error()
	case err != nil:
		report.Status = domain.RunFailed
		report.Error = err.Error()
	case report.Execution != nil && report.Execution.Cancelled:
		report.Status = domain.RunCancelled
	case dryRun:
		report.Status = domain.RunDryRun
	default:
		report.Status = domain.RunCompleted
	}

	r.finishReport(ctx, report, sizes, log)
	return report, err
}

// run fills sizes with the byte size of every fetched item, keyed by ledger key.
func (r *Runner) run(ctx context.Context, report *domain.RunReport, started time.Time, dryRun bool, sizes map[string]int64, log zerolog.Logger) error {
	items, err := r.fetchMedia(ctx)
	if err != nil {
		return fmt.Errorf("fetch media: %w", err)
	}
	messages, err := r.fetchEmail(ctx)
	if err != nil {
		return fmt.Errorf("fetch email: %w", err)
	}
	report.Media.Fetched = len(items)
	report.Email.Fetched = len(messages)
	for _, it := range items {
		sizes[domain.ItemRef{Kind: domain.ItemMedia, ID: it.ID}.Key()] = it.SizeBytes
	}
	for _, m := range messages {
		sizes[domain.ItemRef{Kind: domain.ItemEmail, ID: m.ID}.Key()] = m.SizeBytes
	}
	log.Info().Int("media", len(items)).Int("email", len(messages)).Msg("sources listed")

	mediaDecisions, err := r.decideMedia(ctx, items, started)
	if err != nil {
		return fmt.Errorf("media decisions: %w", err)
	}
	dispositions, err := r.decideEmail(ctx, messages)
	if err != nil {
		return fmt.Errorf("email decisions: %w", err)
	}

	tallyMedia(report, items, mediaDecisions)
	tallyEmail(report, dispositions)

	candidates := append(plan.FromMedia(mediaDecisions), plan.FromEmail(dispositions)...)
	p, err := r.builder.BuildWithLedger(ctx, r.ledger, candidates)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}
	report.Plan = p
	for _, a := range p.Actions {
		report.PlannedBytes.Add(a.Item.Kind, sizes[a.Item.Key()])
	}
	metrics.PlanSize.Set(float64(p.Len()))
	metrics.PlanExcess.Set(float64(p.Excess))
	log.Info().
		Int("actions", p.Len()).
		Int("excess", p.Excess).
		Int("already_done", p.ExcludedAlreadyDone).
		Str("fingerprint", p.Fingerprint).
		Msg("deletion plan built")

	if dryRun {
		return nil
	}

	summary, err := r.coordinator.Execute(ctx, report.RunID, p)
	report.Execution = summary
	if err != nil {
		return fmt.Errorf("execute plan: %w", err)
	}
	return nil
}

// =============================================================================
// Fetch
// =============================================================================

func (r *Runner) fetchMedia(ctx context.Context) ([]domain.MediaItem, error) {
	if r.mediaSource == nil {
		return nil, nil
	}
	var items []domain.MediaItem
	cursor := ""
	for {
		page, err := r.mediaSource.ListItems(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, it := range page.Items {
			it.FetchOrder = len(items)
			items = append(items, it)
			if r.cfg.MaxMediaItems > 0 && len(items) >= r.cfg.MaxMediaItems {
				return items, nil
			}
		}
		if page.NextCursor == "" {
			return items, nil
		}
		cursor = page.NextCursor
	}
}

func (r *Runner) fetchEmail(ctx context.Context) ([]domain.EmailMessage, error) {
	if r.emailSource == nil {
		return nil, nil
	}
	var messages []domain.EmailMessage
	cursor := ""
	for {
		page, err := r.emailSource.ListMessages(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			m.FetchOrder = len(messages)
			messages = append(messages, m)
			if r.cfg.MaxEmails > 0 && len(messages) >= r.cfg.MaxEmails {
				return messages, nil
			}
		}
		if page.NextCursor == "" {
			return messages, nil
		}
		cursor = page.NextCursor
	}
}

// =============================================================================
// Decide
// =============================================================================

func (r *Runner) decideMedia(ctx context.Context, items []domain.MediaItem, now time.Time) ([]domain.MediaDecision, error) {
	if len(items) == 0 {
		return nil, nil
	}
	dc := r.mediaUnit.Context(now)
	decisions := make([]domain.MediaDecision, len(items))
	err := decideAll(ctx, r.cfg.DecisionWorkers, len(items), func(ctx context.Context, i int) {
		item := items[i]
		faces, err := r.mediaSource.FetchFaces(ctx, &item)
		if err != nil {
			r.log.Warn().Err(err).Str("item_id", item.ID).Msg("face extraction unavailable, keeping item")
			decisions[i] = media.Unavailable(&item)
		} else {
			item.Faces = faces
			decisions[i] = r.mediaUnit.Decide(&item, dc)
		}
		items[i] = item
		metrics.Decisions.WithLabelValues(string(domain.ItemMedia), decisions[i].Decision.String()).Inc()
	})
	if err != nil {
		return nil, err
	}
	return decisions, nil
}

func (r *Runner) decideEmail(ctx context.Context, messages []domain.EmailMessage) ([]domain.EmailDisposition, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	dispositions := make([]domain.EmailDisposition, len(messages))
	err := decideAll(ctx, r.cfg.DecisionWorkers, len(messages), func(ctx context.Context, i int) {
		d := r.emailUnit.Decide(ctx, &messages[i])
		dispositions[i] = d
		metrics.Decisions.WithLabelValues(string(domain.ItemEmail), d.Decision.String()).Inc()
		if d.Escalated {
			outcome := string(d.Source)
			if d.Reason == string(domain.ReasonEscalationMissing) {
				outcome = "unavailable"
			}
			metrics.Escalations.WithLabelValues(outcome).Inc()
		}
	})
	if err != nil {
		return nil, err
	}
	return dispositions, nil
}

// =============================================================================
// Report
// =============================================================================

func tallyMedia(report *domain.RunReport, items []domain.MediaItem, decisions []domain.MediaDecision) {
	for i, d := range decisions {
		switch d.Decision {
		case domain.DecisionDelete:
			report.Media.Delete++
		case domain.DecisionQuarantine:
			report.Media.Quarantine++
			report.Quarantine = append(report.Quarantine, domain.QuarantineItem{
				ItemID:     d.ItemID,
				Name:       items[i].Name,
				Reason:     d.Reason,
				Confidence: d.Confidence,
				Verdicts:   d.Verdicts,
			})
		default:
			report.Media.Keep++
		}
	}
}

func tallyEmail(report *domain.RunReport, dispositions []domain.EmailDisposition) {
	for _, d := range dispositions {
		if d.Decision == domain.DispositionDelete {
			report.Email.Delete++
		} else {
			report.Email.Keep++
		}
		report.Email.BySource[d.Source]++
		if d.Escalated {
			report.Email.Escalated++
			if d.Reason == string(domain.ReasonEscalationMissing) {
				report.Email.EscalationsLost++
			}
		}
	}
}

// finishReport fills the ledger delta, archives and publishes the report.
// It runs detached from cancellation so a cancelled run is still recorded.
func (r *Runner) finishReport(ctx context.Context, report *domain.RunReport, sizes map[string]int64, log zerolog.Logger) {
	ctx = context.WithoutCancel(ctx)

	if !report.DryRun {
		entries, err := r.ledger.EntriesForRun(ctx, report.RunID)
		if err != nil {
			log.Warn().Err(err).Msg("ledger delta unavailable")
		} else {
			report.LedgerDelta = entries
			for _, e := range entries {
				if e.State == domain.StateSucceeded && e.Outcome == domain.OutcomeDeleted {
					report.FreedBytes.Add(e.Item.Kind, sizes[e.Item.Key()])
				}
			}
		}
	}

	report.FinishedAt = r.now().UTC()
	duration := report.FinishedAt.Sub(report.StartedAt)
	metrics.RunDuration.WithLabelValues(string(report.Status)).Observe(duration.Seconds())

	r.mu.Lock()
	r.latest = report
	r.mu.Unlock()

	if r.reports != nil {
		if err := r.reports.Save(ctx, report); err != nil {
			log.Warn().Err(err).Msg("failed to archive run report")
		}
	}
	if r.audit != nil {
		if err := r.audit.PublishRunFinished(ctx, report); err != nil {
			log.Warn().Err(err).Msg("failed to publish run report")
		}
	}

	ev := log.Info()
	if report.Status == domain.RunFailed {
		ev = log.Error().Str("error", report.Error)
	}
	ev.Str("status", string(report.Status)).
		Dur("duration", duration).
		Int("media_delete", report.Media.Delete).
		Int("media_quarantine", report.Media.Quarantine).
		Int("email_delete", report.Email.Delete).
		Int("email_escalated", report.Email.Escalated).
		Int("plan_actions", report.Plan.Len()).
		Int64("freed_bytes", report.FreedBytes.Total()).
		Msg("cleanup run finished")
}
