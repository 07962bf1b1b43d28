// Package execution applies a deletion plan against the remote sources.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/logger"
	"cleanup_worker/pkg/metrics"
	"cleanup_worker/pkg/ratelimit"
	"cleanup_worker/pkg/resilience"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Configuration
// =============================================================================

// Config bounds the execution phase.
type Config struct {
	Concurrency int
	MaxAttempts int
	Backoff     resilience.Backoff
	CallTimeout time.Duration
}

// DefaultConfig returns conservative execution settings.
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		MaxAttempts: 5,
		Backoff:     resilience.DefaultBackoff(),
		CallTimeout: 30 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return apperr.ConfigErrorf("execution concurrency %d must be > 0", c.Concurrency)
	}
	if c.MaxAttempts < 1 {
		return apperr.ConfigErrorf("execution max attempts %d must be >= 1", c.MaxAttempts)
	}
	if c.CallTimeout <= 0 {
		return apperr.ConfigErrorf("execution call timeout %s must be > 0", c.CallTimeout)
	}
	return nil
}

// =============================================================================
// Deleter
// =============================================================================

// Deleter removes one remote item.
type Deleter interface {
	Delete(ctx context.Context, item domain.ItemRef) error
}

// SourceDeleter routes deletions to the media or email source.
type SourceDeleter struct {
	Media out.MediaSource
	Email out.EmailSource
}

func (d SourceDeleter) Delete(ctx context.Context, item domain.ItemRef) error {
	switch item.Kind {
	case domain.ItemMedia:
		if d.Media == nil {
			return apperr.ConfigError("no media source configured")
		}
		return d.Media.DeleteItem(ctx, item.ID)
	case domain.ItemEmail:
		if d.Email == nil {
			return apperr.ConfigError("no email source configured")
		}
		return d.Email.DeleteMessage(ctx, item.ID)
	}
	return apperr.InvalidInput("item.kind", string(item.Kind))
}

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator executes plans with bounded concurrency, retries and a durable ledger.
type Coordinator struct {
	ledger  out.LedgerRepository
	deleter Deleter
	limiter ratelimit.Limiter
	audit   out.AuditPublisher
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithAuditPublisher mirrors every ledger append to an external stream.
func WithAuditPublisher(p out.AuditPublisher) Option {
	return func(c *Coordinator) { c.audit = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(ledger out.LedgerRepository, deleter Deleter, limiter ratelimit.Limiter, cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	c := &Coordinator{
		ledger:  ledger,
		deleter: deleter,
		limiter: limiter,
		cfg:     cfg,
		log:     logger.Component("execution"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// run holds the mutable state of one Execute call.
type run struct {
	id      string
	tracker *actionTracker

	mu      sync.Mutex
	summary domain.ExecutionSummary
}

func (r *run) update(fn func(s *domain.ExecutionSummary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.summary)
}

// Execute dispatches plan actions in sequence order. Cancelling ctx stops new
// dispatches at once; actions already in flight still reach a terminal state
// and are recorded. Per-action failures never abort the plan.
func (c *Coordinator) Execute(ctx context.Context, runID string, plan *domain.DeletionPlan) (*domain.ExecutionSummary, error) {
	r := &run{id: runID, tracker: newActionTracker(plan)}

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Concurrency)

	for i := range plan.Actions {
		action := plan.Actions[i]
		if ctx.Err() != nil {
			break
		}

		done, err := c.ledger.IsSucceeded(ctx, action.Item)
		if err != nil {
			c.log.Error().Err(err).Str("item", action.Item.Key()).Msg("ledger lookup failed, action left pending")
			continue
		}
		if done {
			r.tracker.skip(action.Sequence)
			r.update(func(s *domain.ExecutionSummary) { s.SkippedDone++ })
			continue
		}

		if err := c.limiter.Wait(ctx); err != nil {
			break
		}
		g.Go(func() error {
			c.execute(ctx, r, action)
			return nil
		})
	}
	_ = g.Wait()

	summary := r.summary
	summary.PendingItems = r.tracker.pending()
	summary.NotDispatched = len(summary.PendingItems)
	summary.Cancelled = ctx.Err() != nil

	c.log.Info().
		Str("run_id", runID).
		Int("dispatched", summary.Dispatched).
		Int("succeeded", summary.Succeeded).
		Int("already_gone", summary.AlreadyGone).
		Int("failed", summary.Failed).
		Int("skipped", summary.SkippedDone).
		Int("not_dispatched", summary.NotDispatched).
		Bool("cancelled", summary.Cancelled).
		Msg("plan execution finished")

	return &summary, nil
}

// execute drives one action from PENDING to a terminal state.
func (c *Coordinator) execute(ctx context.Context, r *run, action domain.PlanAction) {
	// Not yet dispatched: a cancelled run leaves the action PENDING.
	if ctx.Err() != nil {
		return
	}

	// Remote calls and ledger writes outlive cancellation so in-flight work is recorded.
	base := context.WithoutCancel(ctx)

	if err := c.append(base, r, action, domain.StateInFlight, 1, "", nil); err != nil {
		if apperr.IsAlreadySucceeded(err) {
			r.tracker.skip(action.Sequence)
			r.update(func(s *domain.ExecutionSummary) { s.SkippedDone++ })
			return
		}
		c.log.Error().Err(err).Str("item", action.Item.Key()).Msg("ledger append failed, action not dispatched")
		return
	}
	if err := r.tracker.transition(action.Sequence, domain.StateInFlight); err != nil {
		c.log.Error().Err(err).Str("item", action.Item.Key()).Msg("unexpected action state")
		return
	}
	r.update(func(s *domain.ExecutionSummary) { s.Dispatched++ })

	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(base, c.cfg.CallTimeout)
		start := time.Now()
		err := c.deleter.Delete(callCtx, action.Item)
		cancel()
		metrics.ObserveRemoteCall(string(action.Item.Kind), "delete", start, err)

		switch {
		case err == nil:
			c.finish(base, r, action, domain.StateSucceeded, attempt, domain.OutcomeDeleted, nil)
			return
		case apperr.IsPermanentRemote(err):
			c.finish(base, r, action, domain.StateSucceeded, attempt, domain.OutcomeAlreadyGone, nil)
			return
		case apperr.IsRejected(err), apperr.IsConfiguration(err), attempt >= c.cfg.MaxAttempts:
			c.finish(base, r, action, domain.StateFailed, attempt, "", err)
			return
		}

		delay := c.cfg.Backoff.Delay(attempt)
		if hint, ok := apperr.RetryAfter(err); ok && hint > delay {
			delay = hint
		}
		c.log.Debug().Err(err).Str("item", action.Item.Key()).Int("attempt", attempt).Dur("delay", delay).Msg("retrying delete")

		if waitErr := resilience.Sleep(ctx, delay); waitErr != nil {
			c.finish(base, r, action, domain.StateFailed, attempt, "", fmt.Errorf("cancelled before retry: %w", err))
			return
		}
		if waitErr := c.limiter.Wait(ctx); waitErr != nil {
			c.finish(base, r, action, domain.StateFailed, attempt, "", fmt.Errorf("cancelled before retry: %w", err))
			return
		}
		r.update(func(s *domain.ExecutionSummary) { s.Retries++ })
		metrics.Retries.WithLabelValues(string(action.Item.Kind)).Inc()
	}
}

// finish moves the action to a terminal state and records it.
func (c *Coordinator) finish(ctx context.Context, r *run, action domain.PlanAction, state domain.ActionState, attempt int, outcome string, cause error) {
	if err := r.tracker.transition(action.Sequence, state); err != nil {
		c.log.Error().Err(err).Str("item", action.Item.Key()).Msg("rejected action transition")
		return
	}

	r.update(func(s *domain.ExecutionSummary) {
		switch {
		case state == domain.StateFailed:
			s.Failed++
			s.FailedItems = append(s.FailedItems, action.Item)
		case outcome == domain.OutcomeAlreadyGone:
			s.AlreadyGone++
		default:
			s.Succeeded++
		}
	})
	metrics.Actions.WithLabelValues(string(action.Item.Kind), state.String()).Inc()

	if err := c.append(ctx, r, action, state, attempt, outcome, cause); err != nil {
		c.log.Error().Err(err).Str("item", action.Item.Key()).Str("state", state.String()).Msg("failed to record terminal state")
	}
	if cause != nil {
		c.log.Warn().Err(cause).Str("item", action.Item.Key()).Int("attempts", attempt).Msg("delete failed")
	}
}

func (c *Coordinator) append(ctx context.Context, r *run, action domain.PlanAction, state domain.ActionState, attempt int, outcome string, cause error) error {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	entry := &domain.LedgerEntry{
		EntryID:     id.String(),
		RunID:       r.id,
		Sequence:    action.Sequence,
		Item:        action.Item,
		State:       state,
		Attempt:     attempt,
		AttemptedAt: c.now().UTC(),
		Outcome:     outcome,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := c.ledger.Append(ctx, entry); err != nil {
		return err
	}
	if c.audit != nil {
		if err := c.audit.PublishTransition(ctx, entry); err != nil {
			c.log.Debug().Err(err).Msg("audit publish failed")
		}
	}
	return nil
}
