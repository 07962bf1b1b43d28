package stream

import (
	"context"
	"time"

	"cleanup_worker/core/domain"
)

// Audit event types.
const (
	EventTransition  = "ledger.transition"
	EventRunFinished = "run.finished"
)

// AuditEvent is the payload of every message on the audit stream.
type AuditEvent struct {
	Type    string              `json:"type"`
	RunID   string              `json:"run_id"`
	At      time.Time           `json:"at"`
	Entry   *domain.LedgerEntry `json:"entry,omitempty"`
	Summary *RunSummary         `json:"summary,omitempty"`
}

// RunSummary is the compact form of a RunReport published at the end of a run.
type RunSummary struct {
	Status       domain.RunStatus         `json:"status"`
	DryRun       bool                     `json:"dry_run"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
	Media        domain.MediaCounts       `json:"media"`
	Email        domain.EmailCounts       `json:"email"`
	PlanActions  int                      `json:"plan_actions"`
	PlanExcess   int                      `json:"plan_excess"`
	Fingerprint  string                   `json:"fingerprint,omitempty"`
	Execution    *domain.ExecutionSummary `json:"execution,omitempty"`
	Quarantined  int                      `json:"quarantined"`
	ErrorMessage string                   `json:"error,omitempty"`
}

// AuditPublisher implements out.AuditPublisher over XADD.
type AuditPublisher struct {
	stream *RedisStream
	name   string
	maxLen int64
}

func NewAuditPublisher(stream *RedisStream, name string, maxLen int64) *AuditPublisher {
	if name == "" {
		name = StreamAudit
	}
	return &AuditPublisher{stream: stream, name: name, maxLen: maxLen}
}

func (p *AuditPublisher) PublishTransition(ctx context.Context, entry *domain.LedgerEntry) error {
	_, err := p.stream.Publish(ctx, p.name, p.maxLen, transitionEvent(entry))
	return err
}

func (p *AuditPublisher) PublishRunFinished(ctx context.Context, report *domain.RunReport) error {
	_, err := p.stream.Publish(ctx, p.name, p.maxLen, runFinishedEvent(report))
	return err
}

func transitionEvent(entry *domain.LedgerEntry) AuditEvent {
	return AuditEvent{
		Type:  EventTransition,
		RunID: entry.RunID,
		At:    entry.AttemptedAt,
		Entry: entry,
	}
}

func runFinishedEvent(report *domain.RunReport) AuditEvent {
	s := &RunSummary{
		Status:       report.Status,
		DryRun:       report.DryRun,
		StartedAt:    report.StartedAt,
		FinishedAt:   report.FinishedAt,
		Media:        report.Media,
		Email:        report.Email,
		Execution:    report.Execution,
		Quarantined:  len(report.Quarantine),
		ErrorMessage: report.Error,
	}
	if report.Plan != nil {
		s.PlanActions = report.Plan.Len()
		s.PlanExcess = report.Plan.Excess
		s.Fingerprint = report.Plan.Fingerprint
	}
	return AuditEvent{
		Type:    EventRunFinished,
		RunID:   report.RunID,
		At:      report.FinishedAt,
		Summary: s,
	}
}
