package out

import (
	"context"

	"cleanup_worker/core/domain"
)

// AuditPublisher emits execution events to an external stream.
type AuditPublisher interface {
	PublishTransition(ctx context.Context, entry *domain.LedgerEntry) error
	PublishRunFinished(ctx context.Context, report *domain.RunReport) error
}
