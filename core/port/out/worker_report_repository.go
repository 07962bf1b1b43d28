package out

import (
	"context"

	"cleanup_worker/core/domain"
)

// ReportRepository archives run reports.
type ReportRepository interface {
	Save(ctx context.Context, report *domain.RunReport) error
	GetByRunID(ctx context.Context, runID string) (*domain.RunReport, error)
	Latest(ctx context.Context) (*domain.RunReport, error)
	List(ctx context.Context, limit int) ([]*domain.RunReport, error)
}
