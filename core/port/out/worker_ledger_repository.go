package out

import (
	"context"

	"cleanup_worker/core/domain"
)

// LedgerRepository is the durable, append-only execution ledger.
//
// Append rejects any entry for an item already recorded SUCCEEDED with an
// apperr ALREADY_SUCCEEDED error.
type LedgerRepository interface {
	Append(ctx context.Context, entry *domain.LedgerEntry) error
	IsSucceeded(ctx context.Context, item domain.ItemRef) (bool, error)
	// SucceededSet returns the subset of items recorded SUCCEEDED, keyed by ItemRef.Key.
	SucceededSet(ctx context.Context, items []domain.ItemRef) (map[string]bool, error)
	EntriesForRun(ctx context.Context, runID string) ([]domain.LedgerEntry, error)
	History(ctx context.Context, item domain.ItemRef) ([]domain.LedgerEntry, error)
	Close() error
}
