// Package persistence holds the execution ledger backends.
package persistence

import (
	"context"
	"sync"

	"cleanup_worker/core/domain"
	"cleanup_worker/pkg/apperr"
)

// MemoryLedger is a process-local ledger for dry runs and tests.
type MemoryLedger struct {
	mu        sync.RWMutex
	entries   []domain.LedgerEntry
	succeeded map[string]bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{succeeded: make(map[string]bool)}
}

func (l *MemoryLedger) Append(_ context.Context, entry *domain.LedgerEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := entry.Item.Key()
	if l.succeeded[key] {
		return apperr.AlreadySucceeded(key)
	}
	if entry.State == domain.StateSucceeded {
		l.succeeded[key] = true
	}
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *MemoryLedger) IsSucceeded(_ context.Context, item domain.ItemRef) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.succeeded[item.Key()], nil
}

func (l *MemoryLedger) SucceededSet(_ context.Context, items []domain.ItemRef) (map[string]bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]bool)
	for _, item := range items {
		if l.succeeded[item.Key()] {
			out[item.Key()] = true
		}
	}
	return out, nil
}

func (l *MemoryLedger) EntriesForRun(_ context.Context, runID string) ([]domain.LedgerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range l.entries {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemoryLedger) History(_ context.Context, item domain.ItemRef) ([]domain.LedgerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.LedgerEntry
	for _, e := range l.entries {
		if e.Item == item {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemoryLedger) Close() error { return nil }

// validateEntry rejects entries no backend should store.
func validateEntry(entry *domain.LedgerEntry) error {
	if entry == nil {
		return apperr.InvalidInput("entry", "nil")
	}
	if entry.EntryID == "" {
		return apperr.InvalidInput("entry.entry_id", "empty")
	}
	if entry.Item.ID == "" || entry.Item.Kind == "" {
		return apperr.InvalidInput("entry.item", "empty")
	}
	if entry.State == domain.StatePending {
		return apperr.InvalidInput("entry.state", "PENDING is never recorded")
	}
	return nil
}
