package persistence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/core/port/out"
	"cleanup_worker/pkg/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(runID string, seq int64, item domain.ItemRef, state domain.ActionState) *domain.LedgerEntry {
	id, _ := uuid.NewV7()
	return &domain.LedgerEntry{
		EntryID:     id.String(),
		RunID:       runID,
		Sequence:    seq,
		Item:        item,
		State:       state,
		Attempt:     1,
		AttemptedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func backends(t *testing.T) map[string]out.LedgerRepository {
	t.Helper()
	b, err := OpenBadgerLedger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return map[string]out.LedgerRepository{
		"memory": NewMemoryLedger(),
		"badger": b,
	}
}

func TestLedger_SucceededIsTerminal(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m1 := domain.ItemRef{Kind: domain.ItemMedia, ID: "m1"}

			require.NoError(t, l.Append(ctx, newEntry("run-1", 1, m1, domain.StateInFlight)))
			done, err := l.IsSucceeded(ctx, m1)
			require.NoError(t, err)
			assert.False(t, done)

			require.NoError(t, l.Append(ctx, newEntry("run-1", 1, m1, domain.StateSucceeded)))
			done, err = l.IsSucceeded(ctx, m1)
			require.NoError(t, err)
			assert.True(t, done)

			err = l.Append(ctx, newEntry("run-2", 1, m1, domain.StateInFlight))
			require.Error(t, err)
			assert.True(t, apperr.IsAlreadySucceeded(err))

			history, err := l.History(ctx, m1)
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.Equal(t, domain.StateInFlight, history[0].State)
			assert.Equal(t, domain.StateSucceeded, history[1].State)
		})
	}
}

func TestLedger_FailedCanBeRetriedLater(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e1 := domain.ItemRef{Kind: domain.ItemEmail, ID: "e1"}

			require.NoError(t, l.Append(ctx, newEntry("run-1", 1, e1, domain.StateInFlight)))
			require.NoError(t, l.Append(ctx, newEntry("run-1", 1, e1, domain.StateFailed)))
			require.NoError(t, l.Append(ctx, newEntry("run-2", 1, e1, domain.StateInFlight)))

			done, err := l.IsSucceeded(ctx, e1)
			require.NoError(t, err)
			assert.False(t, done)
		})
	}
}

func TestLedger_SucceededSetAndRunEntries(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var items []domain.ItemRef
			for i := 1; i <= 3; i++ {
				item := domain.ItemRef{Kind: domain.ItemMedia, ID: fmt.Sprintf("m%d", i)}
				items = append(items, item)
				require.NoError(t, l.Append(ctx, newEntry("run-1", int64(i), item, domain.StateInFlight)))
			}
			require.NoError(t, l.Append(ctx, newEntry("run-1", 2, items[1], domain.StateSucceeded)))
			require.NoError(t, l.Append(ctx, newEntry("run-other", 1, domain.ItemRef{Kind: domain.ItemEmail, ID: "x"}, domain.StateInFlight)))

			set, err := l.SucceededSet(ctx, items)
			require.NoError(t, err)
			assert.Equal(t, map[string]bool{"media:m2": true}, set)

			entries, err := l.EntriesForRun(ctx, "run-1")
			require.NoError(t, err)
			assert.Len(t, entries, 4)
			for _, e := range entries {
				assert.Equal(t, "run-1", e.RunID)
			}
		})
	}
}

func TestLedger_RejectsInvalidEntries(t *testing.T) {
	for name, l := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			item := domain.ItemRef{Kind: domain.ItemMedia, ID: "m1"}

			assert.Error(t, l.Append(ctx, nil))
			assert.Error(t, l.Append(ctx, newEntry("run-1", 1, item, domain.StatePending)))
			assert.Error(t, l.Append(ctx, newEntry("run-1", 1, domain.ItemRef{}, domain.StateInFlight)))
		})
	}
}

func TestOpenBadgerLedger_RequiresPath(t *testing.T) {
	_, err := OpenBadgerLedger(BadgerConfig{})
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestBadgerLedger_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	m1 := domain.ItemRef{Kind: domain.ItemMedia, ID: "m1"}

	l, err := OpenBadgerLedger(BadgerConfig{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, newEntry("run-1", 1, m1, domain.StateInFlight)))
	require.NoError(t, l.Append(ctx, newEntry("run-1", 1, m1, domain.StateSucceeded)))
	require.NoError(t, l.Close())

	l, err = OpenBadgerLedger(BadgerConfig{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	defer l.Close()

	done, err := l.IsSucceeded(ctx, m1)
	require.NoError(t, err)
	assert.True(t, done)
}
