package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"cleanup_worker/core/domain"
	"cleanup_worker/pkg/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// PostgresLedger - shared ledger for multi-host deployments
// =============================================================================

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS deletion_ledger (
	entry_id     TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	sequence     BIGINT NOT NULL,
	item_kind    TEXT NOT NULL,
	item_id      TEXT NOT NULL,
	item_key     TEXT NOT NULL,
	state        TEXT NOT NULL,
	attempt      INT NOT NULL,
	attempted_at TIMESTAMPTZ NOT NULL,
	outcome      TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS deletion_ledger_succeeded_uq
	ON deletion_ledger (item_key) WHERE state = 'SUCCEEDED';
CREATE INDEX IF NOT EXISTS deletion_ledger_run_idx ON deletion_ledger (run_id, sequence);
CREATE INDEX IF NOT EXISTS deletion_ledger_item_idx ON deletion_ledger (item_key, attempted_at);
`

const uniqueViolation = "23505"

type PostgresLedger struct {
	db *sqlx.DB
}

func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Migrate creates the ledger table and indexes.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, ledgerSchema); err != nil {
		return apperr.DatabaseError("migrate ledger", err)
	}
	return nil
}

// =============================================================================
// Entity
// =============================================================================

type ledgerEntity struct {
	EntryID     string    `db:"entry_id"`
	RunID       string    `db:"run_id"`
	Sequence    int64     `db:"sequence"`
	ItemKind    string    `db:"item_kind"`
	ItemID      string    `db:"item_id"`
	ItemKey     string    `db:"item_key"`
	State       string    `db:"state"`
	Attempt     int       `db:"attempt"`
	AttemptedAt time.Time `db:"attempted_at"`
	Outcome     string    `db:"outcome"`
	Error       string    `db:"error"`
}

func (e *ledgerEntity) toDomain() (domain.LedgerEntry, error) {
	state, err := domain.ParseActionState(e.State)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return domain.LedgerEntry{
		EntryID:     e.EntryID,
		RunID:       e.RunID,
		Sequence:    e.Sequence,
		Item:        domain.ItemRef{Kind: domain.ItemKind(e.ItemKind), ID: e.ItemID},
		State:       state,
		Attempt:     e.Attempt,
		AttemptedAt: e.AttemptedAt,
		Outcome:     e.Outcome,
		Error:       e.Error,
	}, nil
}

func toDomainEntries(rows []ledgerEntity) ([]domain.LedgerEntry, error) {
	out := make([]domain.LedgerEntry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toDomain()
		if err != nil {
			return nil, apperr.DatabaseError("decode ledger entry", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// LedgerRepository
// =============================================================================

func (l *PostgresLedger) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	itemKey := entry.Item.Key()

	query := `
		INSERT INTO deletion_ledger (
			entry_id, run_id, sequence, item_kind, item_id, item_key,
			state, attempt, attempted_at, outcome, error
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE NOT EXISTS (
			SELECT 1 FROM deletion_ledger WHERE item_key = $6 AND state = 'SUCCEEDED'
		)`

	res, err := l.db.ExecContext(ctx, query,
		entry.EntryID, entry.RunID, entry.Sequence, string(entry.Item.Kind), entry.Item.ID, itemKey,
		entry.State.String(), entry.Attempt, entry.AttemptedAt, entry.Outcome, entry.Error,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperr.AlreadySucceeded(itemKey)
		}
		return apperr.DatabaseError("append ledger entry", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.AlreadySucceeded(itemKey)
	}
	return nil
}

func (l *PostgresLedger) IsSucceeded(ctx context.Context, item domain.ItemRef) (bool, error) {
	var one int
	err := l.db.GetContext(ctx, &one,
		`SELECT 1 FROM deletion_ledger WHERE item_key = $1 AND state = 'SUCCEEDED'`, item.Key())
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.DatabaseError("read ledger", err)
	}
	return true, nil
}

func (l *PostgresLedger) SucceededSet(ctx context.Context, items []domain.ItemRef) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(items) == 0 {
		return out, nil
	}
	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.Key()
	}

	var found []string
	err := l.db.SelectContext(ctx, &found,
		`SELECT item_key FROM deletion_ledger WHERE state = 'SUCCEEDED' AND item_key = ANY($1)`, pq.Array(keys))
	if err != nil {
		return nil, apperr.DatabaseError("read ledger", err)
	}
	for _, k := range found {
		out[k] = true
	}
	return out, nil
}

func (l *PostgresLedger) EntriesForRun(ctx context.Context, runID string) ([]domain.LedgerEntry, error) {
	var rows []ledgerEntity
	err := l.db.SelectContext(ctx, &rows,
		`SELECT * FROM deletion_ledger WHERE run_id = $1 ORDER BY sequence, entry_id`, runID)
	if err != nil {
		return nil, apperr.DatabaseError("read ledger run", err)
	}
	return toDomainEntries(rows)
}

func (l *PostgresLedger) History(ctx context.Context, item domain.ItemRef) ([]domain.LedgerEntry, error) {
	var rows []ledgerEntity
	err := l.db.SelectContext(ctx, &rows,
		`SELECT * FROM deletion_ledger WHERE item_key = $1 ORDER BY attempted_at, entry_id`, item.Key())
	if err != nil {
		return nil, apperr.DatabaseError("read ledger history", err)
	}
	return toDomainEntries(rows)
}

// Close is a no-op; the sqlx pool is owned by the caller.
func (l *PostgresLedger) Close() error { return nil }
