package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"cleanup_worker/core/domain"
	"cleanup_worker/pkg/apperr"
	"cleanup_worker/pkg/logger"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// =============================================================================
// Configuration
// =============================================================================

// BadgerConfig configures the embedded ledger store.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	InMemory bool

	// SyncWrites fsyncs every commit. Keep true outside tests.
	SyncWrites bool
}

// Key layout:
//
//	entry/<item key>/<entry id>   -> LedgerEntry JSON
//	succeeded/<item key>          -> entry id
//	run/<run id>/<entry id>       -> item key
const (
	prefixEntry     = "entry/"
	prefixSucceeded = "succeeded/"
	prefixRun       = "run/"
)

type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

// =============================================================================
// BadgerLedger
// =============================================================================

// BadgerLedger is the durable single-node ledger.
type BadgerLedger struct {
	db *badger.DB
}

func OpenBadgerLedger(cfg BadgerConfig) (*BadgerLedger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, apperr.ConfigError("ledger path is required for a persistent ledger")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: logger.Component("ledger")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperr.DatabaseError("open ledger", err)
	}
	return &BadgerLedger{db: db}, nil
}

func (l *BadgerLedger) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	itemKey := entry.Item.Key()

	// Update runs in a serializable transaction; a concurrent SUCCEEDED write conflicts.
	err = l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixSucceeded + itemKey))
		if err == nil {
			return apperr.AlreadySucceeded(itemKey)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set([]byte(prefixEntry+itemKey+"/"+entry.EntryID), data); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixRun+entry.RunID+"/"+entry.EntryID), []byte(itemKey)); err != nil {
			return err
		}
		if entry.State == domain.StateSucceeded {
			return txn.Set([]byte(prefixSucceeded+itemKey), []byte(entry.EntryID))
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case apperr.IsAppError(err):
		return err
	case errors.Is(err, badger.ErrConflict):
		return apperr.Conflict("concurrent ledger write for " + itemKey)
	default:
		return apperr.DatabaseError("append ledger entry", err)
	}
}

func (l *BadgerLedger) IsSucceeded(_ context.Context, item domain.ItemRef) (bool, error) {
	found := false
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixSucceeded + item.Key()))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, apperr.DatabaseError("read ledger", err)
	}
	return found, nil
}

func (l *BadgerLedger) SucceededSet(_ context.Context, items []domain.ItemRef) (map[string]bool, error) {
	out := make(map[string]bool)
	err := l.db.View(func(txn *badger.Txn) error {
		for _, item := range items {
			_, err := txn.Get([]byte(prefixSucceeded + item.Key()))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out[item.Key()] = true
		}
		return nil
	})
	if err != nil {
		return nil, apperr.DatabaseError("read ledger", err)
	}
	return out, nil
}

func (l *BadgerLedger) EntriesForRun(_ context.Context, runID string) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := l.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixRun + runID + "/")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			entryID := string(item.Key()[len(prefix):])
			itemKey, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entry, err := readEntry(txn, string(itemKey), entryID)
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.DatabaseError("read ledger run", err)
	}
	sortEntries(entries)
	return entries, nil
}

func (l *BadgerLedger) History(_ context.Context, item domain.ItemRef) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	err := l.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixEntry + item.Key() + "/")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry domain.LedgerEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.DatabaseError("read ledger history", err)
	}
	return entries, nil
}

func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

func readEntry(txn *badger.Txn, itemKey, entryID string) (*domain.LedgerEntry, error) {
	item, err := txn.Get([]byte(prefixEntry + itemKey + "/" + entryID))
	if err != nil {
		return nil, err
	}
	var entry domain.LedgerEntry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	}); err != nil {
		return nil, err
	}
	return &entry, nil
}

// sortEntries orders by plan sequence, then by entry id (time ordered UUIDv7).
func sortEntries(entries []domain.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Sequence != entries[j].Sequence {
			return entries[i].Sequence < entries[j].Sequence
		}
		return entries[i].EntryID < entries[j].EntryID
	})
}
