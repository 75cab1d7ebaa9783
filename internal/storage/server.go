package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/marcus/syncdb/internal/journal"
)

// mutationsSchema is the reserved table that is the sole source of truth
// for what has been applied: mutations_table mapping
// client_id -> applied_lsn, updated in the same transaction as the
// mutation it records.
const mutationsSchema = `
CREATE TABLE IF NOT EXISTS mutations (
	client_id TEXT PRIMARY KEY,
	lsn       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS poison_marks (
	client_id TEXT NOT NULL,
	lsn       INTEGER NOT NULL,
	reason    TEXT NOT NULL,
	PRIMARY KEY (client_id, lsn)
);
`

// AuthoritativeStore is the server's authoritative database plus its
// storage journal. It is single-writer: only the step task
// should call Commit.
type AuthoritativeStore struct {
	*SQLiteStore
	Journal *journal.Journal[ChangeSet]

	mu      sync.Mutex
	lastSeq int64
}

// OpenAuthoritative opens the authoritative database at dbPath and its
// storage journal at journalPath, creating the reserved mutations and
// poison_marks tables.
func OpenAuthoritative(dbPath, journalPath string) (*AuthoritativeStore, error) {
	st, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := st.Conn().Exec(mutationsSchema); err != nil {
		st.Close()
		return nil, fmt.Errorf("storage: create mutations table: %w", err)
	}
	if _, err := st.Conn().Exec(changelogSchema); err != nil {
		st.Close()
		return nil, fmt.Errorf("storage: create changelog table: %w", err)
	}

	j, err := journal.Open[ChangeSet](journalPath, ChangeSetCodec{})
	if err != nil {
		st.Close()
		return nil, err
	}

	// Track the mutations table itself so applied-cursor updates ride the
	// storage journal to clients like any other row change.
	if err := EnableChangeCapture(st.Conn(), "mutations"); err != nil {
		st.Close()
		return nil, fmt.Errorf("storage: track mutations table: %w", err)
	}

	return &AuthoritativeStore{SQLiteStore: st, Journal: j}, nil
}

// Close closes the storage journal before the underlying database
// connection, so the journal's file lock is released in either order
// of shutdown.
func (a *AuthoritativeStore) Close() error {
	a.Journal.Close()
	return a.SQLiteStore.Close()
}

// TrackTable installs row-level change capture on an application table so
// its writes are reflected in the storage journal.
func (a *AuthoritativeStore) TrackTable(table string) error {
	return EnableChangeCapture(a.Conn(), table)
}

// AppliedLSN returns the highest LSN durably applied for clientID, or
// (0, false) if the client has never had a mutation applied.
func (a *AuthoritativeStore) AppliedLSN(ctx context.Context, clientID string) (journal.LSN, bool, error) {
	var lsn int64
	err := a.Conn().QueryRowContext(ctx, `SELECT lsn FROM mutations WHERE client_id = ?`, clientID).Scan(&lsn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("storage: read applied lsn: %w", err)
	}
	return journal.LSN(lsn), true, nil
}

// RecordApplied writes the (client_id, lsn) applied-marker within the same
// transaction as the mutation's effects.
func (a *AuthoritativeStore) RecordApplied(ctx context.Context, tx Tx, clientID string, lsn journal.LSN) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO mutations (client_id, lsn) VALUES (?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET lsn = excluded.lsn`,
		clientID, int64(lsn))
	if err != nil {
		return fmt.Errorf("storage: record applied: %w", err)
	}
	return nil
}

// RecordPoison records a poison mark for (client_id, lsn) in the same
// transaction, and advances applied[client_id] past it.
func (a *AuthoritativeStore) RecordPoison(ctx context.Context, tx Tx, clientID string, lsn journal.LSN, reason string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO poison_marks (client_id, lsn, reason) VALUES (?, ?, ?)`,
		clientID, int64(lsn), reason); err != nil {
		return fmt.Errorf("storage: record poison: %w", err)
	}
	return a.RecordApplied(ctx, tx, clientID, lsn)
}

// Commit closes out the current storage-journal change set: it drains rows
// accumulated in __changelog since the last Commit, appends them (plus any
// pending poison notices) as one entry to the storage journal, and starts a
// fresh accumulation window.
//
// This runs after the mutation's own transaction has already committed; the
// rows it reads are already durable, so Commit only needs a short
// transaction of its own to drain-and-delete the changelog atomically.
func (a *AuthoritativeStore) Commit(ctx context.Context, poisons []PoisonNotice) (ChangeSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.Begin(ctx)
	if err != nil {
		return ChangeSet{}, err
	}
	rows, maxSeq, err := drainChangelog(ctx, tx, a.lastSeq)
	if err != nil {
		tx.Rollback()
		return ChangeSet{}, err
	}
	if err := tx.Commit(); err != nil {
		return ChangeSet{}, fmt.Errorf("storage: commit changelog drain: %w", err)
	}
	a.lastSeq = maxSeq

	cs := ChangeSet{Rows: rows, Poisons: poisons}
	if len(cs.Rows) == 0 && len(cs.Poisons) == 0 {
		return cs, nil // nothing to publish this round
	}
	if _, err := a.Journal.Append(cs); err != nil {
		return cs, fmt.Errorf("storage: append storage journal: %w", err)
	}
	return cs, nil
}

// ReadSince returns storage-journal change sets from cursor forward, for a
// client's SyncStorage pull.
func (a *AuthoritativeStore) ReadSince(cursor journal.LSN, maxBatch int) journal.Partial[ChangeSet] {
	return a.Journal.SyncPrepare(cursor, maxBatch)
}
