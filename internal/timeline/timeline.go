// Package timeline implements the client-side Timeline: it
// mediates between the local mutation journal and the local optimistic
// database, running mutations against it and rebasing the pending journal
// tail on top of freshly-pulled authoritative storage state.
package timeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marcus/syncdb/internal/journal"
	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/storage"
)

// MaxSyncLen bounds how many entries a single SyncPrepare call returns.
const MaxSyncLen = 1000

// MutationsMirrorSchema is the client-side mirror of the server's
// mutations table. Storage-journal change sets propagate writes
// to it automatically once the server tracks the "mutations" table with
// storage.EnableChangeCapture, so Rebase can read applied_cursor straight
// out of the local database.
const MutationsMirrorSchema = `
CREATE TABLE IF NOT EXISTS mutations (
	client_id TEXT PRIMARY KEY,
	lsn       INTEGER NOT NULL
);
`

// PoisonNotice is surfaced to the embedder after HandlePoisons drops a
// mutation the server could not apply.
type PoisonNotice struct {
	LSN    journal.LSN
	Reason string
}

// Timeline owns the local mutation journal and mediates its interaction
// with the optimistic database.
type Timeline struct {
	clientID string
	journal  *journal.Journal[mutation.Mutation]
	mutator  mutation.Mutator
	store    *storage.OptimisticStore

	mu            sync.Mutex
	storageCursor journal.LSN
	poisons       []PoisonNotice
}

// New creates a Timeline for clientID over the given local mutation journal,
// mutator, and optimistic store.
func New(clientID string, j *journal.Journal[mutation.Mutation], mutator mutation.Mutator, store *storage.OptimisticStore) *Timeline {
	return &Timeline{clientID: clientID, journal: j, mutator: mutator, store: store}
}

// Journal exposes the underlying journal for the Local façade's push path.
func (t *Timeline) Journal() *journal.Journal[mutation.Mutation] { return t.journal }

// PendingCount returns how many locally-applied-but-unconfirmed mutations
// are sitting in the journal.
func (t *Timeline) PendingCount() int { return t.journal.Len() }

// Pending returns a snapshot of the pending journal entries.
func (t *Timeline) Pending() []journal.Entry[mutation.Mutation] { return t.journal.Snapshot() }

// StorageCursor returns the highest storage-journal position this client
// has pulled from the server.
func (t *Timeline) StorageCursor() journal.LSN {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.storageCursor
}

// SetStorageCursor records the storage cursor after a successful pull.
func (t *Timeline) SetStorageCursor(cursor journal.LSN) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.storageCursor = cursor
}

// PoisonNotices returns the poison notices HandlePoisons has recorded since
// the last ClearPoisonNotices, for the embedder to inspect or clear.
func (t *Timeline) PoisonNotices() []PoisonNotice {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PoisonNotice(nil), t.poisons...)
}

// ClearPoisonNotices drops previously-surfaced poison notices once the
// embedder has handled them.
func (t *Timeline) ClearPoisonNotices() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.poisons = nil
}

// Run appends mutation to the local journal and applies it against the
// local database: append first, then apply. A failed local
// apply is tolerated — the journal entry is retained, and the next rebase
// rebuilds optimistic state from the journal against fresh authoritative
// state. The server is the sole authority on outcome.
func (t *Timeline) Run(ctx context.Context, m mutation.Mutation) (journal.LSN, error) {
	lsn, err := t.journal.Append(m)
	if err != nil {
		return 0, err
	}

	tx, err := t.store.Begin(ctx)
	if err != nil {
		slog.Warn("timeline: begin local apply failed, mutation retained for rebase", "lsn", lsn, "err", err)
		return lsn, nil
	}
	if err := t.mutator.Apply(ctx, tx, m); err != nil {
		tx.Rollback()
		slog.Warn("timeline: local apply failed, mutation retained for rebase", "lsn", lsn, "err", err)
		return lsn, nil
	}
	if err := tx.Commit(); err != nil {
		slog.Warn("timeline: local commit failed, mutation retained for rebase", "lsn", lsn, "err", err)
	}
	return lsn, nil
}

// SyncPrepare delegates to the local journal for a push batch.
func (t *Timeline) SyncPrepare(cursor journal.LSN) journal.Partial[mutation.Mutation] {
	return t.journal.SyncPrepare(cursor, MaxSyncLen)
}

// HandlePoisons truncates any locally-pending mutation the server poison-
// marked and records a notice for each; embedders wanting a different
// response can inspect the notices and compensate themselves.
func (t *Timeline) HandlePoisons(poisons []storage.PoisonNotice) {
	if len(poisons) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range poisons {
		if p.ClientID != t.clientID {
			continue
		}
		lsn := journal.LSN(p.LSN)
		if err := t.journal.TruncateTo(lsn + 1); err != nil {
			slog.Warn("timeline: truncate for poison mark failed", "lsn", lsn, "err", err)
			continue
		}
		t.poisons = append(t.poisons, PoisonNotice{LSN: lsn, Reason: p.Reason})
	}
}

// Rebase re-establishes optimistic state on top of freshly-applied
// authoritative storage data:
//  1. read applied_cursor from the local mutations mirror;
//  2. truncate the journal's confirmed-applied prefix;
//  3. re-apply the remaining pending mutations, in order, on top of the
//     just-received snapshot.
//
// A failed re-application is reported via slog but the journal entry is
// retained; whether to drop it is left to the embedder,
// except for entries a poison notice already accounted for via
// HandlePoisons.
func (t *Timeline) Rebase(ctx context.Context) error {
	appliedCursor, hasApplied, err := t.readAppliedCursor(ctx)
	if err != nil {
		return err
	}

	// No mutations table row means nothing has ever been applied for this
	// client, not that lsn 0 was applied — truncating to 1 in that case
	// would discard the client's own still-pending first mutation.
	if hasApplied {
		if err := t.journal.TruncateTo(appliedCursor + 1); err != nil {
			return err
		}
	}

	for _, entry := range t.journal.Snapshot() {
		tx, err := t.store.Begin(ctx)
		if err != nil {
			slog.Warn("timeline: rebase begin failed", "lsn", entry.LSN, "err", err)
			continue
		}
		if err := t.mutator.Apply(ctx, tx, entry.Value); err != nil {
			tx.Rollback()
			slog.Warn("timeline: rebase re-application failed, mutation retained", "lsn", entry.LSN, "err", err)
			continue
		}
		if err := tx.Commit(); err != nil {
			slog.Warn("timeline: rebase commit failed", "lsn", entry.LSN, "err", err)
		}
	}
	return nil
}

// readAppliedCursor reads this client's applied_cursor from the local
// mutations mirror. The second return distinguishes "no row: nothing has
// ever been applied" (false) from an actual applied_cursor of 0 (true) —
// callers must not conflate the two.
func (t *Timeline) readAppliedCursor(ctx context.Context) (journal.LSN, bool, error) {
	var lsn int64
	row := t.store.Conn().QueryRowContext(ctx, `SELECT lsn FROM mutations WHERE client_id = ?`, t.clientID)
	err := row.Scan(&lsn)
	switch {
	case err == sql.ErrNoRows:
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("timeline: read applied cursor: %w", err)
	}
	return journal.LSN(lsn), true, nil
}
