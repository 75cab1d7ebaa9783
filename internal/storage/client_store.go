package storage

import (
	"context"
	"fmt"
	"io"
	"os"
)

// OptimisticStore is the client's local materialized database. It supports Revert — restoring the last durable authoritative
// snapshot — and ApplyChangeSet — replaying a pulled storage partial.
type OptimisticStore struct {
	*SQLiteStore
	snapshotPath string
}

// OpenOptimistic opens the client's local database at dbPath. Snapshots
// taken after each successful pull are kept alongside it at dbPath+".snapshot".
func OpenOptimistic(dbPath string) (*OptimisticStore, error) {
	st, err := OpenSQLite(dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := st.Conn().Exec(changelogSchema); err != nil {
		st.Close()
		return nil, fmt.Errorf("storage: create changelog table: %w", err)
	}
	return &OptimisticStore{SQLiteStore: st, snapshotPath: dbPath + ".snapshot"}, nil
}

// TrackTable mirrors AuthoritativeStore.TrackTable; tracked purely for
// introspection on the client (e.g. conflict surfacing), not required for
// correctness of revert/apply.
func (o *OptimisticStore) TrackTable(table string) error {
	return EnableChangeCapture(o.Conn(), table)
}

// Revert discards any optimistic state by restoring the database file from
// the last durable snapshot.
// If no snapshot has ever been taken, Revert is a no-op: the client has
// never successfully pulled, so there is nothing to discard.
func (o *OptimisticStore) Revert(ctx context.Context) error {
	if _, err := os.Stat(o.snapshotPath); os.IsNotExist(err) {
		return nil
	}

	path := o.Path()
	if err := o.Checkpoint(); err != nil {
		return fmt.Errorf("storage: checkpoint before revert: %w", err)
	}
	if err := o.SQLiteStore.conn.Close(); err != nil {
		return fmt.Errorf("storage: close before revert: %w", err)
	}

	if err := copyFile(o.snapshotPath, path); err != nil {
		return fmt.Errorf("storage: restore snapshot: %w", err)
	}
	os.Remove(path + "-wal")
	os.Remove(path + "-shm")

	reopened, err := OpenSQLite(path)
	if err != nil {
		return fmt.Errorf("storage: reopen after revert: %w", err)
	}
	o.SQLiteStore = reopened
	return nil
}

// ApplyChangeSet replays a pulled ChangeSet's row changes against the
// database in a single transaction (the client-side half of receiving a
// storage partial).
func (o *OptimisticStore) ApplyChangeSet(ctx context.Context, cs ChangeSet) error {
	if len(cs.Rows) == 0 {
		return nil
	}
	tx, err := o.Begin(ctx)
	if err != nil {
		return err
	}
	for _, rc := range cs.Rows {
		if err := applyRowChange(ctx, tx, rc); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Snapshot captures the current database state as the new durable baseline
// that the next Revert will restore to. Called after applying an
// authoritative storage partial and before rebase replays pending local
// mutations on top, so the baseline never includes unconfirmed local work.
func (o *OptimisticStore) Snapshot(ctx context.Context) error {
	if err := o.Checkpoint(); err != nil {
		return fmt.Errorf("storage: checkpoint before snapshot: %w", err)
	}
	return copyFile(o.Path(), o.snapshotPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
