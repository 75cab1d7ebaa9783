package storage

import (
	"context"
	"path/filepath"
	"testing"
)

const testSchema = `CREATE TABLE widgets (name TEXT, count INTEGER);`

func newAuthoritative(t *testing.T) *AuthoritativeStore {
	t.Helper()
	dir := t.TempDir()
	a, err := OpenAuthoritative(filepath.Join(dir, "main.db"), filepath.Join(dir, "storage.journal"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Conn().Exec(testSchema); err != nil {
		t.Fatal(err)
	}
	if err := a.TrackTable("widgets"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAuthoritativeCommitCapturesRowChanges(t *testing.T) {
	ctx := context.Background()
	a := newAuthoritative(t)

	tx, err := a.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO widgets (name, count) VALUES ('a', 1)"); err != nil {
		t.Fatal(err)
	}
	if err := a.RecordApplied(ctx, tx, "client-1", 0); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	cs, err := a.Commit(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	// The mutations table is tracked too, so RecordApplied's upsert is
	// captured after the widgets insert.
	if len(cs.Rows) != 2 || cs.Rows[0].Table != "widgets" || cs.Rows[0].Op != "insert" || cs.Rows[1].Table != "mutations" {
		t.Fatalf("unexpected change set: %+v", cs)
	}

	lsn, ok, err := a.AppliedLSN(ctx, "client-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || lsn != 0 {
		t.Fatalf("applied lsn = %d,%v want 0,true", lsn, ok)
	}

	if a.Journal.LSN() != 1 {
		t.Fatalf("storage journal lsn = %d, want 1", a.Journal.LSN())
	}
}

func TestAuthoritativeCommitIdleProducesNoEntry(t *testing.T) {
	ctx := context.Background()
	a := newAuthoritative(t)

	cs, err := a.Commit(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs.Rows) != 0 {
		t.Fatalf("expected empty change set, got %+v", cs)
	}
	if a.Journal.LSN() != 0 {
		t.Fatalf("idle commit should not append to storage journal, lsn=%d", a.Journal.LSN())
	}
}

func TestOptimisticRevertAndApplyChangeSet(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	o, err := OpenOptimistic(filepath.Join(dir, "local.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer o.Close()

	if _, err := o.Conn().Exec(testSchema); err != nil {
		t.Fatal(err)
	}

	// Authoritative state as of the last pull: row 1 = ("a", 1).
	tx, err := o.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO widgets (rowid, name, count) VALUES (1, 'a', 1)"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := o.Snapshot(ctx); err != nil {
		t.Fatal(err)
	}

	// Optimistic local mutation on top: bump count to 99.
	tx2, err := o.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx2.ExecContext(ctx, "UPDATE widgets SET count = 99 WHERE rowid = 1"); err != nil {
		t.Fatal(err)
	}
	if err := tx2.Commit(); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := o.Conn().QueryRow("SELECT count FROM widgets WHERE rowid = 1").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 99 {
		t.Fatalf("count = %d, want 99 before revert", count)
	}

	if err := o.Revert(ctx); err != nil {
		t.Fatal(err)
	}
	if err := o.Conn().QueryRow("SELECT count FROM widgets WHERE rowid = 1").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 after revert to snapshot", count)
	}

	// Now apply an authoritative change set (server set count to 5).
	cs := ChangeSet{Rows: []RowChange{{Table: "widgets", RowID: 1, Op: "update", After: []byte(`{"name":"a","count":5}`)}}}
	if err := o.ApplyChangeSet(ctx, cs); err != nil {
		t.Fatal(err)
	}
	if err := o.Conn().QueryRow("SELECT count FROM widgets WHERE rowid = 1").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5 after applying change set", count)
	}
}
