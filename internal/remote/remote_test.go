package remote

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/marcus/syncdb/internal/journal"
	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/storage"
)

const widgetsSchema = `CREATE TABLE widgets (rowid INTEGER PRIMARY KEY, name TEXT, count INTEGER);`

func newTestRemote(t *testing.T) (*Remote, *storage.AuthoritativeStore) {
	t.Helper()
	dir := t.TempDir()

	st, err := storage.OpenAuthoritative(filepath.Join(dir, "main.db"), filepath.Join(dir, "storage.journal"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if _, err := st.Conn().Exec(widgetsSchema); err != nil {
		t.Fatal(err)
	}
	if err := st.TrackTable("widgets"); err != nil {
		t.Fatal(err)
	}

	mutator := mutation.NewJSONMutator()
	mutator.Register("set", func(ctx context.Context, tx storage.Tx, payload json.RawMessage) error {
		var p struct {
			RowID int64  `json:"rowid"`
			Name  string `json:"name"`
			Count int    `json:"count"`
		}
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO widgets (rowid, name, count) VALUES (?, ?, ?) ON CONFLICT(rowid) DO UPDATE SET name = excluded.name, count = excluded.count",
			p.RowID, p.Name, p.Count)
		return err
	})

	return New(st, mutator, ""), st
}

func setMutation(t *testing.T, rowid int64, name string, count int) mutation.JSONMutation {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"rowid": rowid, "name": name, "count": count})
	if err != nil {
		t.Fatal(err)
	}
	return mutation.JSONMutation{Op: "set", Payload: json.RawMessage(payload)}
}

func TestStepIdleOnEmptyJournals(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRemote(t)

	res, err := r.Step(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Idle {
		t.Fatalf("outcome = %v, want Idle", res.Outcome)
	}
}

func TestReceiveAndStepApplies(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRemote(t)

	j := journal.New[mutation.Mutation]()
	lsn, err := j.Append(setMutation(t, 1, "a", 1))
	if err != nil {
		t.Fatal(err)
	}
	partial := j.SyncPrepare(0, 10)

	newCursor, err := r.Receive(ctx, "c1", partial)
	if err != nil {
		t.Fatal(err)
	}
	if newCursor != 1 {
		t.Fatalf("new cursor = %d, want 1", newCursor)
	}

	res, err := r.Step(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Applied || res.ClientID != "c1" || res.LSN != lsn {
		t.Fatalf("unexpected step result: %+v", res)
	}

	applied, ok := r.Applied("c1")
	if !ok || applied != 0 {
		t.Fatalf("applied = %d,%v want 0,true", applied, ok)
	}

	idle, err := r.Step(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if idle.Outcome != Idle {
		t.Fatalf("second step outcome = %v, want Idle", idle.Outcome)
	}
}

func TestStepTieBreaksLexicographicByClientID(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRemote(t)

	for _, id := range []string{"zeta", "alpha"} {
		j := journal.New[mutation.Mutation]()
		if _, err := j.Append(setMutation(t, 1, id, 1)); err != nil {
			t.Fatal(err)
		}
		if _, err := r.Receive(ctx, id, j.SyncPrepare(0, 10)); err != nil {
			t.Fatal(err)
		}
	}

	res, err := r.Step(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.ClientID != "alpha" {
		t.Fatalf("client = %q, want alpha (lexicographic tie-break)", res.ClientID)
	}
}

func TestReceiveRejectsBackpressure(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRemote(t)
	r.backpressureLimit = 1

	j := journal.New[mutation.Mutation]()
	if _, err := j.Append(setMutation(t, 1, "a", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := j.Append(setMutation(t, 2, "b", 2)); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Receive(ctx, "c1", j.SyncPrepare(0, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive(ctx, "c1", j.SyncPrepare(1, 1)); err == nil {
		t.Fatal("expected backpressure error")
	}
}

func TestStepPoisonsFailingMutation(t *testing.T) {
	ctx := context.Background()
	r, st := newTestRemote(t)

	mutator := mutation.NewJSONMutator() // no "bad" handler registered
	r.mutator = mutator

	j := journal.New[mutation.Mutation]()
	if _, err := j.Append(mutation.JSONMutation{Op: "bad", Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Receive(ctx, "c1", j.SyncPrepare(0, 10)); err != nil {
		t.Fatal(err)
	}

	res, err := r.Step(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Poisoned {
		t.Fatalf("outcome = %v, want Poisoned", res.Outcome)
	}

	applied, ok := r.Applied("c1")
	if !ok || applied != 0 {
		t.Fatalf("applied = %d,%v want 0,true (advanced past poison)", applied, ok)
	}

	cs := st.Journal.SyncPrepare(0, 10)
	if cs.Len() != 1 || len(cs.Entries[0].Value.Poisons) != 1 {
		t.Fatalf("expected one storage entry carrying a poison notice, got %+v", cs)
	}
}
