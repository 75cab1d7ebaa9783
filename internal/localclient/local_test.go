package localclient

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/marcus/syncdb/internal/journal"
	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/remote"
	"github.com/marcus/syncdb/internal/storage"
	"github.com/marcus/syncdb/internal/timeline"
)

const widgetsSchema = `CREATE TABLE widgets (rowid INTEGER PRIMARY KEY, name TEXT, count INTEGER);`

func addHandler(ctx context.Context, tx storage.Tx, payload json.RawMessage) error {
	var p struct {
		RowID int64  `json:"rowid"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO widgets (rowid, name, count) VALUES (?, ?, 1) ON CONFLICT(rowid) DO UPDATE SET name = excluded.name",
		p.RowID, p.Name)
	return err
}

func addMutation(t *testing.T, rowid int64, name string) mutation.JSONMutation {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"rowid": rowid, "name": name})
	if err != nil {
		t.Fatal(err)
	}
	return mutation.JSONMutation{Op: "add", Payload: json.RawMessage(payload)}
}

func newClient(t *testing.T, clientID string, net Network) (*Local, *timeline.Timeline, *storage.OptimisticStore) {
	t.Helper()
	dir := t.TempDir()

	st, err := storage.OpenOptimistic(filepath.Join(dir, "local.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if _, err := st.Conn().Exec(widgetsSchema); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Conn().Exec(timeline.MutationsMirrorSchema); err != nil {
		t.Fatal(err)
	}
	if err := st.TrackTable("widgets"); err != nil {
		t.Fatal(err)
	}

	mutator := mutation.NewJSONMutator()
	mutator.Register("add", addHandler)

	j := journal.New[mutation.Mutation]()
	tl := timeline.New(clientID, j, mutator, st)
	return New(clientID, tl, st, net), tl, st
}

func TestSingleClientTwoMutationsConverge(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	authStore, err := storage.OpenAuthoritative(filepath.Join(dir, "main.db"), filepath.Join(dir, "storage.journal"))
	if err != nil {
		t.Fatal(err)
	}
	defer authStore.Close()
	if _, err := authStore.Conn().Exec(widgetsSchema); err != nil {
		t.Fatal(err)
	}
	if err := authStore.TrackTable("widgets"); err != nil {
		t.Fatal(err)
	}

	serverMutator := mutation.NewJSONMutator()
	serverMutator.Register("add", addHandler)
	r := remote.New(authStore, serverMutator, "")

	net := NewLoopbackNetwork(r)
	client, tl, clientStore := newClient(t, "c1", net)

	if _, err := client.Run(ctx, addMutation(t, 1, "a")); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Run(ctx, addMutation(t, 2, "b")); err != nil {
		t.Fatal(err)
	}
	if tl.PendingCount() != 2 {
		t.Fatalf("pending = %d, want 2", tl.PendingCount())
	}

	if err := client.PushMutations(ctx); err != nil {
		t.Fatal(err)
	}
	if client.ServerCursor() != 2 {
		t.Fatalf("server cursor = %d, want 2", client.ServerCursor())
	}

	for i := 0; i < 2; i++ {
		res, err := r.Step(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != remote.Applied {
			t.Fatalf("step %d outcome = %v, want Applied", i, res.Outcome)
		}
	}

	if err := client.Pull(ctx); err != nil {
		t.Fatal(err)
	}
	if tl.PendingCount() != 0 {
		t.Fatalf("pending after pull = %d, want 0 (both confirmed applied)", tl.PendingCount())
	}

	var count int
	if err := clientStore.Conn().QueryRow("SELECT COUNT(*) FROM widgets").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("client widget count = %d, want 2", count)
	}

	var serverCount int
	if err := authStore.Conn().QueryRow("SELECT COUNT(*) FROM widgets").Scan(&serverCount); err != nil {
		t.Fatal(err)
	}
	if serverCount != 2 {
		t.Fatalf("server widget count = %d, want 2", serverCount)
	}
}

func TestDuplicatePushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	authStore, err := storage.OpenAuthoritative(filepath.Join(dir, "main.db"), filepath.Join(dir, "storage.journal"))
	if err != nil {
		t.Fatal(err)
	}
	defer authStore.Close()
	if _, err := authStore.Conn().Exec(widgetsSchema); err != nil {
		t.Fatal(err)
	}
	if err := authStore.TrackTable("widgets"); err != nil {
		t.Fatal(err)
	}

	serverMutator := mutation.NewJSONMutator()
	serverMutator.Register("add", addHandler)
	r := remote.New(authStore, serverMutator, "")
	net := NewLoopbackNetwork(r)

	client, _, _ := newClient(t, "c1", net)
	if _, err := client.Run(ctx, addMutation(t, 1, "a")); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Run(ctx, addMutation(t, 2, "b")); err != nil {
		t.Fatal(err)
	}

	if err := client.PushMutations(ctx); err != nil {
		t.Fatal(err)
	}
	firstCursor := client.ServerCursor()

	// Simulate a lost ack: re-push the same partial by resetting the
	// client's idea of what's confirmed.
	client.mu.Lock()
	client.serverCursor = 0
	client.mu.Unlock()

	if err := client.PushMutations(ctx); err != nil {
		t.Fatal(err)
	}
	if client.ServerCursor() != firstCursor {
		t.Fatalf("re-push cursor = %d, want %d", client.ServerCursor(), firstCursor)
	}

	j, err := r.ClientJournal("c1")
	if err != nil {
		t.Fatal(err)
	}
	if j.Len() != 2 {
		t.Fatalf("server journal len = %d, want 2 (no duplication)", j.Len())
	}
}
