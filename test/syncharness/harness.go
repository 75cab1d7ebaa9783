// Package syncharness is an in-process integration harness for the sync
// core: one authoritative server plus N local clients wired together over
// an in-memory LoopbackNetwork, all exercising a demo "notes" key/value
// table: one SQLite-backed server, several SQLite-backed clients, push/pull
// helpers, and a convergence assertion over the sync core's Mutation/Mutator
// contract.
package syncharness

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/syncdb/internal/journal"
	"github.com/marcus/syncdb/internal/localclient"
	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/remote"
	"github.com/marcus/syncdb/internal/storage"
	"github.com/marcus/syncdb/internal/timeline"
)

const notesSchema = `
CREATE TABLE IF NOT EXISTS notes (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

type setPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type deletePayload struct {
	Key string `json:"key"`
}

// newNotesMutator builds a JSONMutator with set/delete handlers over the
// notes table, mirroring cmd's demo mutator for use in tests that don't
// import the cmd package.
func newNotesMutator() *mutation.JSONMutator {
	m := mutation.NewJSONMutator()
	m.Register("set", func(ctx context.Context, tx storage.Tx, payload json.RawMessage) error {
		var p setPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("syncharness: decode set payload: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO notes (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			p.Key, p.Value)
		return err
	})
	m.Register("delete", func(ctx context.Context, tx storage.Tx, payload json.RawMessage) error {
		var p deletePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("syncharness: decode delete payload: %w", err)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE key = ?`, p.Key)
		return err
	})
	return m
}

// Harness runs one authoritative server and numClients local clients
// against it, all in one process.
type Harness struct {
	t *testing.T

	dir    string
	Server *storage.AuthoritativeStore
	Remote *remote.Remote

	clients map[string]*clientHandle
}

type clientHandle struct {
	local *localclient.Local
	store *storage.OptimisticStore
}

// NewHarness opens a fresh authoritative store and numClients local
// clients (named client-0..client-N-1), all rooted under t.TempDir().
func NewHarness(t *testing.T, numClients int) *Harness {
	t.Helper()
	dir := t.TempDir()

	server, err := storage.OpenAuthoritative(
		filepath.Join(dir, "server", "authoritative.db"),
		filepath.Join(dir, "server", "storage.journal"),
	)
	if err != nil {
		t.Fatalf("open authoritative store: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	if _, err := server.Conn().Exec(notesSchema); err != nil {
		t.Fatalf("create notes table: %v", err)
	}
	if err := server.TrackTable("notes"); err != nil {
		t.Fatalf("track notes table: %v", err)
	}

	r := remote.New(server, newNotesMutator(), filepath.Join(dir, "server", "clients"))
	t.Cleanup(func() { r.Close() })

	h := &Harness{t: t, dir: dir, Server: server, Remote: r, clients: make(map[string]*clientHandle)}
	for i := 0; i < numClients; i++ {
		h.addClient(fmt.Sprintf("client-%d", i))
	}
	return h
}

func (h *Harness) addClient(clientID string) {
	h.t.Helper()

	store, err := storage.OpenOptimistic(filepath.Join(h.dir, clientID, "local.db"))
	if err != nil {
		h.t.Fatalf("open optimistic store for %s: %v", clientID, err)
	}
	h.t.Cleanup(func() { store.Close() })

	if _, err := store.Conn().Exec(notesSchema); err != nil {
		h.t.Fatalf("create notes table for %s: %v", clientID, err)
	}
	if err := store.TrackTable("notes"); err != nil {
		h.t.Fatalf("track notes table for %s: %v", clientID, err)
	}
	if _, err := store.Conn().Exec(timeline.MutationsMirrorSchema); err != nil {
		h.t.Fatalf("create mutations mirror for %s: %v", clientID, err)
	}

	j, err := journal.Open[mutation.Mutation](filepath.Join(h.dir, clientID, "local.journal"), mutation.ReferenceCodec{})
	if err != nil {
		h.t.Fatalf("open journal for %s: %v", clientID, err)
	}
	h.t.Cleanup(func() { j.Close() })

	tl := timeline.New(clientID, j, newNotesMutator(), store)
	local := localclient.New(clientID, tl, store, localclient.NewLoopbackNetwork(h.Remote))

	h.clients[clientID] = &clientHandle{local: local, store: store}
}

func (h *Harness) client(clientID string) *clientHandle {
	h.t.Helper()
	c, ok := h.clients[clientID]
	if !ok {
		h.t.Fatalf("unknown client %q", clientID)
	}
	return c
}

// Set runs a "set" mutation locally for clientID.
func (h *Harness) Set(clientID, key, value string) {
	h.t.Helper()
	payload, _ := json.Marshal(setPayload{Key: key, Value: value})
	h.mutate(clientID, "set", payload)
}

// Delete runs a "delete" mutation locally for clientID.
func (h *Harness) Delete(clientID, key string) {
	h.t.Helper()
	payload, _ := json.Marshal(deletePayload{Key: key})
	h.mutate(clientID, "delete", payload)
}

func (h *Harness) mutate(clientID, op string, payload json.RawMessage) {
	h.t.Helper()
	c := h.client(clientID)
	if _, err := c.local.Run(context.Background(), mutation.JSONMutation{Op: op, Payload: payload}); err != nil {
		h.t.Fatalf("%s: run %s: %v", clientID, op, err)
	}
}

// Push sends clientID's journal tail to the server.
func (h *Harness) Push(clientID string) {
	h.t.Helper()
	if err := h.client(clientID).local.PushMutations(context.Background()); err != nil {
		h.t.Fatalf("%s: push: %v", clientID, err)
	}
}

// DrainSteps runs Remote.Step until the server has nothing left to apply,
// bounded so a stuck test fails instead of hanging.
func (h *Harness) DrainSteps() {
	h.t.Helper()
	for i := 0; i < 10000; i++ {
		result, err := h.Remote.Step(context.Background())
		if err != nil {
			h.t.Fatalf("step: %v", err)
		}
		if result.Outcome == remote.Idle {
			return
		}
	}
	h.t.Fatalf("DrainSteps: exceeded iteration bound, server may be stuck")
}

// Pull fetches and rebases fresh storage state for clientID.
func (h *Harness) Pull(clientID string) {
	h.t.Helper()
	if err := h.client(clientID).local.Pull(context.Background()); err != nil {
		h.t.Fatalf("%s: pull: %v", clientID, err)
	}
}

// Sync is Push, DrainSteps, Pull in sequence — the common single-client
// round trip.
func (h *Harness) Sync(clientID string) {
	h.t.Helper()
	h.Push(clientID)
	h.DrainSteps()
	h.Pull(clientID)
}

// Get reads a key's value from clientID's local notes table, or ("", false)
// if absent.
func (h *Harness) Get(clientID, key string) (string, bool) {
	h.t.Helper()
	var value string
	err := h.client(clientID).store.Conn().QueryRow(`SELECT value FROM notes WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		h.t.Fatalf("%s: get %s: %v", clientID, key, err)
	}
	return value, true
}

// AssertConverged fails the test unless every client's notes table has
// identical contents.
func (h *Harness) AssertConverged(clientIDs ...string) {
	h.t.Helper()
	if len(clientIDs) < 2 {
		return
	}
	want := h.dumpNotes(clientIDs[0])
	for _, id := range clientIDs[1:] {
		got := h.dumpNotes(id)
		if len(want) != len(got) {
			h.t.Fatalf("convergence: %s has %d rows, %s has %d", clientIDs[0], len(want), id, len(got))
		}
		for k, v := range want {
			if got[k] != v {
				h.t.Fatalf("convergence: key %q: %s=%q %s=%q", k, clientIDs[0], v, id, got[k])
			}
		}
	}
}

func (h *Harness) dumpNotes(clientID string) map[string]string {
	h.t.Helper()
	rows, err := h.client(clientID).store.Conn().Query(`SELECT key, value FROM notes ORDER BY key`)
	if err != nil {
		h.t.Fatalf("%s: dump notes: %v", clientID, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			h.t.Fatalf("%s: scan row: %v", clientID, err)
		}
		out[k] = v
	}
	return out
}

// AuthoritativeRowCount opens an independent connection to the server's
// database file through the cgo sqlite3 driver — separate from the
// pure-Go modernc connection the production path uses — and counts rows
// in table. It exists for stress tests that want to verify durable state
// from outside the process's own pooled connection.
func (h *Harness) AuthoritativeRowCount(table string) int {
	h.t.Helper()
	conn, err := sql.Open("sqlite3", filepath.Join(h.dir, "server", "authoritative.db"))
	if err != nil {
		h.t.Fatalf("open cgo verification connection: %v", err)
	}
	defer conn.Close()

	var count int
	if err := conn.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
		h.t.Fatalf("count %s: %v", table, err)
	}
	return count
}
