package cmd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/storage"
)

// The demo CLI exercises the sync core over a single table, "notes": a
// plain key/value map with set and delete mutations. A real embedder
// supplies its own schema, Mutation, and Mutator; this one exists
// so `run`/`push`/`pull`/`serve` are exercisable end to end.
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

// newDemoMutator registers the notes table's set/delete ops.
func newDemoMutator() *mutation.JSONMutator {
	m := mutation.NewJSONMutator()
	m.Register("set", func(ctx context.Context, tx storage.Tx, payload json.RawMessage) error {
		var p setPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("demo: decode set payload: %w", err)
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
			return fmt.Errorf("demo: decode delete payload: %w", err)
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE key = ?`, p.Key)
		return err
	})
	return m
}

func createNotesTable(conn *sql.DB) error {
	_, err := conn.Exec(notesSchema)
	return err
}
