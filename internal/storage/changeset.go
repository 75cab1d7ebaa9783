package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// RowChange is one row's worth of change, the row-level stand-in for the
// page-level change sets a real storage engine would produce.
type RowChange struct {
	Table string          `json:"table"`
	RowID int64           `json:"rowid"`
	Op    string          `json:"op"` // "insert", "update", or "delete"
	After json.RawMessage `json:"after,omitempty"`
}

// PoisonNotice reports that a specific (client_id, lsn) mutation failed to
// apply on the server and was skipped. It rides
// along in the ChangeSet that covers the step which produced it so the
// client's next pull surfaces it.
type PoisonNotice struct {
	ClientID string `json:"client_id"`
	LSN      uint64 `json:"lsn"`
	Reason   string `json:"reason"`
}

// ChangeSet is one storage-journal entry: every row touched by the server
// transactions folded into a single storage.Commit call, plus any poison
// notices produced along the way.
type ChangeSet struct {
	Rows    []RowChange    `json:"rows,omitempty"`
	Poisons []PoisonNotice `json:"poisons,omitempty"`
}

// ChangeSetCodec implements journal.Codec[ChangeSet] for the storage
// journal's on-disk encoding.
type ChangeSetCodec struct{}

func (ChangeSetCodec) Encode(c ChangeSet) ([]byte, error) { return json.Marshal(c) }
func (ChangeSetCodec) Decode(b []byte) (ChangeSet, error) {
	var c ChangeSet
	err := json.Unmarshal(b, &c)
	return c, err
}

const changelogSchema = `
CREATE TABLE IF NOT EXISTS __changelog (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name TEXT NOT NULL,
	rowid_val  INTEGER NOT NULL,
	op         TEXT NOT NULL,
	after      TEXT
);
`

// EnableChangeCapture installs AFTER INSERT/UPDATE/DELETE triggers on table
// that record every touched row into __changelog, keyed by SQLite's
// implicit rowid. Call once per tracked application table after the
// table's own schema has been created.
func EnableChangeCapture(conn *sql.DB, table string) error {
	if _, err := conn.Exec(changelogSchema); err != nil {
		return fmt.Errorf("storage: create __changelog: %w", err)
	}

	cols, err := tableColumns(conn, table)
	if err != nil {
		return err
	}
	newRow := buildJSONObject("NEW", cols)

	ddl := fmt.Sprintf(`
CREATE TRIGGER IF NOT EXISTS __cl_%[1]s_ins AFTER INSERT ON %[2]s BEGIN
	INSERT INTO __changelog(table_name, rowid_val, op, after) VALUES ('%[1]s', NEW.rowid, 'insert', %[3]s);
END;
CREATE TRIGGER IF NOT EXISTS __cl_%[1]s_upd AFTER UPDATE ON %[2]s BEGIN
	INSERT INTO __changelog(table_name, rowid_val, op, after) VALUES ('%[1]s', NEW.rowid, 'update', %[3]s);
END;
CREATE TRIGGER IF NOT EXISTS __cl_%[1]s_del AFTER DELETE ON %[2]s BEGIN
	INSERT INTO __changelog(table_name, rowid_val, op, after) VALUES ('%[1]s', OLD.rowid, 'delete', NULL);
END;
`, table, quoteIdent(table), newRow)

	if _, err := conn.Exec(ddl); err != nil {
		return fmt.Errorf("storage: install change capture triggers on %s: %w", table, err)
	}
	return nil
}

// drainChangelog reads and deletes all __changelog rows with seq > after,
// returning them as RowChanges and the new high-water seq. Must run inside
// a transaction so the read and delete are atomic with each other (not with
// the application transactions that produced the rows — those are already
// durably committed by the time Commit calls this).
func drainChangelog(ctx context.Context, tx Tx, after int64) ([]RowChange, int64, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT seq, table_name, rowid_val, op, COALESCE(after, '') FROM __changelog WHERE seq > ? ORDER BY seq`, after)
	if err != nil {
		return nil, after, fmt.Errorf("storage: query changelog: %w", err)
	}
	defer rows.Close()

	var changes []RowChange
	maxSeq := after
	for rows.Next() {
		var (
			seq       int64
			table     string
			rowidVal  int64
			op        string
			afterJSON string
		)
		if err := rows.Scan(&seq, &table, &rowidVal, &op, &afterJSON); err != nil {
			return nil, after, fmt.Errorf("storage: scan changelog: %w", err)
		}
		rc := RowChange{Table: table, RowID: rowidVal, Op: op}
		if afterJSON != "" {
			rc.After = json.RawMessage(afterJSON)
		}
		changes = append(changes, rc)
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, after, fmt.Errorf("storage: iterate changelog: %w", err)
	}

	if maxSeq > after {
		if _, err := tx.ExecContext(ctx, `DELETE FROM __changelog WHERE seq > ? AND seq <= ?`, after, maxSeq); err != nil {
			return nil, after, fmt.Errorf("storage: drain changelog: %w", err)
		}
	}
	return changes, maxSeq, nil
}

// applyRowChange replays a single captured row change against tx, used by
// OptimisticStore.ApplyChangeSet on the client side.
func applyRowChange(ctx context.Context, tx Tx, rc RowChange) error {
	switch rc.Op {
	case "delete":
		_, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", quoteIdent(rc.Table)), rc.RowID)
		if err != nil {
			return fmt.Errorf("storage: apply delete %s#%d: %w", rc.Table, rc.RowID, err)
		}
		return nil
	case "insert", "update":
		var fields map[string]any
		if err := json.Unmarshal(rc.After, &fields); err != nil {
			return fmt.Errorf("storage: decode row change %s#%d: %w", rc.Table, rc.RowID, err)
		}
		cols := make([]string, 0, len(fields)+1)
		placeholders := make([]string, 0, len(fields)+1)
		updates := make([]string, 0, len(fields))
		args := make([]any, 0, len(fields)+1)

		cols = append(cols, "rowid")
		placeholders = append(placeholders, "?")
		args = append(args, rc.RowID)

		for col, val := range fields {
			cols = append(cols, quoteIdent(col))
			placeholders = append(placeholders, "?")
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", quoteIdent(col), quoteIdent(col)))
			args = append(args, val)
		}

		query := fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(rowid) DO UPDATE SET %s",
			quoteIdent(rc.Table), joinComma(cols), joinComma(placeholders), joinComma(updates),
		)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("storage: apply %s %s#%d: %w", rc.Op, rc.Table, rc.RowID, err)
		}
		return nil
	default:
		return fmt.Errorf("storage: unknown row change op %q", rc.Op)
	}
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
