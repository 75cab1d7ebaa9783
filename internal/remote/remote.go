// Package remote implements the server side of the sync protocol: per-client
// mutation journals, the single-writer step loop that applies the next
// mutation to the authoritative database, and the poison-mark policy that
// keeps one bad client from stalling the whole server.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/marcus/syncdb/internal/journal"
	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/storage"
)

// ErrBackpressure is returned by Receive when a client's unapplied entries
// have reached the configured soft bound.
var ErrBackpressure = errors.New("remote: client journal exceeds backpressure bound")

// MaxStorageBatch bounds how many storage-journal entries UpdateClient
// returns per pull, mirroring Timeline's MaxSyncLen convention.
const MaxStorageBatch = 500

// DefaultBackpressureLimit is the soft bound on unapplied entries per
// client journal before Receive starts rejecting pushes.
const DefaultBackpressureLimit = 10000

// Outcome classifies what a Step call did.
type Outcome int

const (
	// Idle means no client journal had unapplied work.
	Idle Outcome = iota
	// Applied means a mutation was applied and committed successfully.
	Applied
	// Poisoned means the chosen mutation failed to apply and was skipped.
	Poisoned
)

// StepResult reports the outcome of one Step call.
type StepResult struct {
	Outcome  Outcome
	ClientID string
	LSN      journal.LSN
}

// Announcer is notified after each non-idle Step, so it can fan the new
// storage version out to connected clients. Implementations must not block the step loop.
type Announcer interface {
	Announce(version journal.LSN)
}

// Remote is the server's view of the sync protocol: per-client mutation
// journals plus the authoritative storage.
type Remote struct {
	store     *storage.AuthoritativeStore
	mutator   mutation.Mutator
	journalDir string
	announcer Announcer
	backpressureLimit int

	mu       sync.Mutex
	journals map[string]*journal.Journal[mutation.Mutation]
	applied  map[string]journal.LSN
}

// Option configures a Remote at construction time.
type Option func(*Remote)

// WithAnnouncer installs a best-effort change announcer.
func WithAnnouncer(a Announcer) Option {
	return func(r *Remote) { r.announcer = a }
}

// WithBackpressureLimit overrides DefaultBackpressureLimit.
func WithBackpressureLimit(limit int) Option {
	return func(r *Remote) { r.backpressureLimit = limit }
}

// New creates a Remote over store and mutator. journalDir holds each
// client's persisted mutation journal at journalDir/<client_id>.journal;
// an empty journalDir keeps journals in memory only.
func New(store *storage.AuthoritativeStore, mutator mutation.Mutator, journalDir string, opts ...Option) *Remote {
	r := &Remote{
		store:             store,
		mutator:           mutator,
		journalDir:        journalDir,
		backpressureLimit: DefaultBackpressureLimit,
		journals:          make(map[string]*journal.Journal[mutation.Mutation]),
		applied:           make(map[string]journal.LSN),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recover restores server state after a restart: read the mutations table
// into applied[], then open every persisted client journal in journalDir
// and truncate it to applied[client_id]+1 so only unapplied entries stay
// live. The authoritative DB itself is not restored here; the storage
// engine restores it from its own files.
func (r *Remote) Recover(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.store.Conn().QueryContext(ctx, `SELECT client_id, lsn FROM mutations`)
	if err != nil {
		return fmt.Errorf("remote: recover read mutations table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var clientID string
		var lsn int64
		if err := rows.Scan(&clientID, &lsn); err != nil {
			return fmt.Errorf("remote: recover scan mutations row: %w", err)
		}
		r.applied[clientID] = journal.LSN(lsn)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("remote: recover iterate mutations table: %w", err)
	}

	slog.Info("remote: recovered applied cursors", "clients", len(r.applied))

	if r.journalDir == "" {
		return nil
	}
	entries, err := os.ReadDir(r.journalDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("remote: recover list journal dir: %w", err)
	}
	for _, ent := range entries {
		name := ent.Name()
		const suffix = ".journal"
		if ent.IsDir() || len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		clientID := name[:len(name)-len(suffix)]
		j, err := r.clientJournalLocked(clientID)
		if err != nil {
			return fmt.Errorf("remote: recover load journal %s: %w", clientID, err)
		}
		// Entries at or below applied[client_id] are durably applied work;
		// anything beyond is still unapplied and must be kept.
		if applied, ok := r.applied[clientID]; ok {
			if err := j.TruncateTo(applied + 1); err != nil && !errors.Is(err, journal.ErrOutOfRange) {
				return fmt.Errorf("remote: recover truncate journal %s: %w", clientID, err)
			}
		}
	}
	return nil
}

// ClientJournal returns the journal for clientID, creating (and, if
// journalDir is set, opening its persisted file) it on first contact.
func (r *Remote) ClientJournal(clientID string) (*journal.Journal[mutation.Mutation], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientJournalLocked(clientID)
}

func (r *Remote) clientJournalLocked(clientID string) (*journal.Journal[mutation.Mutation], error) {
	if j, ok := r.journals[clientID]; ok {
		return j, nil
	}

	var (
		j   *journal.Journal[mutation.Mutation]
		err error
	)
	if r.journalDir != "" {
		if err := os.MkdirAll(r.journalDir, 0o755); err != nil {
			return nil, fmt.Errorf("remote: create journal dir: %w", err)
		}
		path := filepath.Join(r.journalDir, clientID+".journal")
		j, err = journal.Open[mutation.Mutation](path, mutation.ReferenceCodec{})
		if err != nil {
			return nil, fmt.Errorf("remote: open client journal %s: %w", clientID, err)
		}
	} else {
		j = journal.New[mutation.Mutation]()
	}

	r.journals[clientID] = j
	return j, nil
}

// Close releases every open client journal's file lock. Safe to call once
// the step loop has stopped; it does not close the authoritative store.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.journals {
		j.Close()
	}
	return nil
}

// Receive ingests a mutation partial for clientID idempotently, returning
// the journal's new tip as the next expected LSN.
func (r *Remote) Receive(ctx context.Context, clientID string, partial journal.Partial[mutation.Mutation]) (journal.LSN, error) {
	j, err := r.ClientJournal(clientID)
	if err != nil {
		return 0, err
	}

	if limit := r.backpressureLimit; limit > 0 {
		if pending := r.PendingCount(clientID); pending >= limit {
			return 0, fmt.Errorf("%w: client %s has %d unapplied entries", ErrBackpressure, clientID, pending)
		}
	}

	if err := j.SyncReceive(partial); err != nil {
		return 0, err
	}
	return j.LSN(), nil
}

// UpdateClient returns the storage change sets since clientStorageCursor.
func (r *Remote) UpdateClient(clientStorageCursor journal.LSN) journal.Partial[storage.ChangeSet] {
	return r.store.ReadSince(clientStorageCursor, MaxStorageBatch)
}

// ClientIDs returns the ids of every client whose journal has been touched
// at least once, sorted lexicographically. Monitoring/introspection only.
func (r *Remote) ClientIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.journals))
	for id := range r.journals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PendingCount returns the number of entries in clientID's journal beyond
// its applied cursor, or 0 for an unknown client.
func (r *Remote) PendingCount(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.journals[clientID]
	if !ok {
		return 0
	}
	want := journal.LSN(0)
	if applied, ok := r.applied[clientID]; ok {
		want = applied + 1
	}
	tip := j.LSN()
	if tip <= want {
		return 0
	}
	return int(tip - want)
}

// StorageLSN returns the authoritative storage journal's current tip.
func (r *Remote) StorageLSN() journal.LSN {
	return r.store.Journal.LSN()
}

// Applied returns the highest LSN durably applied for clientID, read from
// the in-memory applied map the step loop maintains.
func (r *Remote) Applied(clientID string) (journal.LSN, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lsn, ok := r.applied[clientID]
	return lsn, ok
}

// nextUnapplied picks the client whose earliest unapplied entry
// (entry_at(applied[client_id]+1)) has the lowest LSN, tie-breaking
// lexicographically by client_id, so scheduling is deterministic and no
// client with pending work is passed over indefinitely. Callers must hold r.mu.
func (r *Remote) nextUnappliedLocked() (string, mutation.Mutation, journal.LSN, bool) {
	clientIDs := make([]string, 0, len(r.journals))
	for id := range r.journals {
		clientIDs = append(clientIDs, id)
	}
	sort.Strings(clientIDs)

	var (
		bestID  string
		bestM   mutation.Mutation
		bestLSN journal.LSN
		found   bool
	)
	for _, id := range clientIDs {
		j := r.journals[id]
		want := journal.LSN(0)
		if applied, ok := r.applied[id]; ok {
			want = applied + 1
		}
		if m, ok := j.EntryAt(want); ok && (!found || want < bestLSN) {
			bestID, bestM, bestLSN, found = id, m, want, true
		}
	}
	return bestID, bestM, bestLSN, found
}

// Step runs one iteration of the server's mutation-application loop. It is
// not safe to call concurrently from multiple goroutines; RunStepLoop calls
// it from a single goroutine.
func (r *Remote) Step(ctx context.Context) (StepResult, error) {
	r.mu.Lock()
	clientID, m, lsn, ok := r.nextUnappliedLocked()
	r.mu.Unlock()
	if !ok {
		return StepResult{Outcome: Idle}, nil
	}

	tx, err := r.store.Begin(ctx)
	if err != nil {
		return StepResult{}, fmt.Errorf("remote: step begin: %w", err)
	}

	applyErr := r.mutator.Apply(ctx, tx, m)
	var poisons []storage.PoisonNotice
	outcome := Applied

	if applyErr != nil {
		tx.Rollback()
		slog.Warn("remote: mutator failed, poison-marking", "client_id", clientID, "lsn", lsn, "err", applyErr)

		tx, err = r.store.Begin(ctx)
		if err != nil {
			return StepResult{}, fmt.Errorf("remote: step poison begin: %w", err)
		}
		if err := r.store.RecordPoison(ctx, tx, clientID, lsn, applyErr.Error()); err != nil {
			tx.Rollback()
			return StepResult{}, err
		}
		poisons = []storage.PoisonNotice{{ClientID: clientID, LSN: uint64(lsn), Reason: applyErr.Error()}}
		outcome = Poisoned
	} else {
		if err := r.store.RecordApplied(ctx, tx, clientID, lsn); err != nil {
			tx.Rollback()
			return StepResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return StepResult{}, fmt.Errorf("remote: step commit: %w", err)
	}

	if _, err := r.store.Commit(ctx, poisons); err != nil {
		return StepResult{}, fmt.Errorf("remote: storage commit: %w", err)
	}

	r.mu.Lock()
	r.applied[clientID] = lsn
	r.mu.Unlock()

	if r.announcer != nil {
		r.announcer.Announce(r.store.Journal.LSN())
	}

	return StepResult{Outcome: outcome, ClientID: clientID, LSN: lsn}, nil
}

// RunStepLoop drives Step in a loop until ctx is cancelled, sleeping
// idleBackoff between Idle results so the server doesn't spin.
func (r *Remote) RunStepLoop(ctx context.Context, idleBackoff time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := r.Step(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrTxDone) {
				continue
			}
			slog.Error("remote: step failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleBackoff):
			}
			continue
		}
		if result.Outcome == Idle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(idleBackoff):
			}
		}
	}
}
