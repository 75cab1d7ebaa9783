// Package localclient implements the client-side façade: run
// a mutation, push the local journal tail to the server, and pull fresh
// storage state with the mandatory revert → receive → rebase ordering.
package localclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcus/syncdb/internal/journal"
	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/remote"
	"github.com/marcus/syncdb/internal/storage"
	"github.com/marcus/syncdb/internal/timeline"
)

// Local is the client-side façade over a Timeline, the local optimistic
// store, and a Network.
type Local struct {
	clientID string
	timeline *timeline.Timeline
	store    *storage.OptimisticStore
	network  Network
	backoff  *Backoff

	mu           sync.Mutex
	serverCursor journal.LSN
}

// New creates a Local façade for clientID.
func New(clientID string, tl *timeline.Timeline, store *storage.OptimisticStore, network Network) *Local {
	return &Local{clientID: clientID, timeline: tl, store: store, network: network, backoff: DefaultBackoff()}
}

// Run appends and locally applies a mutation.
func (l *Local) Run(ctx context.Context, m mutation.Mutation) (journal.LSN, error) {
	return l.timeline.Run(ctx, m)
}

// Journal exposes the local mutation journal, for callers that compact it
// once entries fall behind ServerCursor.
func (l *Local) Journal() *journal.Journal[mutation.Mutation] {
	return l.timeline.Journal()
}

// PoisonNotices returns poison notices collected by Pull since the timeline's
// notices were last cleared, for callers that want to report on mutations
// the server could not apply.
func (l *Local) PoisonNotices() []timeline.PoisonNotice {
	return l.timeline.PoisonNotices()
}

// ServerCursor returns the next local-journal LSN the server expects, one
// past the highest LSN it has confirmed ingestion of.
func (l *Local) ServerCursor() journal.LSN {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.serverCursor
}

// PushMutations sends the local journal tail since ServerCursor to the
// server. On Backpressure it retries with exponential backoff instead of
// surfacing the error on every call.
func (l *Local) PushMutations(ctx context.Context) error {
	partial := l.timeline.SyncPrepare(l.ServerCursor())

	for {
		newCursor, err := l.network.SyncMutations(ctx, l.clientID, partial)
		if err != nil {
			if errors.Is(err, remote.ErrBackpressure) {
				wait := l.backoff.Next()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
			return err
		}

		l.backoff.Reset()
		l.mu.Lock()
		l.serverCursor = newCursor
		l.mu.Unlock()
		return nil
	}
}

// Pull fetches and applies fresh storage state: revert → receive → rebase
// is mandatory. If the server has nothing new, Pull is a no-op.
func (l *Local) Pull(ctx context.Context) error {
	partial, empty, err := l.network.SyncStorage(ctx, l.clientID, l.timeline.StorageCursor())
	if err != nil {
		return err
	}
	if empty || partial.Len() == 0 {
		return nil
	}

	if err := l.store.Revert(ctx); err != nil {
		return fmt.Errorf("localclient: revert before receive: %w", err)
	}

	var poisons []storage.PoisonNotice
	for _, e := range partial.Entries {
		if err := l.store.ApplyChangeSet(ctx, e.Value); err != nil {
			return fmt.Errorf("localclient: apply change set at lsn %d: %w", e.LSN, err)
		}
		poisons = append(poisons, e.Value.Poisons...)
	}

	if err := l.store.Snapshot(ctx); err != nil {
		return fmt.Errorf("localclient: snapshot after receive: %w", err)
	}

	l.timeline.SetStorageCursor(partial.End())
	l.timeline.HandlePoisons(poisons)

	return l.timeline.Rebase(ctx)
}
