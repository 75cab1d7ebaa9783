package handler

import (
	"sync"

	"github.com/marcus/syncdb/internal/journal"
)

// Broadcaster fans a storage-version announcement out to per-connection
// channels, best-effort. A
// slow or disconnected subscriber drops the announcement rather than
// blocking the step loop.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan journal.LSN]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan journal.LSN]struct{})}
}

// Subscribe registers a new subscriber channel and returns it plus a
// cancel func that unregisters and closes it.
func (b *Broadcaster) Subscribe() (<-chan journal.LSN, func()) {
	ch := make(chan journal.LSN, 1)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Announce implements remote.Announcer: it notifies every subscriber of
// the new storage version, dropping the announcement for any subscriber
// whose channel is full rather than blocking.
func (b *Broadcaster) Announce(version journal.LSN) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- version:
		default:
		}
	}
}
