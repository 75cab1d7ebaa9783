package monitor

import (
	"time"

	"github.com/marcus/syncdb/internal/remote"
)

// ClientRow is one row of the client-status panel.
type ClientRow struct {
	ClientID string
	Pending  int
	Applied  uint64
	HasSeen  bool // has this client ever had an applied entry
}

// Snapshot is a point-in-time view of a Remote's state, polled for display.
type Snapshot struct {
	Clients    []ClientRow
	StorageLSN uint64
	FetchedAt  time.Time
}

// FetchSnapshot reads the current state of r without mutating anything.
func FetchSnapshot(r *remote.Remote) Snapshot {
	ids := r.ClientIDs()
	rows := make([]ClientRow, 0, len(ids))
	for _, id := range ids {
		applied, ok := r.Applied(id)
		rows = append(rows, ClientRow{
			ClientID: id,
			Pending:  r.PendingCount(id),
			Applied:  uint64(applied),
			HasSeen:  ok,
		})
	}
	return Snapshot{
		Clients:    rows,
		StorageLSN: uint64(r.StorageLSN()),
		FetchedAt:  time.Now(),
	}
}

// StepEvent records one call to Remote.Step, for the monitor's recent-activity feed.
type StepEvent struct {
	Outcome  remote.Outcome
	ClientID string
	LSN      uint64
	At       time.Time
}
