package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/marcus/syncdb/internal/journal"
	"github.com/marcus/syncdb/internal/localclient"
	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/storage"
	"github.com/marcus/syncdb/internal/syncconfig"
	"github.com/marcus/syncdb/internal/timeline"
)

// openLocal wires up the client side of the sync core against the
// workspace at dir: the local optimistic store, the local mutation
// journal, a Timeline over the demo mutator, and a Local façade talking to
// the configured server over HTTP.
func openLocal(dir string) (*localclient.Local, *storage.OptimisticStore, string, error) {
	localDir := filepath.Join(dir, ".syncdb")
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return nil, nil, "", err
	}

	clientID, err := syncconfig.GetClientID()
	if err != nil {
		return nil, nil, "", err
	}

	store, err := storage.OpenOptimistic(localDBPath(dir))
	if err != nil {
		return nil, nil, "", err
	}
	if err := createNotesTable(store.Conn()); err != nil {
		store.Close()
		return nil, nil, "", err
	}
	if err := store.TrackTable("notes"); err != nil {
		store.Close()
		return nil, nil, "", err
	}
	if _, err := store.Conn().Exec(timeline.MutationsMirrorSchema); err != nil {
		store.Close()
		return nil, nil, "", err
	}

	j, err := journal.Open[mutation.Mutation](localJournalPath(dir), mutation.ReferenceCodec{})
	if err != nil {
		store.Close()
		return nil, nil, "", err
	}

	tl := timeline.New(clientID, j, newDemoMutator(), store)
	network := localclient.NewHTTPNetwork(syncconfig.GetServerURL(), http.DefaultClient)
	local := localclient.New(clientID, tl, store, network)

	return local, store, clientID, nil
}

func closeLocal(store *storage.OptimisticStore) {
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: close local store: %v\n", err)
	}
}
