package localclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/marcus/syncdb/internal/journal"
	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/remote"
	"github.com/marcus/syncdb/internal/storage"
	"github.com/marcus/syncdb/internal/wire"
)

// Network is the transport-agnostic boundary: framing, authentication, and
// connection management are the transport's problem. Local depends only on
// this interface.
type Network interface {
	SyncMutations(ctx context.Context, clientID string, partial journal.Partial[mutation.Mutation]) (journal.LSN, error)
	SyncStorage(ctx context.Context, clientID string, cursor journal.LSN) (journal.Partial[storage.ChangeSet], bool, error)
}

// HTTPNetwork implements Network over the demo HTTP binding in
// internal/handler, using the request/response types of internal/wire.
type HTTPNetwork struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPNetwork creates an HTTPNetwork against baseURL (e.g.
// "http://localhost:8080"). A nil client defaults to http.DefaultClient.
func NewHTTPNetwork(baseURL string, client *http.Client) *HTTPNetwork {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPNetwork{BaseURL: baseURL, Client: client}
}

func (n *HTTPNetwork) SyncMutations(ctx context.Context, clientID string, partial journal.Partial[mutation.Mutation]) (journal.LSN, error) {
	entries := make([]wire.MutationEntry, len(partial.Entries))
	for i, e := range partial.Entries {
		payload, err := e.Value.Encode()
		if err != nil {
			return 0, fmt.Errorf("localclient: encode mutation at lsn %d: %w", e.LSN, err)
		}
		entries[i] = wire.MutationEntry{LSN: uint64(e.LSN), Payload: payload}
	}
	req := wire.MutationsRequest{ClientID: clientID, Base: uint64(partial.Base), Entries: entries}

	var resp wire.MutationsResponse
	if err := n.post(ctx, "/v1/sync/mutations", req, &resp); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, classifyWireError(resp.Error)
	}
	return journal.LSN(resp.NewCursor), nil
}

func (n *HTTPNetwork) SyncStorage(ctx context.Context, clientID string, cursor journal.LSN) (journal.Partial[storage.ChangeSet], bool, error) {
	req := wire.StorageRequest{ClientID: clientID, Cursor: uint64(cursor)}

	var resp wire.StorageResponse
	if err := n.post(ctx, "/v1/sync/storage", req, &resp); err != nil {
		return journal.Partial[storage.ChangeSet]{}, false, err
	}
	if resp.Error != nil {
		return journal.Partial[storage.ChangeSet]{}, false, classifyWireError(resp.Error)
	}
	if resp.Empty {
		return journal.Partial[storage.ChangeSet]{Base: journal.LSN(resp.Base)}, true, nil
	}

	entries := make([]journal.Entry[storage.ChangeSet], len(resp.Entries))
	for i, e := range resp.Entries {
		var cs storage.ChangeSet
		if err := json.Unmarshal(e.ChangeSet, &cs); err != nil {
			return journal.Partial[storage.ChangeSet]{}, false, fmt.Errorf("localclient: decode change set at lsn %d: %w", e.LSN, err)
		}
		entries[i] = journal.Entry[storage.ChangeSet]{LSN: journal.LSN(e.LSN), Value: cs}
	}
	return journal.Partial[storage.ChangeSet]{Base: journal.LSN(resp.Base), Entries: entries}, false, nil
}

func (n *HTTPNetwork) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("localclient: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("localclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("localclient: %w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("localclient: decode response: %w", err)
	}
	return nil
}

func classifyWireError(e *wire.ErrorBody) error {
	switch e.Code {
	case wire.CodeJournalGap:
		return fmt.Errorf("%w: %s", journal.ErrGap, e.Message)
	case wire.CodeDivergence:
		return fmt.Errorf("%w: %s", journal.ErrDivergence, e.Message)
	case wire.CodeBackpressure:
		return fmt.Errorf("%w: %s", remote.ErrBackpressure, e.Message)
	default:
		return fmt.Errorf("localclient: server error %s: %s", e.Code, e.Message)
	}
}

// LoopbackNetwork implements Network directly against an in-process
// *remote.Remote, bypassing HTTP entirely. Used by the integration harness
// and single-process tests where a real transport would only add noise.
type LoopbackNetwork struct {
	Remote *remote.Remote
}

// NewLoopbackNetwork wraps remote for in-process use.
func NewLoopbackNetwork(remote *remote.Remote) *LoopbackNetwork {
	return &LoopbackNetwork{Remote: remote}
}

func (n *LoopbackNetwork) SyncMutations(ctx context.Context, clientID string, partial journal.Partial[mutation.Mutation]) (journal.LSN, error) {
	return n.Remote.Receive(ctx, clientID, partial)
}

func (n *LoopbackNetwork) SyncStorage(ctx context.Context, clientID string, cursor journal.LSN) (journal.Partial[storage.ChangeSet], bool, error) {
	partial := n.Remote.UpdateClient(cursor)
	return partial, partial.Len() == 0, nil
}
