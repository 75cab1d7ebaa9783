// Package wire defines the mutation-push and storage-pull message kinds as
// JSON request/response bodies for the demo HTTP binding (internal/handler,
// internal/localclient). Wire framing is left to the transport generally;
// this package is one concrete choice, not "the" wire format — an
// embedder wiring syncdb over a different transport defines its own.
package wire

import "encoding/json"

// MutationEntry is one journal entry on the wire: the assigned LSN plus
// the mutation's own encoded form.
type MutationEntry struct {
	LSN     uint64          `json:"lsn"`
	Payload json.RawMessage `json:"payload"`
}

// MutationsRequest is the body of SyncMutations.
type MutationsRequest struct {
	ClientID string          `json:"client_id"`
	Base     uint64          `json:"base"`
	Entries  []MutationEntry `json:"entries"`
}

// MutationsResponse is the reply to SyncMutations: either a new cursor or
// an error.
type MutationsResponse struct {
	NewCursor uint64     `json:"new_cursor"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// ChangeSetEntry is one storage-journal entry on the wire.
type ChangeSetEntry struct {
	LSN       uint64          `json:"lsn"`
	ChangeSet json.RawMessage `json:"change_set"`
}

// StorageRequest is the body of SyncStorage.
type StorageRequest struct {
	ClientID string `json:"client_id"`
	Cursor   uint64 `json:"cursor"`
}

// StorageResponse is the reply to SyncStorage: a (possibly empty) partial,
// or an error.
type StorageResponse struct {
	Base    uint64           `json:"base"`
	Entries []ChangeSetEntry `json:"entries,omitempty"`
	Empty   bool             `json:"empty,omitempty"`
	Error   *ErrorBody       `json:"error,omitempty"`
}

// ErrorBody is the standard error payload shape used across handlers.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is the body written for any handler error, independent of
// which endpoint produced it.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// Error kind codes.
const (
	CodeJournalGap     = "journal_gap"
	CodeDivergence     = "journal_divergence"
	CodeBackpressure   = "backpressure"
	CodeBadRequest     = "bad_request"
	CodeInternal       = "internal"
)
