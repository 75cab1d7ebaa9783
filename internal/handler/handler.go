// Package handler implements the server's per-connection dispatch: the two
// message kinds, SyncMutations and SyncStorage, exposed over net/http with a
// mux-and-JSON-error style. No locks are held across a receive — each
// handler only calls into *remote.Remote, which does its own locking
// internally.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcus/syncdb/internal/journal"
	"github.com/marcus/syncdb/internal/mutation"
	"github.com/marcus/syncdb/internal/remote"
	"github.com/marcus/syncdb/internal/wire"
)

// Server dispatches the sync message kinds against a *remote.Remote.
type Server struct {
	remote *remote.Remote
}

// NewServer creates a dispatch Server over remote.
func NewServer(r *remote.Remote) *Server {
	return &Server{remote: r}
}

// Routes builds the HTTP handler for the sync endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/sync/mutations", s.handleSyncMutations)
	mux.HandleFunc("POST /v1/sync/storage", s.handleSyncStorage)
	return mux
}

// healthResponse is returned by GET /healthz.
type healthResponse struct {
	Status     string `json:"status"`
	StorageLSN uint64 `json:"storage_lsn"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		StorageLSN: uint64(s.remote.StorageLSN()),
	})
}

func (s *Server) handleSyncMutations(w http.ResponseWriter, r *http.Request) {
	var req wire.MutationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid json body")
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "client_id is required")
		return
	}

	entries := make([]journal.Entry[mutation.Mutation], len(req.Entries))
	for i, e := range req.Entries {
		m, err := mutation.ReferenceCodec{}.Decode(e.Payload)
		if err != nil {
			writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid mutation payload")
			return
		}
		entries[i] = journal.Entry[mutation.Mutation]{LSN: journal.LSN(e.LSN), Value: m}
	}
	partial := journal.Partial[mutation.Mutation]{Base: journal.LSN(req.Base), Entries: entries}

	newCursor, err := s.remote.Receive(r.Context(), req.ClientID, partial)
	if err != nil {
		writeSyncMutationsError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, wire.MutationsResponse{NewCursor: uint64(newCursor)})
}

func writeSyncMutationsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, journal.ErrGap):
		writeError(w, http.StatusConflict, wire.CodeJournalGap, err.Error())
	case errors.Is(err, journal.ErrDivergence):
		writeError(w, http.StatusConflict, wire.CodeDivergence, err.Error())
	case errors.Is(err, remote.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, wire.CodeBackpressure, err.Error())
	default:
		slog.Error("handler: sync mutations failed", "err", err)
		writeError(w, http.StatusInternalServerError, wire.CodeInternal, "internal error")
	}
}

func (s *Server) handleSyncStorage(w http.ResponseWriter, r *http.Request) {
	var req wire.StorageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "invalid json body")
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, wire.CodeBadRequest, "client_id is required")
		return
	}

	partial := s.remote.UpdateClient(journal.LSN(req.Cursor))
	if partial.Len() == 0 {
		writeJSON(w, http.StatusOK, wire.StorageResponse{Base: uint64(partial.Base), Empty: true})
		return
	}

	entries := make([]wire.ChangeSetEntry, len(partial.Entries))
	for i, e := range partial.Entries {
		raw, err := json.Marshal(e.Value)
		if err != nil {
			slog.Error("handler: marshal change set", "err", err)
			writeError(w, http.StatusInternalServerError, wire.CodeInternal, "internal error")
			return
		}
		entries[i] = wire.ChangeSetEntry{LSN: uint64(e.LSN), ChangeSet: raw}
	}

	writeJSON(w, http.StatusOK, wire.StorageResponse{Base: uint64(partial.Base), Entries: entries})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(wire.ErrorEnvelope{Error: wire.ErrorBody{Code: code, Message: message}}); err != nil {
		slog.Error("handler: write error response", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("handler: write json response", "err", err)
	}
}
