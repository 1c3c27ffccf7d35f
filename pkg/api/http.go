// Package api exposes the replicated key-value store over HTTP: a thin
// front door that submits writes through the consensus core and serves
// reads directly from the local state machine.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasmdias/raftcore/pkg/raft"
	"github.com/lucasmdias/raftcore/pkg/statemachine"
)

const proposeTimeout = 5 * time.Second

// Handler is the HTTP front door: GET/PUT/POST/DELETE on /kv/<key>, and a
// read-only /status endpoint.
type Handler struct {
	node  *raft.Node
	store *statemachine.KV
	mux   *http.ServeMux
}

// NewHandler wires node and store into an http.Handler.
func NewHandler(node *raft.Node, store *statemachine.KV) *Handler {
	h := &Handler{node: node, store: store, mux: http.NewServeMux()}
	h.mux.HandleFunc("/kv/", h.handleKV)
	h.mux.HandleFunc("/status", h.handleStatus)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleKV(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	if key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		// Reads are served from the local state machine without going
		// through consensus: eventually consistent, not linearizable.
		value, ok := h.store.Get(key)
		if !ok {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"value": string(value)})

	case http.MethodPut, http.MethodPost:
		var body struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		cmd := statemachine.Command{Type: statemachine.CommandSet, Key: key, Value: []byte(body.Value)}
		h.submit(w, r, cmd)

	case http.MethodDelete:
		cmd := statemachine.Command{Type: statemachine.CommandDelete, Key: key}
		h.submit(w, r, cmd)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, cmd statemachine.Command) {
	// Every HTTP request is its own ephemeral dedup session: the API is
	// stateless across requests, so each one must carry a fresh client id
	// rather than collide on the zero value and get deduplicated away.
	cmd.ClientID = uuid.NewString()
	cmd.RequestID = 1

	payload, err := statemachine.EncodeCommand(cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_, resultCh, err := h.node.Propose(payload)
	if err != nil {
		if err == raft.ErrNotLeader {
			h.respondNotLeader(w)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), proposeTimeout)
	defer cancel()

	select {
	case result := <-resultCh:
		if result.Err != nil {
			if result.Err == raft.ErrNotLeader {
				h.respondNotLeader(w)
				return
			}
			http.Error(w, result.Err.Error(), http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case <-ctx.Done():
		http.Error(w, raft.ErrTimeout.Error(), http.StatusGatewayTimeout)
	}
}

func (h *Handler) respondNotLeader(w http.ResponseWriter) {
	leaderID, _ := h.node.GetLeader()
	h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"error":     "not leader",
		"leader_id": leaderID,
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	leaderID, _ := h.node.GetLeader()
	status := map[string]interface{}{
		"id":           h.node.ID(),
		"term":         h.node.CurrentTerm(),
		"is_leader":    h.node.IsLeader(),
		"leader_id":    leaderID,
		"commit_index": h.node.CommitIndex(),
		"cluster_size": h.node.ClusterSize(),
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
