package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wangdong/clawguard/pkg/logger"
	"github.com/wangdong/clawguard/pkg/notify"
	"github.com/wangdong/clawguard/pkg/permission"
)

// hookServer is the local HTTP surface the agent host's hooks call into:
// blocking permission checks and fire-and-forget notifications.
type hookServer struct {
	orch    *permission.Orchestrator
	emitter *notify.Emitter
}

type permissionHookRequest struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	SessionID string         `json:"session_id"`
}

type notifyHookRequest struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	Detail    string `json:"detail"`
}

func newHookServer(addr string, orch *permission.Orchestrator, emitter *notify.Emitter) *http.Server {
	h := &hookServer{orch: orch, emitter: emitter}

	mux := http.NewServeMux()
	mux.HandleFunc("/hook/permission", h.handlePermission)
	mux.HandleFunc("/hook/notify", h.handleNotify)
	mux.HandleFunc("/healthz", h.handleHealth)

	return &http.Server{Addr: addr, Handler: mux}
}

// handlePermission blocks until the operator decides or the request expires.
// Failures still answer 200 with an error field: the hook caller maps any
// non-decision to its own default, and a transport error would hide which
// case it hit.
func (h *hookServer) handlePermission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req permissionHookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Tool == "" {
		http.Error(w, "tool is required", http.StatusBadRequest)
		return
	}

	decision, err := h.orch.HandleRequest(r.Context(), req.Tool, req.Args, req.SessionID)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, permission.ErrTimeout):
			reason = "timeout"
		case errors.Is(err, permission.ErrStoreCleared):
			reason = "shutdown"
		}
		logger.WarnCF("hooks", "Permission request failed", map[string]any{
			"tool":  req.Tool,
			"error": err.Error(),
		})
		writeJSON(w, map[string]string{"error": reason})
		return
	}

	writeJSON(w, map[string]string{"decision": string(decision)})
}

func (h *hookServer) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req notifyHookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	h.emitter.Notify(r.Context(), notify.Kind(req.Kind), req.SessionID, req.Detail)
	w.WriteHeader(http.StatusNoContent)
}

func (h *hookServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("hooks", "Failed to write response", map[string]any{
			"error": err.Error(),
		})
	}
}
