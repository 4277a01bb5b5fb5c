package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-publisher/internal/publish"
	"github.com/JakeFAU/listing-publisher/internal/worker"
)

// SessionHandler reports on and clears the stored marketplace session. Validation
// against the marketplace only ever runs on the worker.
type SessionHandler struct {
	vault  publish.SessionVault
	worker WorkerStatus
	logger *zap.Logger
}

// NewSessionHandler wires the vault and worker status source.
func NewSessionHandler(vault publish.SessionVault, w WorkerStatus, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{vault: vault, worker: w, logger: logger}
}

type sessionResponse struct {
	Exists          bool             `json:"exists"`
	AdvisoryExpired bool             `json:"advisoryExpired"`
	WorkerState     *worker.Snapshot `json:"workerState,omitempty"`
}

// Get handles GET /v1/session. advisoryExpired comes from stored cookie expiries and
// is a hint only.
func (h *SessionHandler) Get(w http.ResponseWriter, _ *http.Request) {
	if h.vault == nil {
		writeError(w, http.StatusServiceUnavailable, "session vault unavailable")
		return
	}
	resp := sessionResponse{
		Exists:          h.vault.Exists(),
		AdvisoryExpired: h.vault.IsExpired(),
	}
	if h.worker != nil {
		state := h.worker.State()
		resp.WorkerState = &state
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /v1/session.
func (h *SessionHandler) Delete(w http.ResponseWriter, _ *http.Request) {
	if h.vault == nil {
		writeError(w, http.StatusServiceUnavailable, "session vault unavailable")
		return
	}
	if err := h.vault.Delete(); err != nil {
		h.logger.Error("delete session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
