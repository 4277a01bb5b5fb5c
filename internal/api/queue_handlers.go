package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-publisher/internal/publish"
	"github.com/JakeFAU/listing-publisher/internal/worker"
)

// QueueHandler exposes the posting queue to operators.
type QueueHandler struct {
	queue   publish.Queue
	worker  WorkerStatus
	timeout time.Duration
	logger  *zap.Logger
}

// NewQueueHandler wires the queue, the worker status source and logger.
func NewQueueHandler(queue publish.Queue, w WorkerStatus, logger *zap.Logger) *QueueHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueHandler{queue: queue, worker: w, timeout: storeTimeout, logger: logger}
}

type postAdRequest struct {
	ObjectID string `json:"objectId"`
}

type postAdResponse struct {
	Success       bool   `json:"success"`
	QueuePosition int    `json:"queuePosition"`
	AlreadyPosted bool   `json:"alreadyPosted,omitempty"`
	InProgress    bool   `json:"inProgress,omitempty"`
	Error         string `json:"error,omitempty"`
}

// PostAd handles POST /v1/post-ad {objectId}. The response carries the 1-based queue
// position; an already posted listing or one being submitted is a no-op reported with
// position 0.
func (h *QueueHandler) PostAd(w http.ResponseWriter, r *http.Request) {
	var req postAdRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id := strings.TrimSpace(req.ObjectID)
	if id == "" {
		writeError(w, http.StatusBadRequest, "objectId is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	pos, err := h.queue.Enqueue(ctx, id)
	switch {
	case err == nil:
		h.logger.Info("listing queued", zap.String("listing_id", id), zap.Int("position", pos))
		writeJSON(w, http.StatusOK, postAdResponse{Success: true, QueuePosition: pos})
	case errors.Is(err, publish.ErrAlreadyPosted):
		writeJSON(w, http.StatusOK, postAdResponse{Success: true, AlreadyPosted: true})
	case errors.Is(err, publish.ErrInProgress):
		writeJSON(w, http.StatusOK, postAdResponse{Success: true, InProgress: true})
	case errors.Is(err, publish.ErrNotFound):
		writeJSON(w, http.StatusNotFound, postAdResponse{Error: "listing not found"})
	case errors.Is(err, publish.ErrQueueClosed):
		writeJSON(w, http.StatusServiceUnavailable, postAdResponse{Error: "queue closed"})
	default:
		h.logger.Error("enqueue failed", zap.String("listing_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, postAdResponse{Error: "failed to enqueue"})
	}
}

type queueStatusResponse struct {
	Queue       []string         `json:"queue"`
	QueueLength int              `json:"queueLength"`
	Worker      *worker.Snapshot `json:"worker,omitempty"`
}

// Status handles GET /v1/queue-status. Positions derived from it are advisory and
// drift as the queue drains.
func (h *QueueHandler) Status(w http.ResponseWriter, _ *http.Request) {
	snap := h.queue.Status()
	resp := queueStatusResponse{Queue: snap.IDs, QueueLength: snap.Length}
	if resp.Queue == nil {
		resp.Queue = []string{}
	}
	if h.worker != nil {
		state := h.worker.State()
		resp.Worker = &state
	}
	writeJSON(w, http.StatusOK, resp)
}

// Remove handles DELETE /v1/queue/{id}.
func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.queue.Remove(id) {
		writeError(w, http.StatusNotFound, "listing not queued")
		return
	}
	h.logger.Info("listing removed from queue", zap.String("listing_id", id))
	writeJSON(w, http.StatusOK, map[string]any{"removed": id})
}
