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

	"github.com/JakeFAU/listing-publisher/internal/id/uuid"
	"github.com/JakeFAU/listing-publisher/internal/publish"
)

const (
	storeTimeout = 5 * time.Second
	maxBodyBytes = 1 << 20
)

// ListingHandler exposes listing intake and reads.
type ListingHandler struct {
	store   publish.ListingStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewListingHandler wires the store and logger.
func NewListingHandler(store publish.ListingStore, logger *zap.Logger) *ListingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingHandler{store: store, timeout: storeTimeout, logger: logger}
}

// Upsert handles POST /v1/listings. Records sharing kvartil, xet and tell collapse
// into one listing. It returns the stored listing, 400 for incomplete input or a
// worker-owned elonStatus and 409 for a status change the lifecycle forbids.
func (h *ListingHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var in publish.ListingInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// processing, posted and error are written by the publish worker only.
	if in.Status != nil && *in.Status != publish.StatusWaiting {
		writeError(w, http.StatusBadRequest, "elonStatus may only be reset to waiting")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	listing, err := h.store.Upsert(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, publish.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, publish.ErrInvalidListing):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("upsert listing failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store listing")
		}
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// List handles GET /v1/listings?status=. Listings come back in display order.
func (h *ListingHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		listings []publish.Listing
		err      error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := publish.Status(strings.ToLower(raw))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		listings, err = h.store.ListByStatus(ctx, status)
	} else {
		listings, err = h.store.GetAll(ctx)
	}
	if err != nil {
		h.logger.Error("list listings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list listings")
		return
	}
	if listings == nil {
		listings = []publish.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": listings})
}

// Get handles GET /v1/listings/{id}. It returns 400 for malformed IDs and 404 when
// the listing does not exist.
func (h *ListingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !uuid.Valid(id) {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	listing, err := h.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, publish.ErrNotFound) {
			writeError(w, http.StatusNotFound, "listing not found")
			return
		}
		h.logger.Error("get listing failed", zap.String("listing_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load listing")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}
