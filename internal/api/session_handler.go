package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fitmirror/tryon-app/internal/events"
	"github.com/fitmirror/tryon-app/internal/metrics"
	"github.com/fitmirror/tryon-app/internal/session"
)

// SessionHandler serves the /session routes.
type SessionHandler struct {
	manager      *session.Manager
	publisher    *events.Publisher // nil-safe
	storeTimeout time.Duration
}

// NewSessionHandler creates the session handler. publisher may be nil.
func NewSessionHandler(manager *session.Manager, publisher *events.Publisher, storeTimeout time.Duration) *SessionHandler {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &SessionHandler{
		manager:      manager,
		publisher:    publisher,
		storeTimeout: storeTimeout,
	}
}

type createRequest struct {
	TTLMinutes *int           `json:"ttlMinutes,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type createResponse struct {
	SessionID string `json:"sessionId"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Create handles POST /session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidation,
				"malformed request body", map[string]string{"body": err.Error()})
			return
		}
	}

	ctx, cancel := h.reqContext(r)
	defer cancel()

	// An absent ttlMinutes selects the default; an explicit 0 is
	// out-of-range and rejected like any other invalid value.
	result, err := h.manager.Create(ctx, req.TTLMinutes, req.Metadata)
	if err != nil {
		h.writeManagerError(w, r, err, "create")
		return
	}

	metrics.SessionsCreated.Inc()
	h.publisher.SessionCreated(result.SessionID, result.ExpiresIn)

	writeData(w, r, http.StatusCreated, createResponse{
		SessionID: result.SessionID,
		ExpiresIn: result.ExpiresIn,
	})
}

type sessionResponse struct {
	*session.Record
	ExpiresIn int64 `json:"expiresIn"`
	IsExpired bool  `json:"isExpired"`
}

// Get handles GET /session/{id}. A pure read: logically expired records
// are returned with isExpired=true until a sweep removes them.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := h.reqContext(r)
	defer cancel()

	rec, err := h.manager.Get(ctx, id)
	if err != nil {
		h.writeManagerError(w, r, err, "get")
		return
	}
	if rec == nil {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "session not found", nil)
		return
	}

	now := time.Now().UTC()
	writeData(w, r, http.StatusOK, sessionResponse{
		Record:    rec,
		ExpiresIn: rec.ExpiresIn(now),
		IsExpired: rec.IsExpired(now),
	})
}

type updateRequest struct {
	Metadata      map[string]any `json:"metadata,omitempty"`
	UserPhotos    *[]string      `json:"userPhotos,omitempty"`
	GarmentPhotos *[]string      `json:"garmentPhotos,omitempty"`
	ExtendMinutes *int           `json:"extendMinutes,omitempty"`
}

// Update handles PUT and PATCH /session/{id}. Metadata merges key by
// key; photo lists are replaced wholesale when present. An optional
// extendMinutes recomputes the expiry from now.
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeValidation,
			"malformed request body", map[string]string{"body": err.Error()})
		return
	}

	ctx, cancel := h.reqContext(r)
	defer cancel()

	rec, err := h.manager.Update(ctx, id, session.UpdateInput{
		Metadata:      req.Metadata,
		UserPhotos:    req.UserPhotos,
		GarmentPhotos: req.GarmentPhotos,
	})
	if err != nil {
		h.writeManagerError(w, r, err, "update")
		return
	}

	if req.ExtendMinutes != nil {
		if _, err := h.manager.Extend(ctx, id, *req.ExtendMinutes); err != nil {
			h.writeManagerError(w, r, err, "extend")
			return
		}
		rec, err = h.manager.Get(ctx, id)
		if err != nil || rec == nil {
			h.writeManagerError(w, r, err, "update")
			return
		}
	}

	now := time.Now().UTC()
	writeData(w, r, http.StatusOK, sessionResponse{
		Record:    rec,
		ExpiresIn: rec.ExpiresIn(now),
		IsExpired: rec.IsExpired(now),
	})
}

// Delete handles DELETE /session/{id}. Repeating a delete reports
// not-found rather than failing.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := h.reqContext(r)
	defer cancel()

	deleted, err := h.manager.Delete(ctx, id)
	if err != nil {
		h.writeManagerError(w, r, err, "delete")
		return
	}
	if !deleted {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "session not found", nil)
		return
	}

	metrics.SessionsRemoved.WithLabelValues("deleted").Inc()
	w.WriteHeader(http.StatusNoContent)
}

type trackRequest struct {
	Action   string         `json:"action"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TrackActivity handles POST /session/{id}/activity. Always responds
// 200: limiter or store failure degrades to tracked=false, never an
// error to the caller.
func (h *SessionHandler) TrackActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeData(w, r, http.StatusOK, session.TrackResult{
			Tracked: false, Reason: "malformed_body",
		})
		return
	}
	if req.Action == "" {
		writeData(w, r, http.StatusOK, session.TrackResult{
			Tracked: false, Reason: "missing_action",
		})
		return
	}

	ctx, cancel := h.reqContext(r)
	defer cancel()

	result := h.manager.TrackActivity(ctx, id, req.Action, req.Metadata)

	outcome := "tracked"
	if !result.Tracked {
		outcome = result.Reason
	}
	metrics.ActivityTracked.WithLabelValues(outcome).Inc()

	writeData(w, r, http.StatusOK, result)
}

type activityResponse struct {
	Entries []session.ActivityEntry `json:"entries"`
	Stats   session.ActivityStats   `json:"stats"`
}

// Activity handles GET /session/{id}/activity?limit=.
func (h *SessionHandler) Activity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, CodeValidation,
				"invalid limit", map[string]string{"limit": "must be a non-negative integer"})
			return
		}
		limit = n
	}

	ctx, cancel := h.reqContext(r)
	defer cancel()

	entries, stats, err := h.manager.Activity(ctx, id, limit)
	if err != nil {
		h.writeManagerError(w, r, err, "activity")
		return
	}
	if entries == nil {
		entries = []session.ActivityEntry{}
	}

	writeData(w, r, http.StatusOK, activityResponse{Entries: entries, Stats: stats})
}

// reqContext bounds a store-touching request by the configured timeout.
func (h *SessionHandler) reqContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.storeTimeout)
}

// writeManagerError maps manager errors onto the wire taxonomy.
func (h *SessionHandler) writeManagerError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var ve *session.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, r, http.StatusBadRequest, CodeValidation, ve.Error(),
			map[string]string{ve.Field: ve.Reason})
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrNotActive):
		// Expired-but-unswept and missing are indistinguishable to callers.
		writeError(w, r, http.StatusNotFound, CodeNotFound, "session not found", nil)
	default:
		log.Printf("[api] %s: store failure: %v", op, err)
		metrics.StoreUnavailable.WithLabelValues(op).Inc()
		writeError(w, r, http.StatusServiceUnavailable, CodeStoreUnavailable,
			"session store unavailable", nil)
	}
}
