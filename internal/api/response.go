// Package api exposes the HTTP surface of the session backend: session
// CRUD, activity tracking, the authenticated cleanup endpoints, health,
// and metrics. Every response carries the same JSON envelope.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Envelope is the uniform response body.
type Envelope struct {
	Success  bool       `json:"success"`
	Data     any        `json:"data,omitempty"`
	Error    *ErrorBody `json:"error,omitempty"`
	Metadata Meta       `json:"metadata"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Meta carries per-request bookkeeping.
type Meta struct {
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

// Error codes surfaced to clients.
const (
	CodeValidation       = "validation_error"
	CodeNotFound         = "session_not_found"
	CodeRateLimited      = "rate_limit_exceeded"
	CodeStoreUnavailable = "store_unavailable"
	CodeUnauthorized     = "unauthorized"
)

func meta(r *http.Request) Meta {
	id := middleware.GetReqID(r.Context())
	if id == "" {
		id = uuid.New().String()
	}
	return Meta{RequestID: id, Timestamp: time.Now().UTC()}
}

// writeData writes a success envelope with the given status.
func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{
		Success:  true,
		Data:     data,
		Metadata: meta(r),
	})
}

// writeError writes a failure envelope with the given status.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{
		Success: false,
		Error: &ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
		Metadata: meta(r),
	})
}
