// Package session implements the session lifecycle core: typed records
// persisted in the shared key-value store, the manager that owns their
// state machine, and the bounded per-session activity log.
package session

import (
	"time"
)

// Status values for the session state machine. A session starts active
// and moves to exactly one terminal state; there is no way back.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusDeleted = "deleted"
	StatusCleanup = "cleanup"
)

// TTL bounds in minutes for session creation and extension.
const (
	MinTTLMinutes     = 1
	MaxTTLMinutes     = 240
	DefaultTTLMinutes = 30
)

// Record is a session as stored in the key-value store. All timestamps
// are UTC. UserPhotos and GarmentPhotos are append-only from the
// application's perspective; Metadata merges last-writer-wins per key.
type Record struct {
	SessionID      string         `json:"sessionId"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
	UserPhotos     []string       `json:"userPhotos"`
	GarmentPhotos  []string       `json:"garmentPhotos"`
	Metadata       map[string]any `json:"metadata"`
	RequestCount   int64          `json:"requestCount"`
}

// IsExpired reports whether the record is logically expired at now.
// The logical ExpiresAt is authoritative; the store's physical TTL is
// only a reclamation backstop.
func (r *Record) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Usable reports whether the record can still be mutated: status active
// and not logically expired. An expired-but-not-yet-swept record reads
// exactly like a missing one to callers.
func (r *Record) Usable(now time.Time) bool {
	return r.Status == StatusActive && !r.IsExpired(now)
}

// ExpiresIn returns the remaining logical lifetime in whole seconds,
// never negative.
func (r *Record) ExpiresIn(now time.Time) int64 {
	remaining := r.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

// canTransition reports whether the state machine allows moving a
// session from one status to another. Only active sessions move, and
// only into a terminal state.
func canTransition(from, to string) bool {
	if from != StatusActive {
		return false
	}
	switch to {
	case StatusExpired, StatusDeleted, StatusCleanup:
		return true
	}
	return false
}

// validateTTLMinutes rejects TTLs outside [MinTTLMinutes, MaxTTLMinutes].
func validateTTLMinutes(minutes int) error {
	if minutes < MinTTLMinutes || minutes > MaxTTLMinutes {
		return &ValidationError{
			Field:  "ttlMinutes",
			Reason: "must be between 1 and 240",
		}
	}
	return nil
}

// mergeMetadata applies updates onto base key by key, later write wins.
// A nil base is allocated on demand; base is returned for convenience.
func mergeMetadata(base, updates map[string]any) map[string]any {
	if len(updates) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		base[k] = v
	}
	return base
}
