package session

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// DerivedCleaner removes derived keys scoped to a session identifier
// that live outside the session key namespace — today that is the
// rate-limit counters. Implemented by the ratelimit package.
type DerivedCleaner interface {
	PurgeIdentifier(ctx context.Context, identifier string) (int, error)
}

// PurgeFunc is invoked best-effort after a session record has been
// removed, with the removed record and a reason ("deleted" or
// "cleanup"). Used to notify the photo-purge pipeline.
type PurgeFunc func(rec *Record, reason string)

// Manager owns session business logic: creation, mutation, activity
// tracking, deletion, and the expiry sweep. It holds no state of its
// own between calls; everything lives in the store.
type Manager struct {
	store      *Store
	derived    DerivedCleaner // optional
	onPurge    PurgeFunc      // optional
	defaultTTL int            // minutes, applied when Create gets no TTL
}

// NewManager creates a session manager on top of the given store.
func NewManager(store *Store) *Manager {
	return &Manager{store: store, defaultTTL: DefaultTTLMinutes}
}

// SetDefaultTTL overrides the TTL applied when creation requests no
// explicit TTL. Out-of-range values are ignored and logged so a
// misconfigured deployment keeps the built-in default.
func (m *Manager) SetDefaultTTL(minutes int) {
	if err := validateTTLMinutes(minutes); err != nil {
		log.Printf("[session] ignoring invalid default TTL %dm, keeping %dm", minutes, m.defaultTTL)
		return
	}
	m.defaultTTL = minutes
}

// SetDerivedCleaner registers a cleaner for session-scoped derived keys
// outside the session namespace.
func (m *Manager) SetDerivedCleaner(c DerivedCleaner) {
	m.derived = c
}

// SetOnPurge registers a best-effort callback fired after a session
// record is removed.
func (m *Manager) SetOnPurge(fn PurgeFunc) {
	m.onPurge = fn
}

// CreateResult is returned by Create.
type CreateResult struct {
	SessionID string
	ExpiresIn int64 // seconds
}

// Create generates a fresh session with status active. A nil ttlMinutes
// selects the default; any explicit value, zero included, must be
// within range or the request is rejected. The only side effect is the
// single record write.
func (m *Manager) Create(ctx context.Context, ttlMinutes *int, metadata map[string]any) (*CreateResult, error) {
	minutes := m.defaultTTL
	if ttlMinutes != nil {
		minutes = *ttlMinutes
	}
	if err := validateTTLMinutes(minutes); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &Record{
		SessionID:      uuid.New().String(),
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(time.Duration(minutes) * time.Minute),
		Metadata:       metadata,
	}

	// 128 random bits make collisions effectively impossible, but check
	// anyway rather than silently overwrite a live session.
	if existing, err := m.store.Get(ctx, rec.SessionID); err == nil && existing != nil {
		rec.SessionID = uuid.New().String()
	}

	if err := m.store.Put(ctx, rec); err != nil {
		return nil, err
	}

	return &CreateResult{
		SessionID: rec.SessionID,
		ExpiresIn: rec.ExpiresIn(now),
	}, nil
}

// Get is a pure read: it never mutates status, even for a logically
// expired record. Returns nil when absent; callers check ExpiresAt
// themselves.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	return m.store.Get(ctx, id)
}

// UpdateInput carries a partial update. Nil slice pointers leave the
// photo lists untouched; non-nil pointers replace them wholesale.
// Metadata merges key by key, later write wins.
type UpdateInput struct {
	Metadata      map[string]any
	UserPhotos    *[]string
	GarmentPhotos *[]string
}

// Update applies a partial update to an active session. Bumps UpdatedAt
// and leaves ExpiresAt unchanged. Returns ErrNotFound for a missing
// record and ErrNotActive for a terminal or logically expired one.
func (m *Manager) Update(ctx context.Context, id string, in UpdateInput) (*Record, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	if !rec.Usable(now) {
		return nil, ErrNotActive
	}

	rec.Metadata = mergeMetadata(rec.Metadata, in.Metadata)
	if in.UserPhotos != nil {
		rec.UserPhotos = *in.UserPhotos
	}
	if in.GarmentPhotos != nil {
		rec.GarmentPhotos = *in.GarmentPhotos
	}
	rec.UpdatedAt = now

	if err := m.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Extend recomputes ExpiresAt = now + minutes, independent of the prior
// deadline. Minutes are validated against the same [1,240] range as
// creation. Returns the new ExpiresAt.
func (m *Manager) Extend(ctx context.Context, id string, minutes int) (time.Time, error) {
	if err := validateTTLMinutes(minutes); err != nil {
		return time.Time{}, err
	}

	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if rec == nil {
		return time.Time{}, ErrNotFound
	}

	now := time.Now().UTC()
	if !rec.Usable(now) {
		return time.Time{}, ErrNotActive
	}

	rec.ExpiresAt = now.Add(time.Duration(minutes) * time.Minute)
	rec.UpdatedAt = now

	if err := m.store.Put(ctx, rec); err != nil {
		return time.Time{}, err
	}
	return rec.ExpiresAt, nil
}

// TrackResult reports the outcome of activity tracking. Failures are
// expressed as a reason, never an error: this path must not block the
// caller's primary flow.
type TrackResult struct {
	Tracked bool   `json:"tracked"`
	Reason  string `json:"reason,omitempty"`
}

// TrackActivity appends a bounded activity entry, bumps LastActivityAt
// and RequestCount, and refreshes the physical store TTL via the
// rewrite. The logical ExpiresAt is never touched: activity extends
// storage durability, not the deadline.
func (m *Manager) TrackActivity(ctx context.Context, id, action string, metadata map[string]any) TrackResult {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		log.Printf("[session] track activity %s: store read failed: %v", id, err)
		return TrackResult{Tracked: false, Reason: "store_unavailable"}
	}
	if rec == nil {
		return TrackResult{Tracked: false, Reason: "session_not_found"}
	}

	now := time.Now().UTC()
	if !rec.Usable(now) {
		return TrackResult{Tracked: false, Reason: "session_not_active"}
	}

	entries, err := m.store.GetActivity(ctx, id)
	if err != nil {
		log.Printf("[session] track activity %s: log read failed: %v", id, err)
		return TrackResult{Tracked: false, Reason: "store_unavailable"}
	}
	entries = appendBounded(entries, ActivityEntry{
		Action:    action,
		Timestamp: now,
		Metadata:  metadata,
	})

	rec.LastActivityAt = now
	rec.UpdatedAt = now
	rec.RequestCount++

	if err := m.store.Put(ctx, rec); err != nil {
		log.Printf("[session] track activity %s: record write failed: %v", id, err)
		return TrackResult{Tracked: false, Reason: "store_unavailable"}
	}
	if err := m.store.PutActivity(ctx, rec, entries); err != nil {
		// The record write already succeeded; losing one log entry is
		// acceptable on this path.
		log.Printf("[session] track activity %s: log write failed: %v", id, err)
	}

	return TrackResult{Tracked: true}
}

// Activity returns the most recent limit entries (all when limit <= 0)
// plus aggregate stats over the retained log.
func (m *Manager) Activity(ctx context.Context, id string, limit int) ([]ActivityEntry, ActivityStats, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, ActivityStats{}, err
	}
	if rec == nil {
		return nil, ActivityStats{}, ErrNotFound
	}

	entries, err := m.store.GetActivity(ctx, id)
	if err != nil {
		return nil, ActivityStats{}, err
	}

	stats := statsFor(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, stats, nil
}

// Delete removes the primary record and best-effort removes the derived
// keys. Returns false when the session does not exist; a repeated
// delete is a no-op, not an error. The primary record's removal is
// authoritative — derived-key failures are logged only.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	rec, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return false, err
	}
	m.removeDerived(ctx, id)

	if m.onPurge != nil {
		m.onPurge(rec, "deleted")
	}
	return true, nil
}

// CleanupReport summarizes one expiry sweep.
type CleanupReport struct {
	Deleted int
	Scanned int
}

// CleanupExpired pages through candidate records and removes every one
// with ExpiresAt <= now, along with its derived keys. A failure on one
// record is logged and skipped; the sweep is idempotent and safe to run
// concurrently with live traffic or another sweep. When dryRun is true
// nothing is mutated and Deleted counts what would have been removed.
func (m *Manager) CleanupExpired(ctx context.Context, dryRun bool) (CleanupReport, error) {
	const pageSize = 100

	var report CleanupReport
	var cursor uint64
	for {
		ids, next, err := m.store.Page(ctx, cursor, pageSize)
		if err != nil {
			// A scan failure ends the sweep but still reports the
			// partial counts.
			log.Printf("[session] cleanup: page scan failed: %v", err)
			return report, err
		}

		for _, id := range ids {
			rec, err := m.store.Get(ctx, id)
			if err != nil {
				log.Printf("[session] cleanup: read %s failed, skipping: %v", id, err)
				continue
			}
			if rec == nil {
				// Already gone — concurrent sweep or physical expiry.
				continue
			}
			report.Scanned++

			now := time.Now().UTC()
			if !rec.IsExpired(now) {
				continue
			}
			if dryRun {
				report.Deleted++
				continue
			}

			// Mark the terminal state before removal so a concurrent
			// reader racing the delete observes a swept session, not an
			// active one.
			if canTransition(rec.Status, StatusCleanup) {
				rec.Status = StatusCleanup
				rec.UpdatedAt = now
				if err := m.store.Put(ctx, rec); err != nil {
					log.Printf("[session] cleanup: mark %s failed: %v", id, err)
				}
			}

			if err := m.store.Delete(ctx, id); err != nil {
				log.Printf("[session] cleanup: delete %s failed, skipping: %v", id, err)
				continue
			}
			m.removeDerived(ctx, id)
			report.Deleted++

			if m.onPurge != nil {
				m.onPurge(rec, "cleanup")
			}
		}

		if next == 0 {
			break
		}
		cursor = next
	}

	return report, nil
}

// removeDerived deletes the activity log and session-scoped rate-limit
// counters. Best effort only.
func (m *Manager) removeDerived(ctx context.Context, id string) {
	if err := m.store.DeleteActivity(ctx, id); err != nil {
		log.Printf("[session] delete %s: activity log removal failed: %v", id, err)
	}
	if m.derived != nil {
		if _, err := m.derived.PurgeIdentifier(ctx, id); err != nil {
			log.Printf("[session] delete %s: derived counter removal failed: %v", id, err)
		}
	}
}
