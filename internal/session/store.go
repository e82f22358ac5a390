package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fitmirror/tryon-app/internal/kv"
)

const (
	// KeyPrefix is the key-value store prefix for session records.
	KeyPrefix = "vton:session:"

	// activitySuffix marks the derived activity-log key of a session.
	activitySuffix = ":activity"

	// ttlGrace is added on top of the remaining logical lifetime when
	// refreshing the physical TTL, so a sweep can still observe a
	// logically expired record before the store reclaims it.
	ttlGrace = 5 * time.Minute
)

// Store persists session records and their derived activity logs on top
// of the key-value store. It owns key naming and physical-TTL
// bookkeeping; all lifecycle decisions live in the Manager.
type Store struct {
	kv kv.Store
}

// NewStore creates a session store backed by the given key-value store.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// Key returns the primary record key for a session id.
func Key(id string) string {
	return KeyPrefix + id
}

// ActivityKey returns the derived activity-log key for a session id.
func ActivityKey(id string) string {
	return Key(id) + activitySuffix
}

// idFromKey extracts the session id from a primary record key. Returns
// "" for keys that are not primary record keys (e.g. activity logs).
func idFromKey(key string) string {
	id, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok || strings.Contains(id, ":") {
		return ""
	}
	return id
}

// Get retrieves a session record. Returns nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	val, found, err := s.kv.Get(ctx, Key(id))
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("session: unmarshal %s: %w", id, err)
	}
	return &rec, nil
}

// Put writes a session record. The physical TTL on the store is
// refreshed to the record's remaining logical lifetime plus a grace
// period, so the store reclaims space even if no sweep ever runs.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", rec.SessionID, err)
	}

	ttl := time.Until(rec.ExpiresAt) + ttlGrace
	if ttl < ttlGrace {
		ttl = ttlGrace
	}
	if err := s.kv.Set(ctx, Key(rec.SessionID), string(data), ttl); err != nil {
		return fmt.Errorf("session: put %s: %w", rec.SessionID, err)
	}
	return nil
}

// Delete removes the primary record. Derived keys are the Manager's
// responsibility.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, Key(id)); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}

// DeleteActivity removes the derived activity log for a session.
func (s *Store) DeleteActivity(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, ActivityKey(id))
}

// Page returns one page of session ids for sweep candidacy, starting at
// cursor. Derived keys under the same prefix are filtered out. A
// returned cursor of 0 ends the enumeration.
func (s *Store) Page(ctx context.Context, cursor uint64, pageSize int64) ([]string, uint64, error) {
	keys, next, err := s.kv.Keys(ctx, KeyPrefix, cursor, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("session: page: %w", err)
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id := idFromKey(key); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, next, nil
}

// GetActivity loads the activity log for a session. Returns an empty
// slice when the log does not exist.
func (s *Store) GetActivity(ctx context.Context, id string) ([]ActivityEntry, error) {
	val, found, err := s.kv.Get(ctx, ActivityKey(id))
	if err != nil {
		return nil, fmt.Errorf("session: get activity %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}

	var entries []ActivityEntry
	if err := json.Unmarshal([]byte(val), &entries); err != nil {
		return nil, fmt.Errorf("session: unmarshal activity %s: %w", id, err)
	}
	return entries, nil
}

// PutActivity writes the activity log with the same physical TTL policy
// as the primary record, keyed to the record's remaining lifetime.
func (s *Store) PutActivity(ctx context.Context, rec *Record, entries []ActivityEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("session: marshal activity %s: %w", rec.SessionID, err)
	}

	ttl := time.Until(rec.ExpiresAt) + ttlGrace
	if ttl < ttlGrace {
		ttl = ttlGrace
	}
	if err := s.kv.Set(ctx, ActivityKey(rec.SessionID), string(data), ttl); err != nil {
		return fmt.Errorf("session: put activity %s: %w", rec.SessionID, err)
	}
	return nil
}
