// Package ratelimit provides fixed-window rate limiting on top of the
// shared key-value store. Counters are incremented atomically before
// being compared, so concurrent callers can never both slip under the
// limit, and a rejected attempt still counts. Fixed windows permit
// short bursts up to twice the limit at window boundaries; that is an
// accepted tradeoff for abuse mitigation.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fitmirror/tryon-app/internal/kv"
)

// KeyPrefix is the key-value store prefix for rate-limit counters.
const KeyPrefix = "vton:rl:"

// Tier defines one rate limiting policy. Tiers share the mechanism and
// differ only in configuration.
type Tier struct {
	Name     string        // key segment, e.g. "create"
	Limit    int64         // max count per window
	Window   time.Duration // fixed window length
	FailOpen bool          // allow the request when the store is unavailable
}

// Standard tiers. Creation is strict and fails closed; activity pings
// are permissive and fail open so tracking never blocks a request.
var (
	TierCreate = Tier{Name: "create", Limit: 10, Window: time.Hour, FailOpen: false}

	TierAPI = Tier{Name: "api", Limit: 60, Window: time.Minute, FailOpen: false}

	TierActivity = Tier{Name: "activity", Limit: 120, Window: time.Minute, FailOpen: true}
)

// Result is the outcome of a single limit check.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time // end of the current fixed window
}

// Limiter performs rate limit checks against the key-value store.
type Limiter struct {
	kv    kv.Store
	tiers []Tier
}

// NewLimiter creates a Limiter covering the given tiers. The tier list
// is used when purging counters for a deleted identifier.
func NewLimiter(store kv.Store, tiers ...Tier) *Limiter {
	if len(tiers) == 0 {
		tiers = []Tier{TierCreate, TierAPI, TierActivity}
	}
	return &Limiter{kv: store, tiers: tiers}
}

// windowStart returns the start of the fixed window containing now.
func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

// key builds the counter key for an identifier in the window starting
// at start. The window start is part of the key, so a new window always
// begins at zero even if an old counter physically lingers.
func key(tier Tier, identifier string, start time.Time) string {
	return fmt.Sprintf("%s%s:%s:%d", KeyPrefix, tier.Name, identifier, start.Unix())
}

// Check increments the identifier's counter for the current window and
// compares the result against the tier limit. The increment stands even
// when the check rejects, so retries cannot evade the limit. On store
// failure the tier's fail-open/fail-closed policy decides the outcome.
func (l *Limiter) Check(ctx context.Context, identifier string, tier Tier) Result {
	now := time.Now().UTC()
	start := windowStart(now, tier.Window)
	resetAt := start.Add(tier.Window)

	// Counters expire at twice the window so a check near the boundary
	// never loses its key mid-comparison.
	count, err := l.kv.Increment(ctx, key(tier, identifier, start), 2*tier.Window)
	if err != nil {
		log.Printf("[ratelimit] increment failed tier=%s id=%s: %v (fail_open=%v)",
			tier.Name, identifier, err, tier.FailOpen)
		return Result{
			Allowed:   tier.FailOpen,
			Limit:     tier.Limit,
			Remaining: 0,
			ResetAt:   resetAt,
		}
	}

	remaining := tier.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= tier.Limit,
		Limit:     tier.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// PurgeIdentifier removes all counters for an identifier across every
// tier. Called when a session is deleted; returns the number of keys
// removed.
func (l *Limiter) PurgeIdentifier(ctx context.Context, identifier string) (int, error) {
	removed := 0
	for _, tier := range l.tiers {
		prefix := KeyPrefix + tier.Name + ":" + identifier + ":"
		var cursor uint64
		for {
			keys, next, err := l.kv.Keys(ctx, prefix, cursor, 100)
			if err != nil {
				return removed, fmt.Errorf("ratelimit: purge %s: %w", identifier, err)
			}
			for _, k := range keys {
				if err := l.kv.Delete(ctx, k); err != nil {
					log.Printf("[ratelimit] purge: delete %s failed: %v", k, err)
					continue
				}
				removed++
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	}
	return removed, nil
}

// SweepElapsed removes counters whose window ended before now minus
// each tier's window. Counters carry a physical TTL, so this sweep is a
// best-effort tidy-up, not a correctness requirement.
func (l *Limiter) SweepElapsed(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	for _, tier := range l.tiers {
		prefix := KeyPrefix + tier.Name + ":"
		cutoff := now.Add(-2 * tier.Window).Unix()

		var cursor uint64
		for {
			keys, next, err := l.kv.Keys(ctx, prefix, cursor, 100)
			if err != nil {
				return removed, fmt.Errorf("ratelimit: sweep %s: %w", tier.Name, err)
			}
			for _, k := range keys {
				start, ok := windowFromKey(k)
				if !ok || start > cutoff {
					continue
				}
				if err := l.kv.Delete(ctx, k); err != nil {
					log.Printf("[ratelimit] sweep: delete %s failed: %v", k, err)
					continue
				}
				removed++
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	}
	return removed, nil
}

// windowFromKey parses the trailing window-start timestamp out of a
// counter key.
func windowFromKey(k string) (int64, bool) {
	idx := -1
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 || idx == len(k)-1 {
		return 0, false
	}
	var start int64
	if _, err := fmt.Sscanf(k[idx+1:], "%d", &start); err != nil {
		return 0, false
	}
	return start, true
}
