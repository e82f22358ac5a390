package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitmirror/tryon-app/internal/kv"
)

// newTestLimiter connects to a local Redis and cleans rltest-scoped
// counter keys before and after. Requires Redis on localhost:6379.
func newTestLimiter(t *testing.T, tiers ...Tier) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	clean := func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"*:rltest_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})

	return NewLimiter(kv.NewRedisStoreFromClient(client), tiers...)
}

func TestCheckAllowsUpToLimit(t *testing.T) {
	tier := Tier{Name: "unit", Limit: 5, Window: time.Minute}
	l := newTestLimiter(t, tier)
	ctx := context.Background()
	id := fmt.Sprintf("rltest_seq_%d", time.Now().UnixNano())

	for i := int64(1); i <= tier.Limit; i++ {
		r := l.Check(ctx, id, tier)
		if !r.Allowed {
			t.Fatalf("check %d rejected, want allowed", i)
		}
		if r.Remaining != tier.Limit-i {
			t.Errorf("check %d: Remaining = %d, want %d", i, r.Remaining, tier.Limit-i)
		}
		if r.Limit != tier.Limit {
			t.Errorf("check %d: Limit = %d, want %d", i, r.Limit, tier.Limit)
		}
	}

	r := l.Check(ctx, id, tier)
	if r.Allowed {
		t.Errorf("check %d allowed, want rejected", tier.Limit+1)
	}
	if r.Remaining != 0 {
		t.Errorf("rejected check: Remaining = %d, want 0", r.Remaining)
	}
	if !r.ResetAt.After(time.Now().Add(-time.Second)) {
		t.Errorf("ResetAt %v should not be in the past", r.ResetAt)
	}
}

func TestRejectedChecksStillCount(t *testing.T) {
	tier := Tier{Name: "unit", Limit: 2, Window: time.Minute}
	l := newTestLimiter(t, tier)
	ctx := context.Background()
	id := fmt.Sprintf("rltest_burn_%d", time.Now().UnixNano())

	for i := 0; i < 4; i++ {
		l.Check(ctx, id, tier)
	}
	// Retrying after a rejection must not find headroom again.
	if r := l.Check(ctx, id, tier); r.Allowed {
		t.Error("retry after rejection was allowed")
	}
}

func TestWindowReset(t *testing.T) {
	tier := Tier{Name: "unit", Limit: 2, Window: time.Second}
	l := newTestLimiter(t, tier)
	ctx := context.Background()
	id := fmt.Sprintf("rltest_reset_%d", time.Now().UnixNano())

	// Start just after a window boundary so the burn and the rejection
	// land in the same window.
	now := time.Now()
	time.Sleep(now.Truncate(time.Second).Add(time.Second + 50*time.Millisecond).Sub(now))

	l.Check(ctx, id, tier)
	l.Check(ctx, id, tier)
	if r := l.Check(ctx, id, tier); r.Allowed {
		t.Fatal("third check in window allowed, want rejected")
	}

	time.Sleep(1100 * time.Millisecond)

	r := l.Check(ctx, id, tier)
	if !r.Allowed {
		t.Error("check in fresh window rejected, want allowed")
	}
	if r.Remaining != tier.Limit-1 {
		t.Errorf("fresh window Remaining = %d, want %d", r.Remaining, tier.Limit-1)
	}
}

func TestConcurrentChecksAdmitExactlyLimit(t *testing.T) {
	tier := Tier{Name: "unit", Limit: 10, Window: time.Minute}
	l := newTestLimiter(t, tier)
	ctx := context.Background()
	id := fmt.Sprintf("rltest_conc_%d", time.Now().UnixNano())

	const attempts = 50
	var allowed int64
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if r := l.Check(ctx, id, tier); r.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != tier.Limit {
		t.Errorf("allowed = %d of %d concurrent checks, want exactly %d", allowed, attempts, tier.Limit)
	}
}

func TestTiersAreIndependent(t *testing.T) {
	strict := Tier{Name: "unitstrict", Limit: 1, Window: time.Minute}
	loose := Tier{Name: "unitloose", Limit: 100, Window: time.Minute}
	l := newTestLimiter(t, strict, loose)
	ctx := context.Background()
	id := fmt.Sprintf("rltest_tiers_%d", time.Now().UnixNano())

	l.Check(ctx, id, strict)
	if r := l.Check(ctx, id, strict); r.Allowed {
		t.Error("strict tier should be exhausted")
	}
	if r := l.Check(ctx, id, loose); !r.Allowed {
		t.Error("loose tier should be unaffected by the strict one")
	}
}

func TestPurgeIdentifier(t *testing.T) {
	tier := Tier{Name: "unit", Limit: 1, Window: time.Minute}
	l := newTestLimiter(t, tier)
	ctx := context.Background()
	id := fmt.Sprintf("rltest_purge_%d", time.Now().UnixNano())

	l.Check(ctx, id, tier)
	if r := l.Check(ctx, id, tier); r.Allowed {
		t.Fatal("counter should be exhausted before purge")
	}

	removed, err := l.PurgeIdentifier(ctx, id)
	if err != nil {
		t.Fatalf("PurgeIdentifier() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if r := l.Check(ctx, id, tier); !r.Allowed {
		t.Error("check after purge rejected, want allowed")
	}
}

func TestSweepElapsed(t *testing.T) {
	tier := Tier{Name: "unit", Limit: 5, Window: time.Minute}
	l := newTestLimiter(t, tier)
	ctx := context.Background()
	id := fmt.Sprintf("rltest_sweep_%d", time.Now().UnixNano())

	l.Check(ctx, id, tier)

	// A sweep at the current time leaves the live window's counter alone.
	if _, err := l.SweepElapsed(ctx, time.Now().UTC()); err != nil {
		t.Fatalf("SweepElapsed() error: %v", err)
	}
	if r := l.Check(ctx, id, tier); r.Remaining != tier.Limit-2 {
		t.Errorf("live counter was swept: Remaining = %d, want %d", r.Remaining, tier.Limit-2)
	}

	// A sweep far in the future removes it.
	removed, err := l.SweepElapsed(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("future SweepElapsed() error: %v", err)
	}
	if removed < 1 {
		t.Errorf("future sweep removed %d counters, want >= 1", removed)
	}
}

func TestWindowStart(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 34, 56, 0, time.UTC)

	got := windowStart(at, time.Minute)
	want := time.Date(2025, 6, 1, 12, 34, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("windowStart(minute) = %v, want %v", got, want)
	}

	got = windowStart(at, time.Hour)
	want = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("windowStart(hour) = %v, want %v", got, want)
	}
}

func TestWindowFromKey(t *testing.T) {
	k := key(Tier{Name: "create"}, "203.0.113.9", time.Unix(1748779200, 0))
	start, ok := windowFromKey(k)
	if !ok || start != 1748779200 {
		t.Errorf("windowFromKey(%q) = (%d, %v), want (1748779200, true)", k, start, ok)
	}

	if _, ok := windowFromKey("vton:rl:create:nosuffix:"); ok {
		t.Error("trailing colon should not parse")
	}
	if _, ok := windowFromKey("plain"); ok {
		t.Error("key without separator should not parse")
	}
}
