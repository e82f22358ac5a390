// Package cleanup coordinates the expiry sweep: expired session
// removal, elapsed rate-limit counter tidying, and run bookkeeping (a
// rolling history in the key-value store, Prometheus metrics, an
// optional durable audit row, and a completion event). A run that
// partially fails still reports its partial counts; cleanup is never
// all-or-nothing.
package cleanup

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/fitmirror/tryon-app/internal/audit"
	"github.com/fitmirror/tryon-app/internal/events"
	"github.com/fitmirror/tryon-app/internal/kv"
	"github.com/fitmirror/tryon-app/internal/metrics"
	"github.com/fitmirror/tryon-app/internal/ratelimit"
	"github.com/fitmirror/tryon-app/internal/session"
)

const (
	// historyKey holds the rolling window of recent run reports.
	historyKey = "vton:cleanup:history"

	// statsKey holds lifetime aggregate counters.
	statsKey = "vton:cleanup:stats"

	// historySize is the number of recent runs retained in the store.
	historySize = 20
)

// Options controls one cleanup run.
type Options struct {
	DryRun          bool   `json:"dryRun"`
	CleanupSessions bool   `json:"cleanupSessions"`
	SweepRateLimits bool   `json:"sweepRateLimits"`
	Trigger         string `json:"-"` // "cron", "manual", "sweeper"
}

// DefaultOptions is a full live run.
func DefaultOptions(trigger string) Options {
	return Options{
		CleanupSessions: true,
		SweepRateLimits: true,
		Trigger:         trigger,
	}
}

// Report summarizes one cleanup run.
type Report struct {
	StartedAt       time.Time     `json:"startedAt"`
	Duration        time.Duration `json:"duration"`
	DeletedCount    int           `json:"deletedCount"`
	ScannedCount    int           `json:"scannedCount"`
	RateLimitsSwept int           `json:"rateLimitsSwept"`
	DryRun          bool          `json:"dryRun"`
	Errors          int           `json:"errors"`
}

// Stats is the lifetime aggregate stored under statsKey.
type Stats struct {
	TotalRuns    int64     `json:"totalRuns"`
	TotalDeleted int64     `json:"totalDeleted"`
	LastRunAt    time.Time `json:"lastRunAt"`
}

// Runner executes cleanup runs. Audit store and event publisher are
// optional; a nil value skips that concern.
type Runner struct {
	manager   *session.Manager
	limiter   *ratelimit.Limiter
	kv        kv.Store
	audit     *audit.Store
	publisher *events.Publisher
}

// NewRunner creates a cleanup runner.
func NewRunner(manager *session.Manager, limiter *ratelimit.Limiter, store kv.Store) *Runner {
	return &Runner{manager: manager, limiter: limiter, kv: store}
}

// SetAudit attaches a durable audit store for run history.
func (r *Runner) SetAudit(store *audit.Store) {
	r.audit = store
}

// SetPublisher attaches an event publisher for completion events.
func (r *Runner) SetPublisher(p *events.Publisher) {
	r.publisher = p
}

// Run executes one cleanup pass. Safe to invoke concurrently with live
// traffic and with other runs: deletes are idempotent and "already
// gone" is not a failure.
func (r *Runner) Run(ctx context.Context, opts Options) Report {
	report := Report{
		StartedAt: time.Now().UTC(),
		DryRun:    opts.DryRun,
	}

	if opts.CleanupSessions {
		sweep, err := r.manager.CleanupExpired(ctx, opts.DryRun)
		report.DeletedCount = sweep.Deleted
		report.ScannedCount = sweep.Scanned
		if err != nil {
			report.Errors++
		}
	}

	if opts.SweepRateLimits && !opts.DryRun {
		swept, err := r.limiter.SweepElapsed(ctx, time.Now().UTC())
		report.RateLimitsSwept = swept
		if err != nil {
			log.Printf("[cleanup] rate-limit sweep: %v", err)
			report.Errors++
		}
	}

	report.Duration = time.Since(report.StartedAt)

	mode := "live"
	if opts.DryRun {
		mode = "dry_run"
	}
	metrics.CleanupRuns.WithLabelValues(mode).Inc()
	metrics.CleanupDuration.Observe(report.Duration.Seconds())
	if !opts.DryRun {
		metrics.CleanupDeleted.Add(float64(report.DeletedCount))
	}

	if !opts.DryRun {
		r.recordHistory(ctx, report)
	}
	r.recordAudit(ctx, report, opts.Trigger)
	r.publisher.CleanupCompleted(report.DeletedCount, report.DryRun, report.Duration)

	log.Printf("[cleanup] run complete trigger=%s dry_run=%v deleted=%d scanned=%d rl_swept=%d duration=%s errors=%d",
		opts.Trigger, opts.DryRun, report.DeletedCount, report.ScannedCount,
		report.RateLimitsSwept, report.Duration, report.Errors)

	return report
}

// History returns the rolling window of recent run reports, newest
// last, plus lifetime stats.
func (r *Runner) History(ctx context.Context) ([]Report, Stats, error) {
	var reports []Report
	if val, found, err := r.kv.Get(ctx, historyKey); err != nil {
		return nil, Stats{}, err
	} else if found {
		if err := json.Unmarshal([]byte(val), &reports); err != nil {
			return nil, Stats{}, err
		}
	}

	var stats Stats
	if val, found, err := r.kv.Get(ctx, statsKey); err != nil {
		return nil, Stats{}, err
	} else if found {
		if err := json.Unmarshal([]byte(val), &stats); err != nil {
			return nil, Stats{}, err
		}
	}

	return reports, stats, nil
}

// recordHistory appends the report to the rolling window and bumps the
// lifetime stats. Read-modify-write without a concurrency token;
// concurrent runs may lose one history entry, which is acceptable for
// an operational aggregate.
func (r *Runner) recordHistory(ctx context.Context, report Report) {
	reports, stats, err := r.History(ctx)
	if err != nil {
		log.Printf("[cleanup] history read failed: %v", err)
		return
	}

	reports = append(reports, report)
	if len(reports) > historySize {
		reports = reports[len(reports)-historySize:]
	}
	stats.TotalRuns++
	stats.TotalDeleted += int64(report.DeletedCount)
	stats.LastRunAt = report.StartedAt

	if data, err := json.Marshal(reports); err == nil {
		if err := r.kv.Set(ctx, historyKey, string(data), 0); err != nil {
			log.Printf("[cleanup] history write failed: %v", err)
		}
	}
	if data, err := json.Marshal(stats); err == nil {
		if err := r.kv.Set(ctx, statsKey, string(data), 0); err != nil {
			log.Printf("[cleanup] stats write failed: %v", err)
		}
	}
}

// recordAudit writes the durable audit row. Best effort.
func (r *Runner) recordAudit(ctx context.Context, report Report, trigger string) {
	err := r.audit.RecordRun(ctx, audit.CleanupRun{
		StartedAt:       report.StartedAt,
		Duration:        report.Duration,
		DeletedCount:    report.DeletedCount,
		ScannedCount:    report.ScannedCount,
		RateLimitsSwept: report.RateLimitsSwept,
		DryRun:          report.DryRun,
		Trigger:         trigger,
	})
	if err != nil {
		log.Printf("[cleanup] audit write failed: %v", err)
	}
}
