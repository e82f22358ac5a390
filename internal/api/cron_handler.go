package api

import (
	"encoding/json"
	"net/http"

	"github.com/fitmirror/tryon-app/internal/cleanup"
	"github.com/fitmirror/tryon-app/internal/metrics"
)

// CronHandler serves the /cron/cleanup endpoints. Both are guarded by
// the bearer-token middleware; GET is the scheduler's periodic trigger,
// POST is the manual form with options.
type CronHandler struct {
	runner *cleanup.Runner
}

// NewCronHandler creates the cron handler.
func NewCronHandler(runner *cleanup.Runner) *CronHandler {
	return &CronHandler{runner: runner}
}

type cleanupResponse struct {
	DeletedCount    int   `json:"deletedCount"`
	ScannedCount    int   `json:"scannedCount"`
	RateLimitsSwept int   `json:"rateLimitsSwept"`
	DurationMs      int64 `json:"durationMs"`
	DryRun          bool  `json:"dryRun"`
	Errors          int   `json:"errors"`
}

// Trigger handles GET /cron/cleanup: a full live run.
func (h *CronHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	report := h.runner.Run(r.Context(), cleanup.DefaultOptions("cron"))
	h.writeReport(w, r, report)
}

type manualRequest struct {
	DryRun          bool  `json:"dryRun"`
	CleanupSessions *bool `json:"cleanupSessions,omitempty"`
	SweepRateLimits *bool `json:"sweepRateLimits,omitempty"`
}

// Manual handles POST /cron/cleanup with options. Session cleanup and
// rate-limit sweeping default to enabled.
func (h *CronHandler) Manual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeValidation,
				"malformed request body", map[string]string{"body": err.Error()})
			return
		}
	}

	opts := cleanup.DefaultOptions("manual")
	opts.DryRun = req.DryRun
	if req.CleanupSessions != nil {
		opts.CleanupSessions = *req.CleanupSessions
	}
	if req.SweepRateLimits != nil {
		opts.SweepRateLimits = *req.SweepRateLimits
	}

	report := h.runner.Run(r.Context(), opts)
	h.writeReport(w, r, report)
}

// History handles GET /cron/cleanup/history: the rolling window of
// recent runs plus lifetime totals.
func (h *CronHandler) History(w http.ResponseWriter, r *http.Request) {
	reports, stats, err := h.runner.History(r.Context())
	if err != nil {
		metrics.StoreUnavailable.WithLabelValues("cleanup_history").Inc()
		writeError(w, r, http.StatusServiceUnavailable, CodeStoreUnavailable,
			"cleanup history unavailable", nil)
		return
	}
	if reports == nil {
		reports = []cleanup.Report{}
	}
	writeData(w, r, http.StatusOK, map[string]any{
		"runs":  reports,
		"stats": stats,
	})
}

func (h *CronHandler) writeReport(w http.ResponseWriter, r *http.Request, report cleanup.Report) {
	if !report.DryRun {
		metrics.SessionsRemoved.WithLabelValues("cleanup").Add(float64(report.DeletedCount))
	}
	writeData(w, r, http.StatusOK, cleanupResponse{
		DeletedCount:    report.DeletedCount,
		ScannedCount:    report.ScannedCount,
		RateLimitsSwept: report.RateLimitsSwept,
		DurationMs:      report.Duration.Milliseconds(),
		DryRun:          report.DryRun,
		Errors:          report.Errors,
	})
}
