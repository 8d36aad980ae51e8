package handlers

import (
	"net/http"
	"strconv"
	"time"
)

type runSummaryResponse struct {
	Iterations int   `json:"iterations"`
	Reclaimed  int   `json:"reclaimed"`
	Claimed    int   `json:"claimed"`
	Processed  int   `json:"processed"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	DurationMS int64 `json:"duration_ms"`
}

// WorkerTick is the cron entry point. It holds the request open for the run
// budget; ?budget_seconds= may shorten but never extend it.
func (a *App) WorkerTick(w http.ResponseWriter, r *http.Request) {
	budget := a.TickBudget
	if raw := r.URL.Query().Get("budget_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "budget_seconds must be a positive integer")
			return
		}
		if d := time.Duration(secs) * time.Second; budget <= 0 || d < budget {
			budget = d
		}
	}
	if budget <= 0 {
		budget = 50 * time.Second
	}

	sum, err := a.Runner.Run(r.Context(), budget)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("worker run interrupted")
	}
	a.json(w, http.StatusOK, runSummaryResponse{
		Iterations: sum.Iterations,
		Reclaimed:  sum.Reclaimed,
		Claimed:    sum.Claimed,
		Processed:  sum.Processed,
		Failed:     sum.Failed,
		Skipped:    sum.Skipped,
		DurationMS: sum.Duration.Milliseconds(),
	})
}

func (a *App) WorkerReclaim(w http.ResponseWriter, r *http.Request) {
	n, err := a.Reclaimer.Reclaim(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]int{"reclaimed": n})
}
