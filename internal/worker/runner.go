package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
)

// Reclaimer returns jobs whose lease holder stopped heartbeating to the queue
// they were claimed from. No credits move.
type Reclaimer struct {
	store     domain.Transactor
	threshold time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewReclaimer(store domain.Transactor, threshold time.Duration, logger zerolog.Logger) *Reclaimer {
	if threshold <= 0 {
		threshold = 2 * time.Minute
	}
	return &Reclaimer{
		store:     store,
		threshold: threshold,
		logger:    logger.With().Str("component", "reclaimer").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the reclaimer's time source, for tests.
func (r *Reclaimer) WithClock(now func() time.Time) *Reclaimer {
	r.now = now
	return r
}

func (r *Reclaimer) Reclaim(ctx context.Context) (int, error) {
	now := r.now()
	jobs, err := r.store.Repositories().Generations.ReclaimStale(ctx, now.Add(-r.threshold), now)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		r.logger.Warn().
			Str("generation_id", j.ID).
			Str("worker_id", j.WorkerID).
			Str("from", string(j.FromStatus)).
			Str("to", string(j.ToStatus)).
			Msg("stale job reclaimed")
	}
	return len(jobs), nil
}

// RunSummary aggregates the iterations of one Run.
type RunSummary struct {
	Iterations int           `json:"iterations"`
	Reclaimed  int           `json:"reclaimed"`
	Claimed    int           `json:"claimed"`
	Processed  int           `json:"processed"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"-"`
}

// Runner alternates reclaim and tick until its budget runs out.
type Runner struct {
	processor *Processor
	reclaimer *Reclaimer
	idleSleep time.Duration
	logger    zerolog.Logger
}

func NewRunner(processor *Processor, reclaimer *Reclaimer, idleSleep time.Duration, logger zerolog.Logger) *Runner {
	if idleSleep <= 0 {
		idleSleep = 3 * time.Second
	}
	return &Runner{
		processor: processor,
		reclaimer: reclaimer,
		idleSleep: idleSleep,
		logger:    logger.With().Str("component", "runner").Logger(),
	}
}

// Run loops until budget elapses (budget <= 0 means until ctx ends). Running
// out of budget is a normal return; cancellation of ctx is reported.
func (r *Runner) Run(ctx context.Context, budget time.Duration) (RunSummary, error) {
	start := time.Now()
	runCtx := ctx
	if budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	var sum RunSummary
	for runCtx.Err() == nil {
		sum.Iterations++
		if n, err := r.reclaimer.Reclaim(runCtx); err != nil {
			r.logger.Error().Err(err).Msg("reclaim failed")
		} else {
			sum.Reclaimed += n
		}

		res, err := r.processor.Tick(runCtx)
		if err != nil && runCtx.Err() == nil {
			r.logger.Error().Err(err).Msg("tick failed")
		}
		sum.Claimed += res.Claimed
		sum.Processed += res.Processed
		sum.Failed += res.Failed
		sum.Skipped += res.Skipped

		if res.Claimed == 0 || err != nil {
			sleep(runCtx, r.idleSleep)
		}
	}
	sum.Duration = time.Since(start)

	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return sum, err
	}
	return sum, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
