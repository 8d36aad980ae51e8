// Package worker drives claimed generations through their provider: the tick
// processor, the stale-lease reclaimer and the budgeted run loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"genstudio/internal/domain"
	"genstudio/internal/providers"
)

const (
	maxBackoff   = 5 * time.Minute
	storeTimeout = 10 * time.Second
)

// Config tunes a Processor. Zero values fall back to the defaults below.
type Config struct {
	WorkerID          string
	BatchSize         int
	Concurrency       int
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	MaxAttempts       int
	ProviderTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = NewWorkerID()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 30 * time.Minute
	}
	return c
}

// NewWorkerID returns "<hostname>-<random>" so leases name their holder.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// AdapterResolver picks the provider adapter for a generation type.
type AdapterResolver interface {
	For(t domain.GenerationType) (providers.Adapter, error)
}

// ArtifactSaver stores inline provider output and returns its public URL.
type ArtifactSaver interface {
	Save(ctx context.Context, generationID string, phase domain.Phase, mime string, data []byte) (string, error)
}

// TickResult counts what one tick did with the jobs it claimed.
type TickResult struct {
	Claimed   int           `json:"claimed"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"-"`
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeFailed
	outcomeSkipped
)

type Processor struct {
	store     domain.Transactor
	adapters  AdapterResolver
	artifacts ArtifactSaver
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithArtifacts enables persistence of inline provider output.
func WithArtifacts(a ArtifactSaver) Option {
	return func(p *Processor) { p.artifacts = a }
}

func NewProcessor(store domain.Transactor, adapters AdapterResolver, cfg Config, logger zerolog.Logger, opts ...Option) *Processor {
	cfg = cfg.withDefaults()
	p := &Processor{
		store:    store,
		adapters: adapters,
		cfg:      cfg,
		logger:   logger.With().Str("component", "worker").Str("worker_id", cfg.WorkerID).Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) WorkerID() string { return p.cfg.WorkerID }

// Tick claims up to BatchSize jobs and advances each one step. It is safe to
// run concurrently with other ticks in this or other processes.
func (p *Processor) Tick(ctx context.Context) (TickResult, error) {
	start := p.now()
	var res TickResult
	jobs, err := p.store.Repositories().Generations.Claim(ctx, domain.ClaimParams{
		WorkerID: p.cfg.WorkerID,
		Limit:    p.cfg.BatchSize,
		Now:      start,
	})
	if err != nil {
		return res, fmt.Errorf("claim: %w", err)
	}
	res.Claimed = len(jobs)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.cfg.Concurrency)
	for i := range jobs {
		job := jobs[i]
		g.Go(func() error {
			o := p.run(ctx, &job)
			mu.Lock()
			switch o {
			case outcomeProcessed:
				res.Processed++
			case outcomeFailed:
				res.Failed++
			case outcomeSkipped:
				res.Skipped++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	res.Duration = p.now().Sub(start)
	if res.Claimed > 0 {
		p.logger.Info().
			Int("claimed", res.Claimed).
			Int("processed", res.Processed).
			Int("failed", res.Failed).
			Int("skipped", res.Skipped).
			Dur("duration", res.Duration).
			Msg("tick finished")
	}
	return res, nil
}

func (p *Processor) run(ctx context.Context, job *domain.Generation) (o outcome) {
	log := p.logger.With().Str("generation_id", job.ID).Str("status", string(job.Status)).Logger()
	if ctx.Err() != nil {
		p.release(ctx, job, job.Progress, false, 0, log)
		return outcomeSkipped
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		progress atomic.Int64
		lost     atomic.Bool
	)
	progress.Store(int64(job.Progress))
	stop := p.heartbeat(jobCtx, job, &progress, func() {
		lost.Store(true)
		cancel()
	})
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("job processing panicked")
			o = p.handleError(ctx, job, fmt.Errorf("panic: %v", r), &lost, log)
		}
	}()

	o, err := p.advance(jobCtx, job, &progress, log)
	if err != nil {
		return p.handleError(ctx, job, err, &lost, log)
	}
	return o
}

// advance performs one step: submit if needed, then observe the provider.
func (p *Processor) advance(ctx context.Context, job *domain.Generation, progress *atomic.Int64, log zerolog.Logger) (outcome, error) {
	adapter, err := p.adapters.For(job.Type)
	if err != nil {
		return p.fail(ctx, job, err.Error(), log), nil
	}
	phase := job.Phase()

	ext := job.ExternalID()
	if ext == "" {
		req := providers.JobRequest{
			GenerationID: job.ID,
			WorkspaceID:  job.WorkspaceID,
			Type:         job.Type,
			Tier:         job.Tier,
			Phase:        phase,
			Prompt:       job.Prompt,
		}
		if job.PreviewExternalJobID != nil {
			req.PreviewExternalJobID = *job.PreviewExternalJobID
		}
		ext, err = adapter.Submit(ctx, req)
		if err != nil {
			return outcomeProcessed, fmt.Errorf("submit to %s: %w", adapter.Name(), err)
		}
		now := p.now()
		sctx, cancel := storeContext(ctx)
		ok, err := p.store.Repositories().Generations.SetExternalJobID(sctx, job.ID, p.cfg.WorkerID, ext, now)
		cancel()
		if err != nil {
			return outcomeProcessed, fmt.Errorf("record submission: %w", err)
		}
		if !ok {
			log.Warn().Str("external_job_id", ext).Msg("lease lost before submission was recorded")
			return outcomeSkipped, nil
		}
		job.ExternalJobID = &ext
		job.SubmittedAt = &now
		log.Info().Str("provider", adapter.Name()).Str("external_job_id", ext).Msg("job submitted")
	}

	if p.timedOut(job) {
		if o, settled, err := p.reconcile(ctx, adapter, job, log); settled || err != nil {
			return o, err
		}
		return p.fail(ctx, job, "provider did not finish in time", log), nil
	}
	if !adapter.PollBased() {
		return p.release(ctx, job, int(progress.Load()), false, p.cfg.PollInterval, log), nil
	}

	status, err := adapter.Poll(ctx, ext)
	if err != nil {
		return outcomeProcessed, fmt.Errorf("poll %s: %w", adapter.Name(), err)
	}
	switch status.State {
	case providers.JobSucceeded:
		return p.complete(ctx, job, status, log)
	case providers.JobFailed:
		msg := status.Error
		if msg == "" {
			msg = "provider reported failure"
		}
		return p.fail(ctx, job, msg, log), nil
	}
	if int64(status.Progress) > progress.Load() {
		progress.Store(int64(status.Progress))
	}
	return p.release(ctx, job, int(progress.Load()), false, p.cfg.PollInterval, log), nil
}

// reconcile asks a webhook-driven adapter for the outcome of a timed-out job.
// Callbacks that arrive before the submission is recorded, or while the job
// sits requeued, find no running row and are dropped; this recovers them.
func (p *Processor) reconcile(ctx context.Context, adapter providers.Adapter, job *domain.Generation, log zerolog.Logger) (outcome, bool, error) {
	r, ok := adapter.(providers.Reconciler)
	if !ok || adapter.PollBased() {
		return outcomeProcessed, false, nil
	}
	ext := job.ExternalID()
	status, err := r.Reconcile(ctx, ext)
	if err != nil {
		log.Warn().Err(err).Str("external_job_id", ext).Msg("reconcile failed")
		return outcomeProcessed, false, nil
	}
	switch status.State {
	case providers.JobSucceeded:
		log.Info().Str("external_job_id", ext).Msg("missed completion recovered")
		o, err := p.complete(ctx, job, status, log)
		return o, true, err
	case providers.JobFailed:
		msg := status.Error
		if msg == "" {
			msg = "provider reported failure"
		}
		return p.fail(ctx, job, msg, log), true, nil
	}
	return outcomeProcessed, false, nil
}

func (p *Processor) complete(ctx context.Context, job *domain.Generation, status *providers.JobStatus, log zerolog.Logger) (outcome, error) {
	url := status.OutputURL
	if len(status.Data) > 0 {
		if p.artifacts == nil {
			return outcomeProcessed, errors.New("provider returned inline output but no artifact store is configured")
		}
		saved, err := p.artifacts.Save(ctx, job.ID, job.Phase(), status.MIME, status.Data)
		if err != nil {
			return outcomeProcessed, fmt.Errorf("persist artifact: %w", err)
		}
		url = saved
	}
	ready, _ := domain.ReadyStatusFor(job.Status)
	sctx, cancel := storeContext(ctx)
	defer cancel()
	_, ok, err := p.store.Repositories().Generations.Transition(sctx, domain.TransitionParams{
		ID:            job.ID,
		From:          []domain.Status{job.Status},
		To:            ready,
		WorkerID:      p.cfg.WorkerID,
		ExternalJobID: job.ExternalID(),
		ResultURL:     url,
		Now:           p.now(),
	})
	if err != nil {
		return outcomeProcessed, fmt.Errorf("complete: %w", err)
	}
	if !ok {
		log.Info().Msg("job changed before completion was recorded")
		return outcomeSkipped, nil
	}
	log.Info().Str("to", string(ready)).Str("url", url).Msg("phase completed")
	return outcomeProcessed, nil
}

// fail moves the job to failed and refunds the running phase in one
// transaction. Losing the CAS means someone else settled the job.
func (p *Processor) fail(ctx context.Context, job *domain.Generation, msg string, log zerolog.Logger) outcome {
	ctx, cancel := storeContext(ctx)
	defer cancel()
	var applied bool
	err := p.store.WithinTx(ctx, func(r domain.Repositories) error {
		_, ok, err := r.Generations.Transition(ctx, domain.TransitionParams{
			ID:           job.ID,
			From:         []domain.Status{job.Status},
			To:           domain.StatusFailed,
			WorkerID:     p.cfg.WorkerID,
			ErrorMessage: msg,
			Now:          p.now(),
		})
		if err != nil || !ok {
			return err
		}
		applied = true
		if phase := domain.RefundOnTransition(job.Status, domain.StatusFailed); phase != domain.PhaseNone {
			_, err = r.Credits.Refund(ctx, job.WorkspaceID, job.CostFor(phase), job.ID, domain.RefundReason(phase))
		}
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to record job failure")
		return outcomeSkipped
	}
	if !applied {
		return outcomeSkipped
	}
	log.Warn().Str("reason", msg).Msg("job failed")
	return outcomeFailed
}

// handleError classifies an error from advance. Rejections and exhausted
// retries fail the job; anything else releases it with backoff.
func (p *Processor) handleError(ctx context.Context, job *domain.Generation, err error, lost *atomic.Bool, log zerolog.Logger) outcome {
	if lost.Load() {
		log.Warn().Err(err).Msg("lease lost, abandoning job")
		return outcomeSkipped
	}
	if ctx.Err() != nil {
		log.Info().Err(err).Msg("tick budget exhausted, releasing job")
		p.release(ctx, job, job.Progress, false, 0, log)
		return outcomeSkipped
	}
	if errors.Is(err, providers.ErrRejected) {
		return p.fail(ctx, job, err.Error(), log)
	}
	attempts := job.Attempts + 1
	if attempts >= p.cfg.MaxAttempts {
		return p.fail(ctx, job, fmt.Sprintf("giving up after %d attempts: %v", attempts, err), log)
	}
	log.Warn().Err(err).Int("attempt", attempts).Msg("transient error, will retry")
	return p.release(ctx, job, job.Progress, true, p.backoff(attempts), log)
}

func (p *Processor) release(ctx context.Context, job *domain.Generation, progress int, attemptFailed bool, after time.Duration, log zerolog.Logger) outcome {
	now := p.now()
	sctx, cancel := storeContext(ctx)
	defer cancel()
	ok, err := p.store.Repositories().Generations.Release(sctx, domain.ReleaseParams{
		ID:            job.ID,
		WorkerID:      p.cfg.WorkerID,
		PollAfter:     now.Add(after),
		Progress:      progress,
		AttemptFailed: attemptFailed,
		Now:           now,
	})
	if err != nil {
		log.Error().Err(err).Msg("release failed, lease will expire")
		return outcomeSkipped
	}
	if !ok {
		return outcomeSkipped
	}
	return outcomeProcessed
}

func (p *Processor) timedOut(job *domain.Generation) bool {
	return job.SubmittedAt != nil && p.now().Sub(*job.SubmittedAt) > p.cfg.ProviderTimeout
}

func (p *Processor) backoff(attempt int) time.Duration {
	d := p.cfg.PollInterval
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// heartbeat refreshes the lease until stop is called. onLost fires once when
// the lease CAS fails.
func (p *Processor) heartbeat(ctx context.Context, job *domain.Generation, progress *atomic.Int64, onLost func()) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := p.store.Repositories().Generations.Heartbeat(ctx, job.ID, p.cfg.WorkerID, int(progress.Load()), p.now())
				if err != nil {
					p.logger.Warn().Err(err).Str("generation_id", job.ID).Msg("heartbeat failed")
					continue
				}
				if !ok {
					onLost()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// storeContext keeps store writes alive past the tick deadline so the result
// of a finished provider call is not lost.
func storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}
