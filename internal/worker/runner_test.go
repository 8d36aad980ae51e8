package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/providers"
	"genstudio/internal/worker"
)

func TestReclaimerRequeuesDeadWorkerJob(t *testing.T) {
	adapter := newFakeAdapter(providers.JobStatus{State: providers.JobSucceeded, OutputURL: "https://cdn.test/p.png"})
	h := newHarness(t, adapter)
	g := h.create(t, domain.TypeImage)

	claimed, err := h.store.Repositories().Generations.Claim(context.Background(), domain.ClaimParams{
		WorkerID: "worker-dead", Limit: 1, Now: h.clock.Now(),
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	reclaimer := worker.NewReclaimer(h.store, 2*time.Minute, infra.DiscardLogger()).WithClock(h.clock.Now)
	n, err := reclaimer.Reclaim(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "fresh lease is left alone")

	h.clock.Advance(3 * time.Minute)
	n, err = reclaimer.Reclaim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	requeued := h.get(t, g.ID)
	assert.Equal(t, domain.StatusQueued, requeued.Status)
	assert.Nil(t, requeued.WorkerID)
	assert.Equal(t, int64(990), h.balance(t), "reclaim moves no credits")

	h.tick(t, h.processor("worker-b"))
	assert.Equal(t, domain.StatusPreviewReady, h.get(t, g.ID).Status)
	assert.Equal(t, 1, adapter.submitCount(g.ID))
}

func TestRunnerStopsWhenBudgetIsSpent(t *testing.T) {
	adapter := newFakeAdapter(providers.JobStatus{State: providers.JobSucceeded, OutputURL: "https://cdn.test/s.txt"})
	h := newHarness(t, adapter)
	for i := 0; i < 3; i++ {
		h.create(t, domain.TypeScript)
	}
	cfg := h.cfg
	cfg.WorkerID = "worker-run"
	p := worker.NewProcessor(h.store, providers.NewRegistry(adapter), cfg, infra.DiscardLogger(), worker.WithArtifacts(h.artifacts))
	r := worker.NewRunner(p, worker.NewReclaimer(h.store, time.Minute, infra.DiscardLogger()), 10*time.Millisecond, infra.DiscardLogger())

	sum, err := r.Run(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sum.Iterations, 1)
	assert.Equal(t, 3, sum.Claimed)
	assert.Equal(t, 3, sum.Processed)
	assert.Zero(t, sum.Failed)
	assert.GreaterOrEqual(t, sum.Duration, 200*time.Millisecond)
}

func TestRunnerReportsParentCancellation(t *testing.T) {
	h := newHarness(t, newFakeAdapter())
	p := h.processor("worker-a")
	r := worker.NewRunner(p, worker.NewReclaimer(h.store, 0, infra.DiscardLogger()), 0, infra.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := r.Run(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Iterations)
}

func TestSummariesDoNotLeakNanosecondDurations(t *testing.T) {
	for name, v := range map[string]any{
		"run":  worker.RunSummary{Claimed: 2, Duration: 1500 * time.Millisecond},
		"tick": worker.TickResult{Claimed: 2, Duration: 1500 * time.Millisecond},
	} {
		t.Run(name, func(t *testing.T) {
			raw, err := json.Marshal(v)
			require.NoError(t, err)
			var fields map[string]any
			require.NoError(t, json.Unmarshal(raw, &fields))
			assert.Equal(t, float64(2), fields["claimed"])
			assert.NotContains(t, fields, "duration_ms")
			assert.NotContains(t, fields, "Duration")
		})
	}
}
