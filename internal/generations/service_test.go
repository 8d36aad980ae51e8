package generations_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genstudio/internal/domain"
	"genstudio/internal/generations"
	"genstudio/internal/infra"
	"genstudio/internal/testutil"
)

type fixture struct {
	store domain.Transactor
	svc   *generations.Service
	clock *testutil.Clock
}

func newFixture(t *testing.T, balance int64) fixture {
	t.Helper()
	store := testutil.NewStore(t)
	clock := testutil.NewClock(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	if balance > 0 {
		_, err := store.Repositories().Credits.Grant(context.Background(), "ws-1", balance, "")
		require.NoError(t, err)
	}
	svc := generations.NewService(store, infra.DiscardLogger(), generations.WithClock(clock.Now))
	return fixture{store: store, svc: svc, clock: clock}
}

func (f fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.svc.Balance(context.Background(), "ws-1")
	require.NoError(t, err)
	return b
}

// completePreview drives a queued job to preview_ready the way a worker would.
func (f fixture) completePreview(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	repos := f.store.Repositories()
	claimed, err := repos.Generations.Claim(ctx, domain.ClaimParams{WorkerID: "worker-a", Limit: 10, Now: f.clock.Now()})
	require.NoError(t, err)
	require.NotEmpty(t, claimed)
	_, ok, err := repos.Generations.Transition(ctx, domain.TransitionParams{
		ID: id, From: []domain.Status{domain.StatusRunningPreview}, To: domain.StatusPreviewReady, WorkerID: "worker-a",
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func createVideo(t *testing.T, f fixture) *domain.Generation {
	t.Helper()
	g, err := f.svc.Create(context.Background(), generations.CreateInput{
		WorkspaceID: "ws-1", Type: domain.TypeVideo, Prompt: "a lighthouse at dusk",
	})
	require.NoError(t, err)
	return g
}

func TestCreateReservesPreviewCost(t *testing.T) {
	f := newFixture(t, 100)

	g := createVideo(t, f)
	assert.Equal(t, domain.StatusQueued, g.Status)
	assert.Equal(t, domain.TierStandard, g.Tier)
	assert.Equal(t, int64(60), g.PreviewCostCredits)
	assert.Equal(t, int64(120), g.FinalCostCredits)
	assert.Equal(t, int64(40), f.balance(t))

	stored, err := f.svc.Get(context.Background(), "ws-1", g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, stored.Status)
}

func TestCreateWithoutCreditsLeavesNoJob(t *testing.T) {
	f := newFixture(t, 50)

	_, err := f.svc.Create(context.Background(), generations.CreateInput{
		WorkspaceID: "ws-1", Type: domain.TypeVideo, Prompt: "a lighthouse at dusk",
	})
	var ice *domain.InsufficientCreditsError
	require.True(t, errors.As(err, &ice), "got %v", err)
	assert.Equal(t, int64(60), ice.Required)
	assert.Equal(t, int64(50), ice.Available)
	assert.Equal(t, int64(50), f.balance(t))

	items, err := f.svc.List(context.Background(), generations.ListInput{WorkspaceID: "ws-1"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t, 100)
	cases := map[string]generations.CreateInput{
		"missing workspace": {Type: domain.TypeVideo, Prompt: "x"},
		"unknown type":      {WorkspaceID: "ws-1", Type: "hologram", Prompt: "x"},
		"unknown tier":      {WorkspaceID: "ws-1", Type: domain.TypeVideo, Tier: "ultra", Prompt: "x"},
		"blank prompt":      {WorkspaceID: "ws-1", Type: domain.TypeVideo, Prompt: "   "},
		"negative cost":     {WorkspaceID: "ws-1", Type: domain.TypeVideo, Prompt: "x", Cost: &generations.Cost{Preview: -1}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	assert.Equal(t, int64(100), f.balance(t))
}

func TestCreateNormalizesPrompt(t *testing.T) {
	f := newFixture(t, 100)
	// "e" followed by a combining acute accent composes to a single rune.
	g, err := f.svc.Create(context.Background(), generations.CreateInput{
		WorkspaceID: "ws-1", Type: domain.TypeScript, Prompt: "  cafe\u0301 menu  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9 menu", g.Prompt)

	// The limit counts characters, not bytes.
	_, err = f.svc.Create(context.Background(), generations.CreateInput{
		WorkspaceID: "ws-1", Type: domain.TypeScript, Prompt: strings.Repeat("\u00e9", 4000),
	})
	require.NoError(t, err)
	_, err = f.svc.Create(context.Background(), generations.CreateInput{
		WorkspaceID: "ws-1", Type: domain.TypeScript, Prompt: strings.Repeat("a", 4001),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCreateHonoursSuppliedCost(t *testing.T) {
	f := newFixture(t, 100)
	g, err := f.svc.Create(context.Background(), generations.CreateInput{
		WorkspaceID: "ws-1", Type: domain.TypeScript, Prompt: "outline", Cost: &generations.Cost{Preview: 0, Final: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), g.PreviewCostCredits)
	assert.Equal(t, int64(7), g.FinalCostCredits)
	assert.Equal(t, int64(100), f.balance(t))
}

func TestCancelQueuedRefundsOnce(t *testing.T) {
	f := newFixture(t, 100)
	g := createVideo(t, f)

	cancelled, err := f.svc.Cancel(context.Background(), "ws-1", g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Equal(t, int64(100), f.balance(t))

	_, err = f.svc.Cancel(context.Background(), "ws-1", g.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, int64(100), f.balance(t))
}

func TestCancelRunningPreviewKeepsCharge(t *testing.T) {
	f := newFixture(t, 100)
	g := createVideo(t, f)
	_, err := f.store.Repositories().Generations.Claim(context.Background(), domain.ClaimParams{WorkerID: "worker-a", Limit: 1})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), "ws-1", g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.WorkerID)
	assert.Equal(t, int64(40), f.balance(t))
}

func TestCancelQueuedFinalRefundsFinalCost(t *testing.T) {
	f := newFixture(t, 200)
	g := createVideo(t, f)
	f.completePreview(t, g.ID)
	_, err := f.svc.Finalize(context.Background(), "ws-1", g.ID)
	require.NoError(t, err)
	require.Equal(t, int64(20), f.balance(t))

	_, err = f.svc.Cancel(context.Background(), "ws-1", g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(140), f.balance(t), "final cost refunded, preview cost kept")
}

func TestFinalizeRequiresPreviewAndCredits(t *testing.T) {
	f := newFixture(t, 100)
	g := createVideo(t, f)

	_, err := f.svc.Finalize(context.Background(), "ws-1", g.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.completePreview(t, g.ID)
	_, err = f.svc.Finalize(context.Background(), "ws-1", g.ID)
	var ice *domain.InsufficientCreditsError
	require.True(t, errors.As(err, &ice), "got %v", err)
	assert.Equal(t, int64(120), ice.Required)
	assert.Equal(t, int64(40), ice.Available)

	stored, err := f.svc.Get(context.Background(), "ws-1", g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPreviewReady, stored.Status)

	_, err = f.store.Repositories().Credits.Grant(context.Background(), "ws-1", 100, "")
	require.NoError(t, err)
	finalized, err := f.svc.Finalize(context.Background(), "ws-1", g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueuedFinal, finalized.Status)
	require.NotNil(t, finalized.FinalRequestedAt)
	assert.Equal(t, int64(20), f.balance(t))

	_, err = f.svc.Finalize(context.Background(), "ws-1", g.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, int64(20), f.balance(t))
}

func TestConcurrentFinalizeDebitsOnce(t *testing.T) {
	f := newFixture(t, 1000)
	g := createVideo(t, f)
	f.completePreview(t, g.ID)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Finalize(context.Background(), "ws-1", g.ID)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, int64(1000-60-120), f.balance(t))
}

// racingGenerations loses the finalize CAS by cancelling the row first.
type racingGenerations struct {
	domain.GenerationRepository
}

func (r racingGenerations) Finalize(ctx context.Context, id string, now time.Time) (*domain.Generation, bool, error) {
	if _, _, err := r.Transition(ctx, domain.TransitionParams{
		ID: id, From: []domain.Status{domain.StatusPreviewReady}, To: domain.StatusCancelled,
	}); err != nil {
		return nil, false, err
	}
	return r.GenerationRepository.Finalize(ctx, id, now)
}

type racingStore struct {
	domain.Transactor
}

func (s racingStore) WithinTx(ctx context.Context, fn func(domain.Repositories) error) error {
	return s.Transactor.WithinTx(ctx, func(r domain.Repositories) error {
		r.Generations = racingGenerations{r.Generations}
		return fn(r)
	})
}

func TestFinalizeLostRaceRollsBackReservation(t *testing.T) {
	f := newFixture(t, 300)
	g := createVideo(t, f)
	f.completePreview(t, g.ID)

	svc := generations.NewService(racingStore{f.store}, infra.DiscardLogger())
	_, err := svc.Finalize(context.Background(), "ws-1", g.ID)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, int64(240), f.balance(t))

	history, err := f.svc.History(context.Background(), "ws-1", 10)
	require.NoError(t, err)
	reasons := map[domain.CreditReason]int64{}
	for _, tx := range history {
		reasons[tx.Reason] += tx.Delta
	}
	assert.Equal(t, int64(-120), reasons[domain.ReasonFinalReserve])
	assert.Equal(t, int64(120), reasons[domain.ReasonFinalizeRollback])
}

func TestWorkspaceScoping(t *testing.T) {
	f := newFixture(t, 100)
	g := createVideo(t, f)

	_, err := f.svc.Get(context.Background(), "ws-2", g.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Cancel(context.Background(), "ws-2", g.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Finalize(context.Background(), "ws-2", g.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListClampsAndValidates(t *testing.T) {
	f := newFixture(t, 100)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(context.Background(), generations.CreateInput{
			WorkspaceID: "ws-1", Type: domain.TypeScript, Prompt: "outline",
		})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	items, err := f.svc.List(context.Background(), generations.ListInput{WorkspaceID: "ws-1", Limit: 500})
	require.NoError(t, err)
	assert.Len(t, items, 3)

	page, err := f.svc.List(context.Background(), generations.ListInput{WorkspaceID: "ws-1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, items[1].ID, page[0].ID)

	_, err = f.svc.List(context.Background(), generations.ListInput{WorkspaceID: "ws-1", Statuses: []domain.Status{"done"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestIsClientError(t *testing.T) {
	assert.True(t, generations.IsClientError(&domain.InsufficientCreditsError{Required: 1}))
	assert.True(t, generations.IsClientError(domain.InvalidInput("bad")))
	assert.False(t, generations.IsClientError(errors.New("connection refused")))
}
