package domain

import (
	"context"
	"time"
)

// CreditLedger mutates workspace balances with single-statement atomic
// operations. Every call writes one credit_transactions row.
type CreditLedger interface {
	Reserve(ctx context.Context, workspaceID string, amount int64, generationID string, reason CreditReason) (int64, error)
	Refund(ctx context.Context, workspaceID string, amount int64, generationID string, reason CreditReason) (int64, error)
	Grant(ctx context.Context, workspaceID string, amount int64, reason CreditReason) (int64, error)
	Balance(ctx context.Context, workspaceID string) (int64, error)
	History(ctx context.Context, workspaceID string, limit int) ([]CreditTransaction, error)
}

// ListFilter narrows a workspace-scoped listing.
type ListFilter struct {
	WorkspaceID string
	Statuses    []Status
	Types       []GenerationType
	Limit       int
	Offset      int
}

// TransitionParams describes a guarded status change.
type TransitionParams struct {
	ID   string
	From []Status
	To   Status
	// WorkerID, when set, additionally requires the caller to hold the lease.
	WorkerID string
	// ExternalJobID, when set, requires the row to still carry that
	// submission so late events for an earlier phase cannot apply.
	ExternalJobID string
	ErrorMessage  string
	ResultURL     string
	Now           time.Time
}

// ClaimParams bounds one claim batch.
type ClaimParams struct {
	WorkerID string
	Limit    int
	Now      time.Time
}

// ReleaseParams drops a lease without changing status.
type ReleaseParams struct {
	ID            string
	WorkerID      string
	PollAfter     time.Time
	Progress      int
	AttemptFailed bool
	Now           time.Time
}

// ReclaimedJob reports one row moved back to its queue by the reclaimer.
type ReclaimedJob struct {
	ID         string
	FromStatus Status
	ToStatus   Status
	WorkerID   string
}

// GenerationRepository persists generations. Every status change is a
// compare-and-set; the boolean result is false when the guard did not match.
type GenerationRepository interface {
	Create(ctx context.Context, g *Generation) error
	Get(ctx context.Context, id string) (*Generation, error)
	GetForWorkspace(ctx context.Context, workspaceID, id string) (*Generation, error)
	GetByExternalJobID(ctx context.Context, externalJobID string) (*Generation, error)
	List(ctx context.Context, filter ListFilter) ([]Generation, error)

	Transition(ctx context.Context, p TransitionParams) (*Generation, bool, error)
	Finalize(ctx context.Context, id string, now time.Time) (*Generation, bool, error)

	Claim(ctx context.Context, p ClaimParams) ([]Generation, error)
	Heartbeat(ctx context.Context, id, workerID string, progress int, now time.Time) (bool, error)
	SetExternalJobID(ctx context.Context, id, workerID, externalJobID string, now time.Time) (bool, error)
	Release(ctx context.Context, p ReleaseParams) (bool, error)
	ReclaimStale(ctx context.Context, cutoff, now time.Time) ([]ReclaimedJob, error)
}

// Repositories groups the stores that must move together.
type Repositories struct {
	Generations GenerationRepository
	Credits     CreditLedger
}

// Transactor runs fn against repositories bound to a single database
// transaction. A non-nil error from fn rolls back every mutation.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Repositories) error) error
	Repositories() Repositories
}
