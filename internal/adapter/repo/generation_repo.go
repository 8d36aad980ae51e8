package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// GenerationRepositoryPG implements domain.GenerationRepository on Postgres.
type GenerationRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewGenerationRepository creates a generation repository bound to sql, which
// may be the pool runner or a runner bound to a transaction.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql}
}

// Create inserts a new generation record.
func (r *GenerationRepositoryPG) Create(ctx context.Context, g *domain.Generation) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.UpdatedAt = g.CreatedAt
	_, err := r.sql.Exec(ctx, sqlinline.QInsertGeneration,
		g.ID,
		g.WorkspaceID,
		string(g.Type),
		string(g.Tier),
		g.Prompt,
		string(g.Status),
		g.PreviewCostCredits,
		g.FinalCostCredits,
		g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// Get fetches a generation by id regardless of workspace.
func (r *GenerationRepositoryPG) Get(ctx context.Context, id string) (*domain.Generation, error) {
	return r.one(r.sql.QueryRow(ctx, sqlinline.QSelectGeneration, id))
}

// GetForWorkspace fetches a generation only if workspaceID owns it.
func (r *GenerationRepositoryPG) GetForWorkspace(ctx context.Context, workspaceID, id string) (*domain.Generation, error) {
	return r.one(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationForWorkspace, id, workspaceID))
}

// GetByExternalJobID prefers the job whose current submission matches.
func (r *GenerationRepositoryPG) GetByExternalJobID(ctx context.Context, externalJobID string) (*domain.Generation, error) {
	return r.one(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationByExternalID, externalJobID))
}

func (r *GenerationRepositoryPG) one(row pgx.Row) (*domain.Generation, error) {
	g, err := scanGeneration(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

// List returns a page of generations, newest first.
func (r *GenerationRepositoryPG) List(ctx context.Context, f domain.ListFilter) ([]domain.Generation, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListGenerations,
		f.WorkspaceID,
		statusStrings(f.Statuses),
		typeStrings(f.Types),
		f.Limit,
		f.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return collectGenerations(rows)
}

// Transition applies a compare-and-set status change. A false result means
// another actor moved the job first.
func (r *GenerationRepositoryPG) Transition(ctx context.Context, p domain.TransitionParams) (*domain.Generation, bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QTransitionGeneration,
		p.ID,
		statusStrings(p.From),
		string(p.To),
		p.WorkerID,
		p.ErrorMessage,
		p.ResultURL,
		nowOr(p.Now),
		p.ExternalJobID,
	)
	return r.guarded(row)
}

// Finalize moves a preview_ready job to queued_final.
func (r *GenerationRepositoryPG) Finalize(ctx context.Context, id string, now time.Time) (*domain.Generation, bool, error) {
	return r.guarded(r.sql.QueryRow(ctx, sqlinline.QFinalizeGeneration, id, nowOr(now)))
}

func (r *GenerationRepositoryPG) guarded(row pgx.Row) (*domain.Generation, bool, error) {
	g, err := scanGeneration(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return g, true, nil
}

// Claim locks and leases up to p.Limit claimable rows in one statement.
func (r *GenerationRepositoryPG) Claim(ctx context.Context, p domain.ClaimParams) ([]domain.Generation, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	rows, err := r.sql.Query(ctx, sqlinline.QWorkerClaimGenerations, p.WorkerID, p.Limit, nowOr(p.Now))
	if err != nil {
		return nil, fmt.Errorf("claim generations: %w", err)
	}
	return collectGenerations(rows)
}

// Heartbeat refreshes the lease; false means the lease is gone.
func (r *GenerationRepositoryPG) Heartbeat(ctx context.Context, id, workerID string, progress int, now time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QWorkerHeartbeat, id, workerID, nowOr(now), progress)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetExternalJobID records the provider submission id for the current phase.
func (r *GenerationRepositoryPG) SetExternalJobID(ctx context.Context, id, workerID, externalJobID string, now time.Time) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QWorkerSetExternalJobID, id, workerID, externalJobID, nowOr(now))
	if err != nil {
		return false, fmt.Errorf("set external job id: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops the lease so a later tick can poll the job again.
func (r *GenerationRepositoryPG) Release(ctx context.Context, p domain.ReleaseParams) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QWorkerRelease,
		p.ID,
		p.WorkerID,
		p.PollAfter,
		p.Progress,
		p.AttemptFailed,
		nowOr(p.Now),
	)
	if err != nil {
		return false, fmt.Errorf("release: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReclaimStale returns leased running rows with an expired heartbeat to their queue.
func (r *GenerationRepositoryPG) ReclaimStale(ctx context.Context, cutoff, now time.Time) ([]domain.ReclaimedJob, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QWorkerReclaimStale, cutoff, nowOr(now))
	if err != nil {
		return nil, fmt.Errorf("reclaim stale: %w", err)
	}
	defer rows.Close()
	var out []domain.ReclaimedJob
	for rows.Next() {
		var job domain.ReclaimedJob
		var from, to string
		var workerID *string
		if err := rows.Scan(&job.ID, &from, &to, &workerID); err != nil {
			return nil, err
		}
		job.FromStatus = domain.Status(from)
		job.ToStatus = domain.Status(to)
		if workerID != nil {
			job.WorkerID = *workerID
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
