package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"genstudio/internal/domain"
)

var (
	queuedStatuses  = []string{string(domain.StatusQueued), string(domain.StatusQueuedFinal)}
	runningStatuses = []string{string(domain.StatusRunningPreview), string(domain.StatusRunningFinal)}
)

// GenerationRepository implements domain.GenerationRepository with gorm.
// Every status change is a guarded UPDATE whose RowsAffected decides the race.
type GenerationRepository struct {
	db *gorm.DB
}

func NewGenerationRepository(db *gorm.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Create(ctx context.Context, g *domain.Generation) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.UpdatedAt = g.CreatedAt
	if err := r.db.WithContext(ctx).Create(generationFromDomain(g)).Error; err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

func (r *GenerationRepository) Get(ctx context.Context, id string) (*domain.Generation, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *GenerationRepository) GetForWorkspace(ctx context.Context, workspaceID, id string) (*domain.Generation, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ? AND workspace_id = ?", id, workspaceID))
}

func (r *GenerationRepository) GetByExternalJobID(ctx context.Context, externalJobID string) (*domain.Generation, error) {
	g, err := r.first(r.db.WithContext(ctx).Where("external_job_id = ?", externalJobID).Order("created_at DESC"))
	if !errors.Is(err, domain.ErrNotFound) {
		return g, err
	}
	return r.first(r.db.WithContext(ctx).Where("preview_external_job_id = ?", externalJobID).Order("created_at DESC"))
}

func (r *GenerationRepository) first(q *gorm.DB) (*domain.Generation, error) {
	var m generationModel
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *GenerationRepository) List(ctx context.Context, f domain.ListFilter) ([]domain.Generation, error) {
	q := r.db.WithContext(ctx).Model(&generationModel{}).Where("workspace_id = ?", f.WorkspaceID)
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if len(f.Types) > 0 {
		q = q.Where("type IN ?", f.Types)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var models []generationModel
	if err := q.Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	out := make([]domain.Generation, 0, len(models))
	for i := range models {
		out = append(out, *models[i].toDomain())
	}
	return out, nil
}

func (r *GenerationRepository) Transition(ctx context.Context, p domain.TransitionParams) (*domain.Generation, bool, error) {
	now := nowOr(p.Now)
	updates := map[string]any{
		"status":              string(p.To),
		"worker_id":           nil,
		"worker_heartbeat_at": nil,
		"poll_after":          nil,
		"updated_at":          now,
	}
	switch p.To {
	case domain.StatusPreviewReady:
		updates["progress"] = 100
		updates["preview_completed_at"] = now
		if p.ResultURL != "" {
			updates["preview_url"] = p.ResultURL
		}
	case domain.StatusFinalReady:
		updates["progress"] = 100
		updates["completed_at"] = now
		if p.ResultURL != "" {
			updates["output_url"] = p.ResultURL
		}
	case domain.StatusFailed:
		updates["completed_at"] = now
		if p.ErrorMessage != "" {
			updates["error_message"] = p.ErrorMessage
		}
	case domain.StatusCancelled:
		updates["completed_at"] = now
	case domain.StatusQueued, domain.StatusQueuedFinal:
		updates["progress"] = 0
	}

	q := r.db.WithContext(ctx).Model(&generationModel{}).
		Where("id = ? AND status IN ?", p.ID, p.From)
	if p.WorkerID != "" {
		q = q.Where("worker_id = ?", p.WorkerID)
	}
	if p.ExternalJobID != "" {
		q = q.Where("external_job_id = ?", p.ExternalJobID)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, false, fmt.Errorf("transition generation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	g, err := r.Get(ctx, p.ID)
	if err != nil {
		return nil, true, err
	}
	return g, true, nil
}

func (r *GenerationRepository) Finalize(ctx context.Context, id string, now time.Time) (*domain.Generation, bool, error) {
	now = nowOr(now)
	res := r.db.WithContext(ctx).Model(&generationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPreviewReady).
		Updates(map[string]any{
			"status":                  string(domain.StatusQueuedFinal),
			"final_requested_at":      now,
			"preview_external_job_id": gorm.Expr("external_job_id"),
			"external_job_id":         nil,
			"submitted_at":            nil,
			"progress":                0,
			"attempts":                0,
			"poll_after":              nil,
			"updated_at":              now,
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("finalize generation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, false, nil
	}
	g, err := r.Get(ctx, id)
	if err != nil {
		return nil, true, err
	}
	return g, true, nil
}

// Claim selects candidates and leases each with its own guarded UPDATE, all
// inside one transaction. Postgres skips rows locked by a concurrent claimant;
// on SQLite the single connection serializes claimants.
func (r *GenerationRepository) Claim(ctx context.Context, p domain.ClaimParams) ([]domain.Generation, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	now := nowOr(p.Now)
	var claimed []domain.Generation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&generationModel{}).
			Where("status IN ? OR (status IN ? AND worker_id IS NULL AND (poll_after IS NULL OR poll_after <= ?))",
				queuedStatuses, runningStatuses, now).
			Order("created_at ASC").
			Limit(p.Limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var candidates []generationModel
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}
		for _, c := range candidates {
			next := domain.Status(c.Status)
			guard := tx.Model(&generationModel{}).Where("id = ? AND status = ?", c.ID, c.Status)
			if running, ok := domain.RunningStatusFor(next); ok {
				next = running
			} else {
				guard = guard.Where("worker_id IS NULL")
			}
			res := guard.Updates(map[string]any{
				"status":              string(next),
				"worker_id":           p.WorkerID,
				"worker_heartbeat_at": now,
				"poll_after":          nil,
				"updated_at":          now,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			var m generationModel
			if err := tx.First(&m, "id = ?", c.ID).Error; err != nil {
				return err
			}
			claimed = append(claimed, *m.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim generations: %w", err)
	}
	return claimed, nil
}

func (r *GenerationRepository) Heartbeat(ctx context.Context, id, workerID string, progress int, now time.Time) (bool, error) {
	now = nowOr(now)
	res := r.db.WithContext(ctx).Model(&generationModel{}).
		Where("id = ? AND worker_id = ? AND status IN ?", id, workerID, runningStatuses).
		Updates(map[string]any{
			"worker_heartbeat_at": now,
			"progress":            gorm.Expr("CASE WHEN progress < ? THEN ? ELSE progress END", progress, progress),
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("heartbeat: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *GenerationRepository) SetExternalJobID(ctx context.Context, id, workerID, externalJobID string, now time.Time) (bool, error) {
	now = nowOr(now)
	res := r.db.WithContext(ctx).Model(&generationModel{}).
		Where("id = ? AND worker_id = ? AND external_job_id IS NULL AND status IN ?", id, workerID, runningStatuses).
		Updates(map[string]any{
			"external_job_id":     externalJobID,
			"submitted_at":        now,
			"worker_heartbeat_at": now,
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("set external job id: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *GenerationRepository) Release(ctx context.Context, p domain.ReleaseParams) (bool, error) {
	attempts := 0
	if p.AttemptFailed {
		attempts = 1
	}
	res := r.db.WithContext(ctx).Model(&generationModel{}).
		Where("id = ? AND worker_id = ? AND status IN ?", p.ID, p.WorkerID, runningStatuses).
		Updates(map[string]any{
			"worker_id":           nil,
			"worker_heartbeat_at": nil,
			"poll_after":          p.PollAfter.UTC(),
			"progress":            gorm.Expr("CASE WHEN progress < ? THEN ? ELSE progress END", p.Progress, p.Progress),
			"attempts":            gorm.Expr("attempts + ?", attempts),
			"updated_at":          nowOr(p.Now),
		})
	if res.Error != nil {
		return false, fmt.Errorf("release: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReclaimStale moves leased running rows whose heartbeat is older than cutoff
// back to their queue. Each move re-checks the stale condition so a worker
// that heartbeats in between keeps its lease.
func (r *GenerationRepository) ReclaimStale(ctx context.Context, cutoff, now time.Time) ([]domain.ReclaimedJob, error) {
	cutoff = cutoff.UTC()
	now = nowOr(now)
	var reclaimed []domain.ReclaimedJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&generationModel{}).
			Where("status IN ? AND worker_id IS NOT NULL AND (worker_heartbeat_at IS NULL OR worker_heartbeat_at < ?)",
				runningStatuses, cutoff)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var stale []generationModel
		if err := q.Find(&stale).Error; err != nil {
			return err
		}
		for _, s := range stale {
			from := domain.Status(s.Status)
			to, ok := domain.QueuedStatusFor(from)
			if !ok {
				continue
			}
			res := tx.Model(&generationModel{}).
				Where("id = ? AND status = ? AND worker_id = ? AND (worker_heartbeat_at IS NULL OR worker_heartbeat_at < ?)",
					s.ID, s.Status, *s.WorkerID, cutoff).
				Updates(map[string]any{
					"status":              string(to),
					"worker_id":           nil,
					"worker_heartbeat_at": nil,
					"poll_after":          nil,
					"updated_at":          now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				reclaimed = append(reclaimed, domain.ReclaimedJob{ID: s.ID, FromStatus: from, ToStatus: to, WorkerID: *s.WorkerID})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reclaim stale: %w", err)
	}
	return reclaimed, nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

var _ domain.GenerationRepository = (*GenerationRepository)(nil)
