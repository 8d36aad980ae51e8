package repo

import (
	"time"

	"github.com/jackc/pgx/v5"

	"genstudio/internal/domain"
)

// scanGeneration reads the column order shared by every generations query.
func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var (
		g                      domain.Generation
		genType, tier, status  string
		workerID, externalID   *string
		previewExternalID      *string
		heartbeatAt, pollAfter *time.Time
	)
	if err := row.Scan(
		&g.ID,
		&g.WorkspaceID,
		&genType,
		&tier,
		&g.Prompt,
		&status,
		&g.PreviewCostCredits,
		&g.FinalCostCredits,
		&workerID,
		&heartbeatAt,
		&externalID,
		&previewExternalID,
		&g.Progress,
		&g.Attempts,
		&pollAfter,
		&g.ErrorMessage,
		&g.PreviewURL,
		&g.OutputURL,
		&g.CreatedAt,
		&g.UpdatedAt,
		&g.SubmittedAt,
		&g.PreviewCompletedAt,
		&g.FinalRequestedAt,
		&g.CompletedAt,
	); err != nil {
		return nil, err
	}
	g.Type = domain.GenerationType(genType)
	g.Tier = domain.Tier(tier)
	g.Status = domain.Status(status)
	g.WorkerID = workerID
	g.WorkerHeartbeatAt = heartbeatAt
	g.ExternalJobID = externalID
	g.PreviewExternalJobID = previewExternalID
	g.PollAfter = pollAfter
	return &g, nil
}

func collectGenerations(rows pgx.Rows) ([]domain.Generation, error) {
	defer rows.Close()
	var out []domain.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func statusStrings(in []domain.Status) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func typeStrings(in []domain.GenerationType) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		out = append(out, string(t))
	}
	return out
}
