package repo

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"genstudio/internal/domain"
)

type call struct {
	query string
	args  []any
}

// stubSQL replays canned results in call order.
type stubSQL struct {
	rows  []pgx.Row
	sets  [][][]any
	tags  []pgconn.CommandTag
	calls []call
}

func (s *stubSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	if len(s.tags) == 0 {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	tag := s.tags[0]
	s.tags = s.tags[1:]
	return tag, nil
}

func (s *stubSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	s.calls = append(s.calls, call{query: query, args: args})
	if len(s.rows) == 0 {
		return valuesRow{err: pgx.ErrNoRows}
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row
}

func (s *stubSQL) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	s.calls = append(s.calls, call{query: query, args: args})
	if len(s.sets) == 0 {
		return &valuesRows{}, nil
	}
	set := s.sets[0]
	s.sets = s.sets[1:]
	return &valuesRows{data: set}, nil
}

type valuesRow struct {
	values []any
	err    error
}

func (r valuesRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type valuesRows struct {
	data [][]any
	idx  int
}

func (r *valuesRows) Close()                                       {}
func (r *valuesRows) Err() error                                   { return nil }
func (r *valuesRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *valuesRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *valuesRows) RawValues() [][]byte                          { return nil }
func (r *valuesRows) Conn() *pgx.Conn                              { return nil }

func (r *valuesRows) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (r *valuesRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *valuesRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.data) {
		return pgx.ErrNoRows
	}
	return assign(dest, r.data[r.idx-1])
}

func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan column %d: cannot assign %T to %s", i, values[i], target.Type())
		}
		target.Set(v)
	}
	return nil
}

func generationValues(g domain.Generation) []any {
	return []any{
		g.ID,
		g.WorkspaceID,
		string(g.Type),
		string(g.Tier),
		g.Prompt,
		string(g.Status),
		g.PreviewCostCredits,
		g.FinalCostCredits,
		g.WorkerID,
		g.WorkerHeartbeatAt,
		g.ExternalJobID,
		g.PreviewExternalJobID,
		g.Progress,
		g.Attempts,
		g.PollAfter,
		g.ErrorMessage,
		g.PreviewURL,
		g.OutputURL,
		g.CreatedAt,
		g.UpdatedAt,
		g.SubmittedAt,
		g.PreviewCompletedAt,
		g.FinalRequestedAt,
		g.CompletedAt,
	}
}

func sampleGeneration(status domain.Status) domain.Generation {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.Generation{
		ID:                 "gen-1",
		WorkspaceID:        "ws-1",
		Type:               domain.TypeVideo,
		Tier:               domain.TierStandard,
		Prompt:             "a lighthouse at dusk",
		Status:             status,
		PreviewCostCredits: 60,
		FinalCostCredits:   120,
		CreatedAt:          created,
		UpdatedAt:          created,
	}
}

func ptr[T any](v T) *T { return &v }
