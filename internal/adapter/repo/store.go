package repo

import (
	"context"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// Store wires the Postgres repositories to a SQLRunner and implements
// domain.Transactor over pgx transactions.
type Store struct {
	runner *infra.SQLRunner
}

func NewStore(runner *infra.SQLRunner) *Store {
	return &Store{runner: runner}
}

// Repositories returns repositories that run each statement on the pool.
func (s *Store) Repositories() domain.Repositories {
	return bind(s.runner)
}

// WithinTx runs fn against repositories bound to one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(domain.Repositories) error) error {
	return s.runner.InTx(ctx, func(exec infra.SQLExecutor) error {
		return fn(bind(exec))
	})
}

func bind(exec infra.SQLExecutor) domain.Repositories {
	return domain.Repositories{
		Generations: NewGenerationRepository(exec),
		Credits:     NewCreditLedger(exec),
	}
}

var _ domain.Transactor = (*Store)(nil)
