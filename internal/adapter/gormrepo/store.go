// Package gormrepo backs the generation store with gorm, so the engine can run
// on SQLite for local development and tests or on Postgres without pgx.
package gormrepo

import (
	"context"

	"gorm.io/gorm"

	"genstudio/internal/domain"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Repositories() domain.Repositories {
	return bind(s.db)
}

// WithinTx runs fn inside db.Transaction. Repositories handed to fn must be
// the only path to the database until fn returns.
func (s *Store) WithinTx(ctx context.Context, fn func(domain.Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(bind(tx))
	})
}

func bind(db *gorm.DB) domain.Repositories {
	return domain.Repositories{
		Generations: NewGenerationRepository(db),
		Credits:     NewCreditLedger(db),
	}
}

var _ domain.Transactor = (*Store)(nil)
