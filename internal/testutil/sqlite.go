// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"genstudio/internal/adapter/gormrepo"
	"genstudio/internal/infra"
)

// OpenSQLite returns a migrated, private in-memory database.
func OpenSQLite(t testing.TB) *gorm.DB {
	t.Helper()
	cfg := &infra.Config{
		StoreBackend: infra.StoreBackendSQLite,
		SQLitePath:   "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	}
	db, err := infra.NewGormDB(cfg)
	require.NoError(t, err)
	require.NoError(t, gormrepo.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// NewStore opens a fresh SQLite database and wraps it in a gormrepo.Store.
func NewStore(t testing.TB) *gormrepo.Store {
	t.Helper()
	return gormrepo.NewStore(OpenSQLite(t))
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
