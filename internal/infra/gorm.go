package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewGormDB opens the gorm-backed store selected by cfg.StoreBackend.
// SQLite is limited to a single open connection so that conditional updates
// and transactions are serialized the same way a row lock would serialize them.
func NewGormDB(cfg *Config) (*gorm.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	gormCfg := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.StoreBackend {
	case StoreBackendSQLite:
		db, err = gorm.Open(sqlite.Open(SQLiteDSN(cfg.SQLitePath)), gormCfg)
	case StoreBackendGorm:
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	default:
		return nil, fmt.Errorf("store backend %q is not served by gorm", cfg.StoreBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("open gorm %s: %w", cfg.StoreBackend, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql handle: %w", err)
	}
	if cfg.StoreBackend == StoreBackendSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}

// SQLiteDSN adds the pragmas the store relies on to a SQLite path.
func SQLiteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
}
