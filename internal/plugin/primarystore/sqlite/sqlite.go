// Package sqlite registers the "sqlite" primary-store backend: the
// zero-dependency development default, grounded on the teacher's
// gorm.Open(...) connection pattern in
// internal/plugin/store/postgres/postgres.go, generalized to sqlite.
package sqlite

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/dataencryption"
	"github.com/chirino/memory-service/internal/plugin/primarystore/gormstore"
	"github.com/chirino/memory-service/internal/registry/primarystore"
)

func init() {
	primarystore.Register(primarystore.Plugin{
		Name:   "sqlite",
		Loader: load,
	})
}

func load(ctx context.Context, cfg *config.Config) (primarystore.Store, error) {
	dsn := cfg.DBURL
	if dsn == "" {
		dsn = "memory-service.db"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("sqlite primary store: opening %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite primary store: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // sqlite has a single writer; serialize at the pool
	sqlDB.SetMaxIdleConns(1)

	s := gormstore.New(db, dataencryption.FromContext(ctx))
	if cfg.DatastoreMigrateAtStart {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}
