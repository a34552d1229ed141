// Package postgres registers the "postgres" primary-store backend, grounded
// on internal/plugin/store/postgres/postgres.go's connection setup, pool
// tuning, and periodic open-connections gauge goroutine.
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/dataencryption"
	"github.com/chirino/memory-service/internal/plugin/primarystore/gormstore"
	"github.com/chirino/memory-service/internal/registry/primarystore"
	"github.com/chirino/memory-service/internal/security"
)

func init() {
	primarystore.Register(primarystore.Plugin{
		Name:   "postgres",
		Loader: load,
	})
}

func load(ctx context.Context, cfg *config.Config) (primarystore.Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres primary store: connecting: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres primary store: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	if security.DBPoolMaxConnections != nil {
		security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if security.DBPoolOpenConnections != nil {
					security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()

	s := gormstore.New(db, dataencryption.FromContext(ctx))
	if cfg.DatastoreMigrateAtStart {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}
