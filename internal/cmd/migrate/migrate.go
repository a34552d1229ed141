// Package migrate implements the "migrate" sub-command: bootstrap the
// primary store's schema and every dense/HDC space's ANN collection without
// starting the HTTP server.
package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/denseindex"
	"github.com/chirino/memory-service/internal/registry/primarystore"

	// Import plugins to trigger init() registration of their backends.
	_ "github.com/chirino/memory-service/internal/plugin/denseindex/pgvector"
	_ "github.com/chirino/memory-service/internal/plugin/denseindex/qdrant"
	_ "github.com/chirino/memory-service/internal/plugin/denseindex/sqlitevec"
	_ "github.com/chirino/memory-service/internal/plugin/primarystore/mongo"
	_ "github.com/chirino/memory-service/internal/plugin/primarystore/postgres"
	_ "github.com/chirino/memory-service/internal/plugin/primarystore/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Bootstrap the primary store schema and dense-index collections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-kind",
				Sources:     cli.EnvVars("MEMORY_SERVICE_DB_KIND"),
				Destination: &cfg.PrimaryStoreType,
				Value:       cfg.PrimaryStoreType,
				Usage:       "Primary store backend (sqlite|postgres|mongo)",
			},
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("MEMORY_SERVICE_DB_URL"),
				Destination: &cfg.DBURL,
				Usage:       "Primary store connection URL",
			},
			&cli.StringFlag{
				Name:        "dense-index-kind",
				Sources:     cli.EnvVars("MEMORY_SERVICE_DENSE_INDEX_KIND"),
				Destination: &cfg.DenseIndexType,
				Value:       cfg.DenseIndexType,
				Usage:       "Dense index backend (sqlitevec|pgvector|qdrant)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running primary store migration", "backend", cfg.PrimaryStoreType)
			storeLoader, err := primarystore.Select(cfg.PrimaryStoreType)
			if err != nil {
				return err
			}
			store, err := storeLoader(ctx, &cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			log.Info("Bootstrapping dense index collections", "backend", cfg.DenseIndexType)
			indexLoader, err := denseindex.Select(cfg.DenseIndexType)
			if err != nil {
				return err
			}
			index, err := indexLoader(ctx, &cfg)
			if err != nil {
				return err
			}
			defer index.Close()
			for i := 0; i < model.NumSpaces; i++ {
				space := model.Space(i)
				if model.Attributes[space].Kind == model.KindSparseLexical || model.Attributes[space].Kind == model.KindTokenBag {
					continue // served by the in-process sparse/late-interaction indices, not the dense backend
				}
				if err := index.EnsureSpace(ctx, space); err != nil {
					return err
				}
			}

			log.Info("Migration completed successfully")
			return nil
		},
	}
}
