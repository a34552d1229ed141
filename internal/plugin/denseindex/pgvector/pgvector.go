// Package pgvector registers the "pgvector" dense-index backend, grounded on
// internal/plugin/vector/pgvector/pgvector.go's raw-SQL <=> distance query
// style, generalized from a single entry_embeddings table to one table per
// teleological space, each with its own dimension and holding only the
// internal ID and the embedding (no Causal direction column).
package pgvector

import (
	"context"
	"fmt"
	"sync"

	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/denseindex"
)

func init() {
	denseindex.Register(denseindex.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
}

func load(ctx context.Context, cfg *config.Config) (denseindex.Index, error) {
	dsn := cfg.PgvectorURL
	if dsn == "" {
		dsn = cfg.DBURL
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("pgvector: connecting: %w", err)
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("pgvector: enabling extension: %w", err)
	}
	return &Index{db: db}, nil
}

// Index implements denseindex.Index with one pgvector-backed table per space.
type Index struct {
	db      *gorm.DB
	mu      sync.Mutex
	ensured map[model.Space]bool
}

var _ denseindex.Index = (*Index)(nil)

func tableName(space model.Space) string {
	return fmt.Sprintf("dense_%s", space.String())
}

func (i *Index) EnsureSpace(ctx context.Context, space model.Space) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ensured == nil {
		i.ensured = make(map[model.Space]bool)
	}
	if i.ensured[space] {
		return nil
	}
	dim := model.Attributes[space].Dimension
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			internal_id BIGINT PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, tableName(space), dim)
	if err := i.db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("pgvector: creating table for %s: %w", space, err)
	}
	indexStmt := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s_ivfflat ON %s USING ivfflat (embedding vector_cosine_ops)",
		tableName(space), tableName(space))
	if err := i.db.WithContext(ctx).Exec(indexStmt).Error; err != nil {
		return fmt.Errorf("pgvector: creating ivfflat index for %s: %w", space, err)
	}
	i.ensured[space] = true
	return nil
}

func (i *Index) Add(ctx context.Context, space model.Space, internalID uint64, vector []float32) error {
	if err := i.EnsureSpace(ctx, space); err != nil {
		return err
	}
	vec := pgvec.NewVector(vector)
	stmt := fmt.Sprintf(`
		INSERT INTO %s (internal_id, embedding) VALUES (?, ?)
		ON CONFLICT (internal_id) DO UPDATE SET embedding = EXCLUDED.embedding`, tableName(space))
	if err := i.db.WithContext(ctx).Exec(stmt, internalID, vec).Error; err != nil {
		return fmt.Errorf("pgvector: upserting vector in %s: %w", space, err)
	}
	return nil
}

func (i *Index) Remove(ctx context.Context, space model.Space, internalID uint64) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE internal_id = ?", tableName(space))
	if err := i.db.WithContext(ctx).Exec(stmt, internalID).Error; err != nil {
		return fmt.Errorf("pgvector: deleting vector from %s: %w", space, err)
	}
	return nil
}

func (i *Index) Search(ctx context.Context, space model.Space, query []float32, topK int) ([]denseindex.Match, error) {
	vec := pgvec.NewVector(query)
	stmt := fmt.Sprintf(`
		SELECT internal_id, 1 - (embedding <=> ?) AS score
		FROM %s
		ORDER BY embedding <=> ?
		LIMIT ?`, tableName(space))
	rows, err := i.db.WithContext(ctx).Raw(stmt, vec, vec, topK).Rows()
	if err != nil {
		return nil, fmt.Errorf("pgvector: searching %s: %w", space, err)
	}
	defer rows.Close()

	var matches []denseindex.Match
	for rows.Next() {
		var m denseindex.Match
		var internalID int64
		if err := rows.Scan(&internalID, &m.Score); err != nil {
			return nil, fmt.Errorf("pgvector: scanning result: %w", err)
		}
		m.InternalID = uint64(internalID)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (i *Index) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
