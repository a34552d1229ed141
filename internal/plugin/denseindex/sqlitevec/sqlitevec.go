// Package sqlitevec registers the "sqlitevec" dense-index backend: a
// zero-dependency ANN index backed by the sqlite-vec vec0 virtual table
// extension, grounded on the vec0 CREATE VIRTUAL TABLE pattern used for
// local semantic search in the retrieval pack, generalized to one vec0
// table per teleological space.
package sqlitevec

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/denseindex"
)

func init() {
	sqlite_vec.Auto()
	denseindex.Register(denseindex.Plugin{
		Name:   "sqlitevec",
		Loader: load,
	})
}

func load(ctx context.Context, cfg *config.Config) (denseindex.Index, error) {
	path := cfg.SQLiteVecPath
	if path == "" {
		path = "memory-service-vectors.db"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Index{db: db}, nil
}

// Index implements denseindex.Index with one vec0 virtual table per space.
type Index struct {
	db      *sql.DB
	mu      sync.Mutex
	ensured map[model.Space]bool
}

var _ denseindex.Index = (*Index)(nil)

func tableName(space model.Space) string {
	return fmt.Sprintf("vec_%s", space.String())
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
	stmt := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])",
		tableName(space), dim,
	)
	if _, err := i.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlitevec: creating table for %s: %w", space, err)
	}
	i.ensured[space] = true
	return nil
}

func (i *Index) Add(ctx context.Context, space model.Space, internalID uint64, vector []float32) error {
	if err := i.EnsureSpace(ctx, space); err != nil {
		return err
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return fmt.Errorf("sqlitevec: serializing vector: %w", err)
	}
	_, err = i.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", tableName(space)), int64(internalID))
	if err != nil {
		return fmt.Errorf("sqlitevec: clearing old row: %w", err)
	}
	_, err = i.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s(rowid, embedding) VALUES (?, ?)", tableName(space)),
		int64(internalID), blob)
	if err != nil {
		return fmt.Errorf("sqlitevec: inserting vector: %w", err)
	}
	return nil
}

func (i *Index) Remove(ctx context.Context, space model.Space, internalID uint64) error {
	_, err := i.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", tableName(space)), int64(internalID))
	if err != nil {
		return fmt.Errorf("sqlitevec: removing vector: %w", err)
	}
	return nil
}

func (i *Index) Search(ctx context.Context, space model.Space, query []float32, topK int) ([]denseindex.Match, error) {
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: serializing query: %w", err)
	}
	rows, err := i.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT rowid, distance FROM %s WHERE embedding MATCH ? AND k = ? ORDER BY distance",
		tableName(space)), blob, topK)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: searching %s: %w", space, err)
	}
	defer rows.Close()

	var matches []denseindex.Match
	for rows.Next() {
		var rowID int64
		var distance float64
		if err := rows.Scan(&rowID, &distance); err != nil {
			return nil, fmt.Errorf("sqlitevec: scanning result: %w", err)
		}
		// vec0 distance is L2 for float vectors; convert to a bounded
		// similarity score so fusion can treat every backend uniformly.
		matches = append(matches, denseindex.Match{
			InternalID: uint64(rowID),
			Score:      float32(1.0 / (1.0 + distance)),
		})
	}
	return matches, rows.Err()
}

func (i *Index) Close() error {
	return i.db.Close()
}
