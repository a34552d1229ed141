// Package gormstore implements the primarystore.Store SPI on top of GORM,
// shared by the sqlite and postgres backends. Schema and transaction shape
// are grounded on internal/plugin/store/postgres/postgres.go's
// db.Transaction(func(tx *gorm.DB) error {...}) pattern, generalized from the
// conversations/entries family to the arrays/metadata/tombstones family.
package gormstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chirino/memory-service/internal/codec"
	"github.com/chirino/memory-service/internal/dataencryption"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/namespace"
	"github.com/chirino/memory-service/internal/registry/primarystore"
)

type arrayRow struct {
	ID           string `gorm:"primaryKey"`
	Blob         []byte
	SourceDigest []byte
	CreatedAt    time.Time `gorm:"index"`
}

func (arrayRow) TableName() string { return "arrays" }

type metadataRow struct {
	ID            string `gorm:"primaryKey"`
	SessionID     string `gorm:"index"`
	Namespace     string `gorm:"index"`
	Tier          int    `gorm:"index"`
	AccessCount   int64
	LastAccessed  time.Time
	SalienceScore float32
	Tags          string
}

func (metadataRow) TableName() string { return "metadata" }

type tombstoneRow struct {
	ID        string `gorm:"primaryKey"`
	DeletedAt time.Time
}

func (tombstoneRow) TableName() string { return "tombstones" }

// Store is a GORM-backed primarystore.Store.
type Store struct {
	DB  *gorm.DB
	Enc *dataencryption.Service
}

var _ primarystore.Store = (*Store)(nil)

// New wraps an already-opened *gorm.DB. enc may be nil to store plaintext blobs.
func New(db *gorm.DB, enc *dataencryption.Service) *Store {
	return &Store{DB: db, Enc: enc}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(&arrayRow{}, &metadataRow{}, &tombstoneRow{})
}

func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) encode(a *model.TeleologicalArray) ([]byte, error) {
	blob, err := codec.Encode(a)
	if err != nil {
		return nil, err
	}
	if s.Enc != nil {
		return s.Enc.Encrypt(blob)
	}
	return blob, nil
}

func (s *Store) decode(blob []byte) (*model.TeleologicalArray, error) {
	if s.Enc != nil {
		plain, err := s.Enc.Decrypt(blob)
		if err != nil {
			return nil, fmt.Errorf("decrypting array blob: %w", err)
		}
		blob = plain
	}
	return codec.Decode(blob)
}

func (s *Store) Store(ctx context.Context, array *model.TeleologicalArray) error {
	return s.StoreBatch(ctx, []*model.TeleologicalArray{array})
}

func (s *Store) StoreBatch(ctx context.Context, arrays []*model.TeleologicalArray) error {
	for _, a := range arrays {
		if err := a.Validate(nil); err != nil {
			return err
		}
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, a := range arrays {
			var existingTombstone tombstoneRow
			if err := tx.First(&existingTombstone, "id = ?", a.ID.String()).Error; err == nil {
				return &model.DuplicateIDError{ID: a.ID.String()}
			} else if err != gorm.ErrRecordNotFound {
				return &model.StorageBackendError{Op: "store: tombstone check", Err: err}
			}
			var existing arrayRow
			if err := tx.First(&existing, "id = ?", a.ID.String()).Error; err == nil {
				return &model.DuplicateIDError{ID: a.ID.String()}
			} else if err != gorm.ErrRecordNotFound {
				return &model.StorageBackendError{Op: "store: existing check", Err: err}
			}

			blob, err := s.encode(a)
			if err != nil {
				return err
			}
			if err := tx.Create(&arrayRow{
				ID:           a.ID.String(),
				Blob:         blob,
				SourceDigest: a.SourceDigest,
				CreatedAt:    a.CreatedAt,
			}).Error; err != nil {
				return &model.StorageBackendError{Op: "store: insert array", Err: err}
			}
			encodedNamespace, err := encodeNamespace(a.Metadata.Namespace)
			if err != nil {
				return &model.InvalidArrayError{Reason: fmt.Sprintf("namespace: %s", err)}
			}
			if err := tx.Create(&metadataRow{
				ID:            a.ID.String(),
				SessionID:     a.Metadata.SessionID,
				Namespace:     encodedNamespace,
				Tier:          int(a.Metadata.Tier),
				AccessCount:   a.Metadata.AccessCount,
				LastAccessed:  a.Metadata.LastAccessed,
				SalienceScore: a.Metadata.SalienceScore,
				Tags:          strings.Join(a.Metadata.Tags, ","),
			}).Error; err != nil {
				return &model.StorageBackendError{Op: "store: insert metadata", Err: err}
			}
		}
		return nil
	})
}

func (s *Store) Retrieve(ctx context.Context, id uuid.UUID) (*model.TeleologicalArray, error) {
	results, err := s.RetrieveBatch(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	return results[id], nil
}

func (s *Store) RetrieveBatch(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.TeleologicalArray, error) {
	out := make(map[uuid.UUID]*model.TeleologicalArray, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	idStrs := make([]string, len(ids))
	for i, id := range ids {
		idStrs[i] = id.String()
	}

	var tombstones []tombstoneRow
	if err := s.DB.WithContext(ctx).Where("id IN ?", idStrs).Find(&tombstones).Error; err != nil {
		return nil, &model.StorageBackendError{Op: "retrieve_batch: tombstones", Err: err}
	}
	tombstoned := make(map[string]bool, len(tombstones))
	for _, t := range tombstones {
		tombstoned[t.ID] = true
	}

	var rows []arrayRow
	if err := s.DB.WithContext(ctx).Where("id IN ?", idStrs).Find(&rows).Error; err != nil {
		return nil, &model.StorageBackendError{Op: "retrieve_batch: arrays", Err: err}
	}
	var metaRows []metadataRow
	if err := s.DB.WithContext(ctx).Where("id IN ?", idStrs).Find(&metaRows).Error; err != nil {
		return nil, &model.StorageBackendError{Op: "retrieve_batch: metadata", Err: err}
	}
	metaByID := make(map[string]metadataRow, len(metaRows))
	for _, m := range metaRows {
		metaByID[m.ID] = m
	}

	for _, row := range rows {
		if tombstoned[row.ID] {
			continue
		}
		array, err := s.decode(row.Blob)
		if err != nil {
			return nil, err
		}
		array.ID = uuid.MustParse(row.ID)
		array.SourceDigest = row.SourceDigest
		array.CreatedAt = row.CreatedAt
		if m, ok := metaByID[row.ID]; ok {
			ns, err := decodeNamespace(m.Namespace)
			if err != nil {
				return nil, fmt.Errorf("decoding namespace for %s: %w", row.ID, err)
			}
			array.Metadata = model.MetadataRecord{
				SessionID:     m.SessionID,
				Namespace:     ns,
				Tier:          model.ServingTier(m.Tier),
				AccessCount:   m.AccessCount,
				LastAccessed:  m.LastAccessed,
				SalienceScore: m.SalienceScore,
				Tags:          splitTags(m.Tags),
			}
		}
		out[array.ID] = array
	}
	if len(rows) > 0 {
		s.recordAccess(ctx, rows)
	}
	return out, nil
}

// recordAccess bumps access_count/last_accessed for every retrieved row in a
// single batched update.
func (s *Store) recordAccess(ctx context.Context, rows []arrayRow) {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	s.DB.WithContext(ctx).Model(&metadataRow{}).Where("id IN ?", ids).
		UpdateColumns(map[string]any{
			"access_count":  gorm.Expr("access_count + 1"),
			"last_accessed": time.Now(),
		})
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&tombstoneRow{ID: id.String(), DeletedAt: time.Now()}).Error; err != nil {
			return &model.StorageBackendError{Op: "delete: tombstone", Err: err}
		}
		if err := tx.Delete(&arrayRow{}, "id = ?", id.String()).Error; err != nil {
			return &model.StorageBackendError{Op: "delete: array", Err: err}
		}
		if err := tx.Delete(&metadataRow{}, "id = ?", id.String()).Error; err != nil {
			return &model.StorageBackendError{Op: "delete: metadata", Err: err}
		}
		return nil
	})
}

func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]uuid.UUID, error) {
	return s.listByColumn(ctx, "session_id = ?", sessionID, limit)
}

func (s *Store) ListByTier(ctx context.Context, tier model.ServingTier, limit int) ([]uuid.UUID, error) {
	return s.listByColumn(ctx, "tier = ?", int(tier), limit)
}

func (s *Store) listByColumn(ctx context.Context, where string, arg any, limit int) ([]uuid.UUID, error) {
	var rows []metadataRow
	q := s.DB.WithContext(ctx).Where(where, arg)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, &model.StorageBackendError{Op: "list", Err: err}
	}
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = uuid.MustParse(r.ID)
	}
	return ids, nil
}

func (s *Store) ListBefore(ctx context.Context, ts time.Time, limit int) ([]uuid.UUID, error) {
	return s.listByTimeRange(ctx, "created_at < ?", []any{ts}, limit)
}

func (s *Store) ListRange(ctx context.Context, start, end time.Time, limit int) ([]uuid.UUID, error) {
	return s.listByTimeRange(ctx, "created_at >= ? AND created_at < ?", []any{start, end}, limit)
}

func (s *Store) listByTimeRange(ctx context.Context, where string, args []any, limit int) ([]uuid.UUID, error) {
	var rows []arrayRow
	q := s.DB.WithContext(ctx).Where(where, args...).Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, &model.StorageBackendError{Op: "list_range", Err: err}
	}
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = uuid.MustParse(r.ID)
	}
	return ids, nil
}

func (s *Store) MigrateTier(ctx context.Context, id uuid.UUID, tier model.ServingTier) error {
	res := s.DB.WithContext(ctx).Model(&metadataRow{}).Where("id = ?", id.String()).
		Clauses(clause.Returning{}).
		Update("tier", int(tier))
	if res.Error != nil {
		return &model.StorageBackendError{Op: "migrate_tier", Err: res.Error}
	}
	return nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// encodeNamespace turns a caller-facing "/"-delimited namespace path into the
// RS-separated form namespace.HasPrefix can do segment-safe prefix matching
// against, so a namespace secondary index column never lets "users/alice"
// match "users/aliced". Empty namespaces pass through unencoded.
func encodeNamespace(ns string) (string, error) {
	if ns == "" {
		return "", nil
	}
	return namespace.Encode(strings.Split(ns, "/"), 0)
}

// decodeNamespace is encodeNamespace's inverse, used when hydrating a row
// back into a model.MetadataRecord.
func decodeNamespace(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	segments, err := namespace.Decode(encoded)
	if err != nil {
		return "", err
	}
	return strings.Join(segments, "/"), nil
}
