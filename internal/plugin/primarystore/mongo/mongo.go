// Package mongo registers the "mongo" primary-store backend, grounded on
// internal/plugin/store/mongo/mongo.go's mongo.Connect/collection-accessor
// pattern, generalized from the conversations/entries schema to the
// arrays/metadata/tombstones schema.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chirino/memory-service/internal/codec"
	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/dataencryption"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/namespace"
	"github.com/chirino/memory-service/internal/registry/primarystore"
)

func init() {
	primarystore.Register(primarystore.Plugin{
		Name:   "mongo",
		Loader: load,
	})
}

func load(ctx context.Context, cfg *config.Config) (primarystore.Store, error) {
	opts := options.Client().ApplyURI(cfg.DBURL)
	if cfg.DBMaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
	}
	if cfg.DBMaxIdleConns > 0 {
		opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongo primary store: connecting: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo primary store: ping: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database("memory_service"),
		enc:    dataencryption.FromContext(ctx),
	}
	if cfg.DatastoreMigrateAtStart {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

type arrayDoc struct {
	ID           string    `bson:"_id"`
	Blob         []byte    `bson:"blob"`
	SourceDigest []byte    `bson:"source_digest,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
}

type metadataDoc struct {
	ID            string    `bson:"_id"`
	SessionID     string    `bson:"session_id"`
	Namespace     string    `bson:"namespace"`
	Tier          int       `bson:"tier"`
	AccessCount   int64     `bson:"access_count"`
	LastAccessed  time.Time `bson:"last_accessed"`
	SalienceScore float32   `bson:"salience_score"`
	Tags          []string  `bson:"tags,omitempty"`
}

type tombstoneDoc struct {
	ID        string    `bson:"_id"`
	DeletedAt time.Time `bson:"deleted_at"`
}

// Store is the mongo-backed primarystore.Store implementation.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	enc    *dataencryption.Service
}

var _ primarystore.Store = (*Store)(nil)

func (s *Store) arrays() *mongo.Collection     { return s.db.Collection("arrays") }
func (s *Store) metadata() *mongo.Collection   { return s.db.Collection("metadata") }
func (s *Store) tombstones() *mongo.Collection { return s.db.Collection("tombstones") }

func (s *Store) Migrate(ctx context.Context) error {
	s.db.CreateCollection(ctx, "arrays")
	s.db.CreateCollection(ctx, "metadata")
	s.db.CreateCollection(ctx, "tombstones")
	indexes := map[string][]mongo.IndexModel{
		"arrays": {
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		"metadata": {
			{Keys: bson.D{{Key: "session_id", Value: 1}}},
			{Keys: bson.D{{Key: "tier", Value: 1}}},
		},
	}
	for name, idx := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("mongo primary store: creating indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *Store) encode(a *model.TeleologicalArray) ([]byte, error) {
	blob, err := codec.Encode(a)
	if err != nil {
		return nil, err
	}
	if s.enc != nil {
		return s.enc.Encrypt(blob)
	}
	return blob, nil
}

func (s *Store) decode(blob []byte) (*model.TeleologicalArray, error) {
	if s.enc != nil {
		plain, err := s.enc.Decrypt(blob)
		if err != nil {
			return nil, fmt.Errorf("decrypting array blob: %w", err)
		}
		blob = plain
	}
	return codec.Decode(blob)
}

// encodeNamespace turns a caller-facing "/"-delimited namespace path into the
// RS-separated form namespace.HasPrefix can do segment-safe prefix matching
// against. Empty namespaces pass through unencoded.
func encodeNamespace(ns string) (string, error) {
	if ns == "" {
		return "", nil
	}
	return namespace.Encode(strings.Split(ns, "/"), 0)
}

// decodeNamespace is encodeNamespace's inverse, used when hydrating a
// document back into a model.MetadataRecord.
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

func (s *Store) Store(ctx context.Context, array *model.TeleologicalArray) error {
	return s.StoreBatch(ctx, []*model.TeleologicalArray{array})
}

// StoreBatch persists arrays in Mongo without multi-document transactions
// (those require a replica set); a partial failure leaves earlier documents
// in this call durable, mirroring a best-effort standalone deployment.
func (s *Store) StoreBatch(ctx context.Context, arrays []*model.TeleologicalArray) error {
	for _, a := range arrays {
		if err := a.Validate(nil); err != nil {
			return err
		}
	}
	for _, a := range arrays {
		idStr := a.ID.String()
		count, err := s.tombstones().CountDocuments(ctx, bson.M{"_id": idStr})
		if err != nil {
			return &model.StorageBackendError{Op: "store: tombstone check", Err: err}
		}
		if count > 0 {
			return &model.DuplicateIDError{ID: idStr}
		}
		existing, err := s.arrays().CountDocuments(ctx, bson.M{"_id": idStr})
		if err != nil {
			return &model.StorageBackendError{Op: "store: existing check", Err: err}
		}
		if existing > 0 {
			return &model.DuplicateIDError{ID: idStr}
		}

		blob, err := s.encode(a)
		if err != nil {
			return err
		}
		if _, err := s.arrays().InsertOne(ctx, arrayDoc{
			ID:           idStr,
			Blob:         blob,
			SourceDigest: a.SourceDigest,
			CreatedAt:    a.CreatedAt,
		}); err != nil {
			return &model.StorageBackendError{Op: "store: insert array", Err: err}
		}
		encodedNamespace, err := encodeNamespace(a.Metadata.Namespace)
		if err != nil {
			return &model.InvalidArrayError{Reason: fmt.Sprintf("namespace: %s", err)}
		}
		if _, err := s.metadata().InsertOne(ctx, metadataDoc{
			ID:            idStr,
			SessionID:     a.Metadata.SessionID,
			Namespace:     encodedNamespace,
			Tier:          int(a.Metadata.Tier),
			AccessCount:   a.Metadata.AccessCount,
			LastAccessed:  a.Metadata.LastAccessed,
			SalienceScore: a.Metadata.SalienceScore,
			Tags:          a.Metadata.Tags,
		}); err != nil {
			return &model.StorageBackendError{Op: "store: insert metadata", Err: err}
		}
	}
	return nil
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

	tombstoneCur, err := s.tombstones().Find(ctx, bson.M{"_id": bson.M{"$in": idStrs}})
	if err != nil {
		return nil, &model.StorageBackendError{Op: "retrieve_batch: tombstones", Err: err}
	}
	var tombstoneDocs []tombstoneDoc
	if err := tombstoneCur.All(ctx, &tombstoneDocs); err != nil {
		return nil, &model.StorageBackendError{Op: "retrieve_batch: tombstones decode", Err: err}
	}
	tombstoned := make(map[string]bool, len(tombstoneDocs))
	for _, t := range tombstoneDocs {
		tombstoned[t.ID] = true
	}

	arrayCur, err := s.arrays().Find(ctx, bson.M{"_id": bson.M{"$in": idStrs}})
	if err != nil {
		return nil, &model.StorageBackendError{Op: "retrieve_batch: arrays", Err: err}
	}
	var arrayDocs []arrayDoc
	if err := arrayCur.All(ctx, &arrayDocs); err != nil {
		return nil, &model.StorageBackendError{Op: "retrieve_batch: arrays decode", Err: err}
	}

	metaCur, err := s.metadata().Find(ctx, bson.M{"_id": bson.M{"$in": idStrs}})
	if err != nil {
		return nil, &model.StorageBackendError{Op: "retrieve_batch: metadata", Err: err}
	}
	var metaDocs []metadataDoc
	if err := metaCur.All(ctx, &metaDocs); err != nil {
		return nil, &model.StorageBackendError{Op: "retrieve_batch: metadata decode", Err: err}
	}
	metaByID := make(map[string]metadataDoc, len(metaDocs))
	for _, m := range metaDocs {
		metaByID[m.ID] = m
	}

	retrievedIDs := make([]string, 0, len(arrayDocs))
	for _, d := range arrayDocs {
		if tombstoned[d.ID] {
			continue
		}
		array, err := s.decode(d.Blob)
		if err != nil {
			return nil, err
		}
		array.ID = uuid.MustParse(d.ID)
		array.SourceDigest = d.SourceDigest
		array.CreatedAt = d.CreatedAt
		if m, ok := metaByID[d.ID]; ok {
			ns, err := decodeNamespace(m.Namespace)
			if err != nil {
				return nil, fmt.Errorf("decoding namespace for %s: %w", d.ID, err)
			}
			array.Metadata = model.MetadataRecord{
				SessionID:     m.SessionID,
				Namespace:     ns,
				Tier:          model.ServingTier(m.Tier),
				AccessCount:   m.AccessCount,
				LastAccessed:  m.LastAccessed,
				SalienceScore: m.SalienceScore,
				Tags:          m.Tags,
			}
		}
		out[array.ID] = array
		retrievedIDs = append(retrievedIDs, d.ID)
	}
	if len(retrievedIDs) > 0 {
		s.metadata().UpdateMany(ctx,
			bson.M{"_id": bson.M{"$in": retrievedIDs}},
			bson.M{"$inc": bson.M{"access_count": 1}, "$set": bson.M{"last_accessed": time.Now()}},
		)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	idStr := id.String()
	if _, err := s.tombstones().InsertOne(ctx, tombstoneDoc{ID: idStr, DeletedAt: time.Now()}); err != nil {
		return &model.StorageBackendError{Op: "delete: tombstone", Err: err}
	}
	if _, err := s.arrays().DeleteOne(ctx, bson.M{"_id": idStr}); err != nil {
		return &model.StorageBackendError{Op: "delete: array", Err: err}
	}
	if _, err := s.metadata().DeleteOne(ctx, bson.M{"_id": idStr}); err != nil {
		return &model.StorageBackendError{Op: "delete: metadata", Err: err}
	}
	return nil
}

func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]uuid.UUID, error) {
	return s.listByFilter(ctx, s.metadata(), bson.M{"session_id": sessionID}, limit, nil)
}

func (s *Store) ListByTier(ctx context.Context, tier model.ServingTier, limit int) ([]uuid.UUID, error) {
	return s.listByFilter(ctx, s.metadata(), bson.M{"tier": int(tier)}, limit, nil)
}

func (s *Store) ListBefore(ctx context.Context, ts time.Time, limit int) ([]uuid.UUID, error) {
	sort := bson.D{{Key: "created_at", Value: 1}}
	return s.listByFilter(ctx, s.arrays(), bson.M{"created_at": bson.M{"$lt": ts}}, limit, sort)
}

func (s *Store) ListRange(ctx context.Context, start, end time.Time, limit int) ([]uuid.UUID, error) {
	sort := bson.D{{Key: "created_at", Value: 1}}
	return s.listByFilter(ctx, s.arrays(), bson.M{"created_at": bson.M{"$gte": start, "$lt": end}}, limit, sort)
}

func (s *Store) listByFilter(ctx context.Context, coll *mongo.Collection, filter bson.M, limit int, sort bson.D) ([]uuid.UUID, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if sort != nil {
		opts.SetSort(sort)
	}
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, &model.StorageBackendError{Op: "list", Err: err}
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, &model.StorageBackendError{Op: "list decode", Err: err}
	}
	ids := make([]uuid.UUID, len(docs))
	for i, d := range docs {
		ids[i] = uuid.MustParse(d.ID)
	}
	return ids, nil
}

func (s *Store) MigrateTier(ctx context.Context, id uuid.UUID, tier model.ServingTier) error {
	_, err := s.metadata().UpdateByID(ctx, id.String(), bson.M{"$set": bson.M{"tier": int(tier)}})
	if err != nil {
		return &model.StorageBackendError{Op: "migrate_tier", Err: err}
	}
	return nil
}
