// Package qdrant registers the "qdrant" dense-index backend, grounded on
// internal/plugin/vector/qdrant/qdrant.go's gRPC PointsClient/CollectionsClient
// usage, generalized from one shared collection to one collection per
// teleological space so each space keeps its own dimension and HNSW config.
package qdrant

import (
	"context"
	"fmt"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chirino/memory-service/internal/config"
	"github.com/chirino/memory-service/internal/model"
	"github.com/chirino/memory-service/internal/registry/denseindex"
)

func init() {
	denseindex.Register(denseindex.Plugin{
		Name:   "qdrant",
		Loader: load,
	})
}

func load(ctx context.Context, cfg *config.Config) (denseindex.Index, error) {
	conn, err := grpc.NewClient(cfg.QdrantAddress(), dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	return &Index{
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		conn:        conn,
		cfg:         cfg,
		ensured:     make(map[model.Space]bool),
	}, nil
}

// Index implements denseindex.Index with one Qdrant collection per space.
type Index struct {
	collections pb.CollectionsClient
	points      pb.PointsClient
	conn        *grpc.ClientConn
	cfg         *config.Config

	ensured map[model.Space]bool
}

var _ denseindex.Index = (*Index)(nil)

func (i *Index) collectionName(space model.Space) string {
	return i.cfg.QdrantCollectionName(space.String())
}

func (i *Index) EnsureSpace(ctx context.Context, space model.Space) error {
	if i.ensured[space] {
		return nil
	}
	name := i.collectionName(space)
	if _, err := i.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err == nil {
		i.ensured[space] = true
		return nil
	}
	dim := model.Attributes[space].Dimension
	_, err := i.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 newUint64(16),
			EfConstruct:       newUint64(64),
			FullScanThreshold: newUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: creating collection %s: %w", name, err)
	}
	i.ensured[space] = true
	return nil
}

func (i *Index) Add(ctx context.Context, space model.Space, internalID uint64, vector []float32) error {
	if err := i.EnsureSpace(ctx, space); err != nil {
		return err
	}
	point := &pb.PointStruct{
		Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: internalID}},
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{Data: vector},
			},
		},
	}
	_, err := i.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: i.collectionName(space),
		Points:         []*pb.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upserting into %s: %w", i.collectionName(space), err)
	}
	return nil
}

func (i *Index) Remove(ctx context.Context, space model.Space, internalID uint64) error {
	_, err := i.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: i.collectionName(space),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Num{Num: internalID}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: deleting from %s: %w", i.collectionName(space), err)
	}
	return nil
}

func (i *Index) Search(ctx context.Context, space model.Space, query []float32, topK int) ([]denseindex.Match, error) {
	resp, err := i.points.Search(ctx, &pb.SearchPoints{
		CollectionName: i.collectionName(space),
		Vector:         query,
		Limit:          uint64(topK),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: searching %s: %w", i.collectionName(space), err)
	}
	matches := make([]denseindex.Match, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		id := pt.GetId()
		if id == nil {
			continue
		}
		matches = append(matches, denseindex.Match{
			InternalID: id.GetNum(),
			Score:      pt.GetScore(),
		})
	}
	return matches, nil
}

func (i *Index) Close() error {
	return i.conn.Close()
}

func newUint64(v uint64) *uint64 {
	return &v
}

func dialOptions(cfg *config.Config) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.QdrantUseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.QdrantAPIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.QdrantAPIKey,
			requireTLS: cfg.QdrantUseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}
