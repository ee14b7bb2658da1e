package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// QdrantStore implements Store over Qdrant's collections service. A table
// maps to a collection; Qdrant maintains the similarity index itself, so
// EnsureIndex never has work to do.
type QdrantStore struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	logger      *zap.Logger
}

// OpenQdrant dials the Qdrant gRPC endpoint and returns a ready store.
func OpenQdrant(cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		logger:      logger,
	}, nil
}

// Describe reports whether the collection exists, its stored vector size,
// and the distance metric it was created with.
func (s *QdrantStore) Describe(ctx context.Context, name string) (TableInfo, error) {
	resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return TableInfo{}, nil
		}
		return TableInfo{}, fmt.Errorf("get collection %s: %w", name, err)
	}

	params := resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return TableInfo{}, fmt.Errorf("collection %s has no single-vector config", name)
	}
	return TableInfo{
		Exists:    true,
		Dimension: int(params.GetSize()),
		Distance:  fromQdrantDistance(params.GetDistance()),
	}, nil
}

// CreateTable creates the collection sized to the reconciled dimension with
// the mapped distance metric.
func (s *QdrantStore) CreateTable(ctx context.Context, spec TableSpec) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.Dimension),
					Distance: qdrantDistance(spec.Distance),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", spec.Name, err)
	}
	return nil
}

// EnsureIndex is a no-op: Qdrant builds and maintains the HNSW index as part
// of the collection.
func (s *QdrantStore) EnsureIndex(ctx context.Context, spec TableSpec) error {
	s.logger.Debug("qdrant manages its own index", zap.String("collection", spec.Name))
	return nil
}

// Upsert inserts or updates points keyed on document id.
func (s *QdrantStore) Upsert(ctx context.Context, spec TableSpec, docs []Document) error {
	points := make([]*pb.PointStruct, 0, len(docs))
	for _, d := range docs {
		payload := map[string]*pb.Value{
			"content": {Kind: &pb.Value_StringValue{StringValue: d.Content}},
		}
		for k, v := range d.Metadata {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		points = append(points, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: d.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: d.Embedding}}},
			Payload: payload,
		})
	}
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: spec.Name,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", spec.Name, err)
	}
	return nil
}

// Search performs a nearest-neighbor search and returns the top hits with
// their payloads unpacked.
func (s *QdrantStore) Search(ctx context.Context, spec TableSpec, vector []float32, limit int) ([]ScoredDocument, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: spec.Name,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", spec.Name, err)
	}

	results := make([]ScoredDocument, 0, len(resp.Result))
	for _, r := range resp.Result {
		d := ScoredDocument{Score: r.Score}
		d.ID = r.Id.GetUuid()
		for k, v := range r.Payload {
			sv, ok := v.Kind.(*pb.Value_StringValue)
			if !ok {
				continue
			}
			if k == "content" {
				d.Content = sv.StringValue
				continue
			}
			if d.Metadata == nil {
				d.Metadata = make(map[string]string)
			}
			d.Metadata[k] = sv.StringValue
		}
		results = append(results, d)
	}
	return results, nil
}

func qdrantDistance(d DistanceStrategy) pb.Distance {
	switch d {
	case DistanceEuclidean:
		return pb.Distance_Euclid
	case DistanceDotProduct:
		return pb.Distance_Dot
	default:
		return pb.Distance_Cosine
	}
}

func fromQdrantDistance(d pb.Distance) DistanceStrategy {
	switch d {
	case pb.Distance_Euclid:
		return DistanceEuclidean
	case pb.Distance_Dot:
		return DistanceDotProduct
	case pb.Distance_Cosine:
		return DistanceCosine
	default:
		return 0
	}
}

// Close tears down the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}
