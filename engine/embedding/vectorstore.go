package embedding

import (
	"context"
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorRecord mirrors one Published row's embedding into Qdrant, keyed
// by a caller-supplied UUID point ID and carrying the row's source
// channel and publish time as payload.
type VectorRecord struct {
	ID              string
	Embedding       []float32
	SourceChannelID int64
	PublishedAt     time.Time
}

// pointsAPI and collectionsAPI narrow the generated Qdrant gRPC clients
// to the calls VectorStore actually makes, so tests can substitute a
// three-method mock instead of implementing the full generated surface.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of this process's Qdrant connection,
// mirroring published digest embeddings for accelerated search. It is an
// acceleration path only: the dedup engine's matrix math in
// similarity.go remains the source of truth, so every VectorStore method
// is expected to be called from a best-effort path that logs and
// continues on error rather than aborting the run.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// NewVectorStore creates a VectorStore connected to Qdrant at addr.
func NewVectorStore(addr, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("embedding: dial qdrant %s: %w", addr, err)
	}
	return NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, conn), nil
}

// NewWithClients builds a VectorStore from already-constructed gRPC
// clients, so tests can substitute mocks without dialing a real server.
// conn may be nil; Close becomes a no-op in that case.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, conn *grpc.ClientConn) *VectorStore {
	return &VectorStore{conn: conn, points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection, if any.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't already exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("embedding: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("embedding: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert mirrors records into Qdrant. Called by the publication stage
// after SavePublished has durably recorded the sqlite row.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}},
			},
			Payload: map[string]*pb.Value{
				"source_channel_id": {Kind: &pb.Value_IntegerValue{IntegerValue: r.SourceChannelID}},
				"published_at":      {Kind: &pb.Value_StringValue{StringValue: r.PublishedAt.UTC().Format(time.RFC3339)}},
			},
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("embedding: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search performs k-NN cosine similarity search, used as an acceleration
// hint for candidate duplicates before the exact matrix comparison.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]string, error) {
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: search: %w", err)
	}
	ids := make([]string, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		ids[i] = r.GetId().GetUuid()
	}
	return ids, nil
}
