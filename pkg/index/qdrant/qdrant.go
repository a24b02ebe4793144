// Package qdrant implements index.Index on top of the Qdrant gRPC API.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/Keiii25/lean-formal-agent/pkg/index"
)

const (
	scrollPageSize = 256
	userAgent      = "agentreg"
)

// Config locates a Qdrant instance.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	// MaxRecvMsgSize caps a single gRPC response in bytes; zero keeps the
	// gRPC default.
	MaxRecvMsgSize int
}

func (cfg Config) dialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{grpc.WithUserAgent(userAgent)}
	if cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.MaxRecvMsgSize)))
	}
	return opts
}

// Store is a Qdrant-backed vector index.
type Store struct {
	client *pb.Client
}

// New connects to Qdrant over gRPC.
func New(cfg Config) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := pb.NewClient(&pb.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		APIKey:      cfg.APIKey,
		UseTLS:      cfg.UseTLS,
		GrpcOptions: cfg.dialOptions(),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: did not connect: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// CollectionExists implements index.Index.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	ok, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("qdrant: collection exists: %w", err)
	}
	return ok, nil
}

// CreateCollection implements index.Index.
func (s *Store) CreateCollection(ctx context.Context, name string, cfg index.CollectionConfig) error {
	err := s.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     cfg.VectorSize,
			Distance: toDistance(cfg.Distance),
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	return nil
}

// Upsert implements index.Index.
func (s *Store) Upsert(ctx context.Context, collection string, points []index.Point) error {
	qPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		payload, err := toPayload(p.Payload)
		if err != nil {
			return fmt.Errorf("qdrant: payload for %s: %w", p.ID, err)
		}
		qPoints[i] = &pb.PointStruct{
			Id:      pb.NewID(p.ID),
			Vectors: pb.NewVectors(p.Vector...),
			Payload: payload,
		}
	}

	wait := true
	_, err := s.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         qPoints,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert points: %w", err)
	}
	return nil
}

// Search implements index.Index.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int) ([]index.Hit, error) {
	l := uint64(limit)
	resp, err := s.client.Query(ctx, &pb.QueryPoints{
		CollectionName: collection,
		Query:          pb.NewQuery(vector...),
		Limit:          &l,
		WithPayload:    pb.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search points: %w", err)
	}

	hits := make([]index.Hit, len(resp))
	for i, r := range resp {
		hits[i] = index.Hit{
			ID:      pointID(r.GetId()),
			Score:   r.GetScore(),
			Payload: fromPayload(r.GetPayload()),
		}
	}
	return hits, nil
}

// Retrieve implements index.Index.
func (s *Store) Retrieve(ctx context.Context, collection string, ids []string) ([]index.Record, error) {
	pids := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pb.NewID(id)
	}
	resp, err := s.client.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            pids,
		WithPayload:    pb.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: retrieve points: %w", err)
	}
	out := make([]index.Record, len(resp))
	for i, r := range resp {
		out[i] = index.Record{ID: pointID(r.GetId()), Payload: fromPayload(r.GetPayload())}
	}
	return out, nil
}

// Scroll implements index.Index, following page offsets until exhausted.
func (s *Store) Scroll(ctx context.Context, collection string) ([]index.Record, error) {
	var (
		out    []index.Record
		offset *pb.PointId
		limit  = uint32(scrollPageSize)
	)
	for {
		resp, err := s.client.GetPointsClient().Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    pb.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant: scroll points: %w", err)
		}
		for _, r := range resp.GetResult() {
			out = append(out, index.Record{ID: pointID(r.GetId()), Payload: fromPayload(r.GetPayload())})
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return out, nil
		}
	}
}

func toDistance(d index.Distance) pb.Distance {
	switch d {
	case index.DistanceDot:
		return pb.Distance_Dot
	case index.DistanceEuclid:
		return pb.Distance_Euclid
	default:
		return pb.Distance_Cosine
	}
}

func pointID(id *pb.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}
