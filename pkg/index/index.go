// Package index defines the vector index the registry stores tools and
// workflows in, plus an in-process implementation.
package index

import (
	"context"
	"fmt"
)

// Distance is the similarity metric of a collection.
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceDot    Distance = "dot"
	DistanceEuclid Distance = "euclid"
)

// ParseDistance maps a configuration string to a Distance.
func ParseDistance(s string) (Distance, error) {
	switch Distance(s) {
	case "", DistanceCosine:
		return DistanceCosine, nil
	case DistanceDot, DistanceEuclid:
		return Distance(s), nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// CollectionConfig fixes the vector shape of a collection.
type CollectionConfig struct {
	VectorSize uint64
	Distance   Distance
}

// Point is a record written to a collection.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Hit is a search result; higher scores are more similar.
type Hit struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Record is a stored payload without its vector.
type Record struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload"`
}

// Index is a similarity-search store keyed by point id.
type Index interface {
	// CollectionExists reports whether the named collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)
	// CreateCollection creates a collection with the given vector shape.
	CreateCollection(ctx context.Context, name string, cfg CollectionConfig) error
	// Upsert adds or replaces points.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns up to limit hits in descending score order.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error)
	// Retrieve returns the records for the ids that exist; missing ids are skipped.
	Retrieve(ctx context.Context, collection string, ids []string) ([]Record, error)
	// Scroll returns every record of the collection.
	Scroll(ctx context.Context, collection string) ([]Record, error)
}

// EnsureCollection creates the collection when it does not exist yet.
func EnsureCollection(ctx context.Context, idx Index, name string, cfg CollectionConfig) error {
	exists, err := idx.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", name, err)
	}
	if exists {
		return nil
	}
	if err := idx.CreateCollection(ctx, name, cfg); err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	return nil
}
