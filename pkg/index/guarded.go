package index

import (
	"context"

	"github.com/Keiii25/lean-formal-agent/pkg/resilience"
)

// Guarded routes every call of an Index through an upstream guard, so
// transient failures are retried and exhaustion surfaces as
// UPSTREAM_UNAVAILABLE.
type Guarded struct {
	next     Index
	upstream *resilience.Upstream
}

// NewGuarded wraps next.
func NewGuarded(next Index, upstream *resilience.Upstream) *Guarded {
	return &Guarded{next: next, upstream: upstream}
}

// CollectionExists implements Index.
func (g *Guarded) CollectionExists(ctx context.Context, name string) (bool, error) {
	return resilience.UpstreamValue(ctx, g.upstream, "collection_exists", func(ctx context.Context) (bool, error) {
		return g.next.CollectionExists(ctx, name)
	})
}

// CreateCollection implements Index.
func (g *Guarded) CreateCollection(ctx context.Context, name string, cfg CollectionConfig) error {
	return g.upstream.Do(ctx, "create_collection", func(ctx context.Context) error {
		return g.next.CreateCollection(ctx, name, cfg)
	})
}

// Upsert implements Index.
func (g *Guarded) Upsert(ctx context.Context, collection string, points []Point) error {
	return g.upstream.Do(ctx, "upsert", func(ctx context.Context) error {
		return g.next.Upsert(ctx, collection, points)
	})
}

// Search implements Index.
func (g *Guarded) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error) {
	return resilience.UpstreamValue(ctx, g.upstream, "search", func(ctx context.Context) ([]Hit, error) {
		return g.next.Search(ctx, collection, vector, limit)
	})
}

// Retrieve implements Index.
func (g *Guarded) Retrieve(ctx context.Context, collection string, ids []string) ([]Record, error) {
	return resilience.UpstreamValue(ctx, g.upstream, "retrieve", func(ctx context.Context) ([]Record, error) {
		return g.next.Retrieve(ctx, collection, ids)
	})
}

// Scroll implements Index.
func (g *Guarded) Scroll(ctx context.Context, collection string) ([]Record, error) {
	return resilience.UpstreamValue(ctx, g.upstream, "scroll", func(ctx context.Context) ([]Record, error) {
		return g.next.Scroll(ctx, collection)
	})
}

var (
	_ Index = (*Guarded)(nil)
	_ Index = (*Memory)(nil)
)
