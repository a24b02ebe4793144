// Package embedding turns free text into fixed-length vectors for the
// vector index.
package embedding

import (
	"context"
	"fmt"

	"github.com/Keiii25/lean-formal-agent/pkg/resilience"
)

// Embedder converts a text string into a vector. Implementations are bound
// to one model, so every vector they return has the same length.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Guarded wraps an Embedder with the upstream guard and checks that every
// vector has the configured dimension.
type Guarded struct {
	next      Embedder
	upstream  *resilience.Upstream
	dimension int
}

// NewGuarded returns an Embedder that retries next through upstream. A zero
// dimension disables the length check.
func NewGuarded(next Embedder, upstream *resilience.Upstream, dimension int) *Guarded {
	return &Guarded{next: next, upstream: upstream, dimension: dimension}
}

// Embed implements Embedder.
func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	return resilience.UpstreamValue(ctx, g.upstream, "embed", func(ctx context.Context) ([]float32, error) {
		vec, err := g.next.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if g.dimension > 0 && len(vec) != g.dimension {
			return nil, fmt.Errorf("embedding has %d dimensions, index expects %d", len(vec), g.dimension)
		}
		return vec, nil
	})
}
