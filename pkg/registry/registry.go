// Package registry indexes tools and workflows for semantic search,
// validates workflow task graphs and executes stored workflows with tools
// bound back to the registry.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Keiii25/lean-formal-agent/pkg/audit"
	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/crew"
	"github.com/Keiii25/lean-formal-agent/pkg/embedding"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
	"github.com/Keiii25/lean-formal-agent/pkg/index"
	"github.com/Keiii25/lean-formal-agent/pkg/telemetry"
)

// DefaultVectorSize is the embedding dimension of both collections.
const DefaultVectorSize = 1536

// Options wires a Registry to its collaborators. Index and Embedder are
// required.
type Options struct {
	Index    index.Index
	Embedder embedding.Embedder
	Runtime  crew.Runtime
	Audit    audit.Store
	Metrics  *telemetry.RegistryMetrics
	Logger   *slog.Logger

	VectorSize          uint64
	Distance            index.Distance
	ToolsCollection     string
	WorkflowsCollection string
	SearchLimit         int
}

// Registry pairs the tool and workflow registries over one index.
type Registry struct {
	Tools     *ToolRegistry
	Workflows *WorkflowRegistry

	index      index.Index
	collection index.CollectionConfig
}

// New builds a Registry. Call EnsureCollections before first use.
func New(opts Options) (*Registry, error) {
	if opts.Index == nil {
		return nil, errors.New(errors.CodeInvalidArgument, "registry needs a vector index", nil)
	}
	if opts.Embedder == nil {
		return nil, errors.New(errors.CodeInvalidArgument, "registry needs an embedder", nil)
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = DefaultVectorSize
	}
	if opts.Distance == "" {
		opts.Distance = index.DistanceCosine
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewMemory()
	}

	tools := NewToolRegistry(opts.Index, opts.Embedder,
		WithToolCollection(opts.ToolsCollection),
		WithToolSearchLimit(opts.SearchLimit),
		WithToolMetrics(opts.Metrics),
		WithToolLogger(opts.Logger),
	)
	workflows := NewWorkflowRegistry(tools, opts.Index, opts.Embedder,
		WithWorkflowCollection(opts.WorkflowsCollection),
		WithWorkflowSearchLimit(opts.SearchLimit),
		WithRuntime(opts.Runtime),
		WithAudit(opts.Audit),
		WithWorkflowMetrics(opts.Metrics),
		WithWorkflowLogger(opts.Logger),
	)
	return &Registry{
		Tools:      tools,
		Workflows:  workflows,
		index:      opts.Index,
		collection: index.CollectionConfig{VectorSize: opts.VectorSize, Distance: opts.Distance},
	}, nil
}

// EnsureCollections creates the tools and workflows collections when they
// are missing.
func (r *Registry) EnsureCollections(ctx context.Context) error {
	for _, name := range []string{r.Tools.Collection(), r.Workflows.Collection()} {
		if err := index.EnsureCollection(ctx, r.index, name, r.collection); err != nil {
			return err
		}
	}
	return nil
}

// Health reports whether the vector index answers.
func (r *Registry) Health(ctx context.Context) core.HealthResult {
	res := core.HealthResult{Component: "index", LastCheck: time.Now().UTC()}
	if _, err := r.index.CollectionExists(ctx, r.Tools.Collection()); err != nil {
		res.Status = core.HealthUnhealthy
		res.Message = err.Error()
		return res
	}
	res.Status = core.HealthHealthy
	return res
}
