package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/embedding"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
	"github.com/Keiii25/lean-formal-agent/pkg/index"
	"github.com/Keiii25/lean-formal-agent/pkg/telemetry"
	"github.com/Keiii25/lean-formal-agent/pkg/tool"
)

// Default collection names and search limit.
const (
	ToolsCollection     = "tools"
	WorkflowsCollection = "agents"
	DefaultSearchLimit  = 5
)

// ToolHit is a tool search result.
type ToolHit struct {
	tool.Descriptor
	Score float32 `json:"score"`
}

type toolEntry struct {
	impl core.Tool
	desc tool.Descriptor
}

// ToolRegistry owns the registered tool implementations and indexes their
// descriptions for semantic search. Registrations are immutable for the
// life of the process.
type ToolRegistry struct {
	index      index.Index
	embedder   embedding.Embedder
	collection string
	limit      int
	metrics    *telemetry.RegistryMetrics
	logger     *slog.Logger
	tracer     trace.Tracer

	mu      sync.RWMutex
	tools   map[string]toolEntry     // derived id -> entry
	ids     map[string]string        // identifier -> derived id
	pending map[string]chan struct{} // identifiers and ids being registered
}

// ToolOption configures a ToolRegistry.
type ToolOption func(*ToolRegistry)

// WithToolCollection overrides the collection tools are indexed in.
func WithToolCollection(name string) ToolOption {
	return func(r *ToolRegistry) {
		if name != "" {
			r.collection = name
		}
	}
}

// WithToolSearchLimit bounds the number of search hits.
func WithToolSearchLimit(n int) ToolOption {
	return func(r *ToolRegistry) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithToolMetrics records registry metrics.
func WithToolMetrics(m *telemetry.RegistryMetrics) ToolOption {
	return func(r *ToolRegistry) { r.metrics = m }
}

// WithToolLogger sets the logger.
func WithToolLogger(l *slog.Logger) ToolOption {
	return func(r *ToolRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewToolRegistry returns an empty registry over idx and embedder.
func NewToolRegistry(idx index.Index, embedder embedding.Embedder, opts ...ToolOption) *ToolRegistry {
	r := &ToolRegistry{
		index:      idx,
		embedder:   embedder,
		collection: ToolsCollection,
		limit:      DefaultSearchLimit,
		logger:     slog.Default(),
		tracer:     otel.Tracer("agentreg/registry"),
		tools:      make(map[string]toolEntry),
		ids:        make(map[string]string),
		pending:    make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Collection returns the name of the tools collection.
func (r *ToolRegistry) Collection() string { return r.collection }

// Register indexes impl under identifier and returns its derived id. An
// identifier can be registered once; a second attempt fails with
// CodeDuplicateTool and leaves the first registration untouched. The entry
// becomes visible only after the index accepted it.
func (r *ToolRegistry) Register(ctx context.Context, identifier string, impl core.Tool) (string, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "ToolRegistry.Register", trace.WithAttributes(
		telemetry.ToolAttributes("", identifier)...,
	))
	defer span.End()

	id, err := r.register(ctx, identifier, impl)
	r.metrics.ObserveDuration(ctx, "tool.register", start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordError(ctx, err, "tool.register")
		r.logger.Warn("registry.tool.register.error",
			slog.String("tool", identifier),
			slog.String("code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return "", err
	}
	span.SetStatus(codes.Ok, "")
	r.metrics.ToolRegistered(ctx, identifier)
	r.logger.Info("registry.tool.registered", slog.String("tool", identifier), slog.String("tool_id", id))
	return id, nil
}

func (r *ToolRegistry) register(ctx context.Context, identifier string, impl core.Tool) (string, error) {
	if identifier == "" {
		return "", errors.New(errors.CodeInvalidArgument, "tool identifier is required", nil)
	}
	if impl == nil {
		return "", errors.New(errors.CodeInvalidArgument, "tool implementation is required", nil).
			WithContext("tool", identifier)
	}
	id := DeriveID(identifier, impl.Description())
	release, err := r.reserve(ctx, identifier, id)
	if err != nil {
		return "", err
	}
	defer release()

	desc := tool.Describe(impl, id)
	desc.ClassName = identifier

	payload, err := toolPayload(desc)
	if err != nil {
		return "", errors.New(errors.CodeInvalidArgument, "tool schema is not JSON encodable", err).
			WithContext("tool", identifier)
	}
	vector, err := r.embedder.Embed(ctx, identifier+"\n"+desc.Description)
	if err != nil {
		return "", err
	}
	if err := r.index.Upsert(ctx, r.collection, []index.Point{{ID: id, Vector: vector, Payload: payload}}); err != nil {
		return "", err
	}

	r.mu.Lock()
	r.tools[id] = toolEntry{impl: impl, desc: desc}
	r.ids[identifier] = id
	r.mu.Unlock()
	return id, nil
}

// reserve makes the caller the only registrant of identifier and of its
// derived id until release is called. A concurrent registration of either
// waits and then observes the outcome of the first. An id already owned by
// another identifier is a duplicate: its fields concatenate to the same
// text.
func (r *ToolRegistry) reserve(ctx context.Context, identifier, id string) (func(), error) {
	idKey := "id:" + id
	for {
		r.mu.Lock()
		if owner, ok := r.ids[identifier]; ok {
			r.mu.Unlock()
			return nil, errors.Newf(errors.CodeDuplicateTool, "%s already in tools", identifier).
				WithContext("tool", identifier).
				WithContext("tool_id", owner)
		}
		if entry, ok := r.tools[id]; ok {
			r.mu.Unlock()
			return nil, errors.Newf(errors.CodeDuplicateTool, "%s derives the id of %s", identifier, entry.desc.ClassName).
				WithContext("tool", identifier).
				WithContext("tool_id", id).
				WithContext("owner", entry.desc.ClassName)
		}
		wait, busy := r.pending[identifier]
		if !busy {
			wait, busy = r.pending[idKey]
		}
		if !busy {
			done := make(chan struct{})
			r.pending[identifier] = done
			r.pending[idKey] = done
			r.mu.Unlock()
			return func() {
				r.mu.Lock()
				delete(r.pending, identifier)
				delete(r.pending, idKey)
				r.mu.Unlock()
				close(done)
			}, nil
		}
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, errors.New(errors.CodeContextLost, "waiting for concurrent registration", ctx.Err()).
				WithContext("tool", identifier)
		}
	}
}

// RegisterFunc registers a native tool built from its parts.
func (r *ToolRegistry) RegisterFunc(ctx context.Context, identifier, description string, schema core.Schema, handler tool.Handler) (string, error) {
	impl, err := tool.NewFunc(identifier, description, schema, handler)
	if err != nil {
		return "", errors.New(errors.CodeInvalidArgument, "tool schema does not compile", err).
			WithContext("tool", identifier)
	}
	return r.Register(ctx, identifier, impl)
}

// Search returns the tools most similar to query, best first. Scores are
// not filtered.
func (r *ToolRegistry) Search(ctx context.Context, query string) ([]ToolHit, error) {
	ctx, span := r.tracer.Start(ctx, "ToolRegistry.Search")
	defer span.End()

	hits, err := searchCollection(ctx, r.index, r.embedder, r.collection, query, r.limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordError(ctx, err, "tool.search")
		return nil, err
	}
	r.metrics.Searched(ctx, r.collection)
	span.SetAttributes(telemetry.IndexAttributes(r.collection, len(hits))...)

	out := make([]ToolHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, ToolHit{Descriptor: r.descriptorFor(h.ID, h.Payload), Score: h.Score})
	}
	return out, nil
}

// Invoke runs the tool registered under id. Implementation failures are
// wrapped as CodeToolExecution with the original cause.
func (r *ToolRegistry) Invoke(ctx context.Context, id string, args map[string]any) (any, error) {
	r.mu.RLock()
	entry, ok := r.tools[id]
	r.mu.RUnlock()
	if !ok {
		err := errors.Newf(errors.CodeUnknownTool, "tool %s is not registered", id).
			WithContext("tool_id", id)
		r.metrics.RecordError(ctx, err, "tool.invoke")
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "ToolRegistry.Invoke", trace.WithAttributes(
		telemetry.ToolAttributes(id, entry.desc.ClassName)...,
	))
	defer span.End()

	start := time.Now()
	result, err := entry.impl.Call(ctx, args)
	duration := float64(time.Since(start).Microseconds()) / 1000
	span.SetAttributes(telemetry.ToolCallAttributes(entry.desc.ClassName, "", duration, err == nil)...)
	r.metrics.ToolInvoked(ctx, entry.desc.ClassName, err)
	if err != nil {
		wrapped := errors.New(errors.CodeToolExecution, "tool "+entry.desc.ClassName+" failed", err).
			WithContext("tool", entry.desc.ClassName).
			WithContext("tool_id", id)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		r.metrics.RecordError(ctx, wrapped, "tool.invoke")
		r.logger.Warn("registry.tool.invoke.error",
			slog.String("tool", entry.desc.ClassName),
			slog.String("error", err.Error()),
		)
		return nil, wrapped
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Get returns the descriptor of a registered tool.
func (r *ToolRegistry) Get(id string) (tool.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[id]
	if !ok {
		return tool.Descriptor{}, errors.Newf(errors.CodeUnknownTool, "tool %s is not registered", id).
			WithContext("tool_id", id)
	}
	return entry.desc, nil
}

// Resolve maps a tool reference, either a derived id or an identifier, to
// the derived id of a registered tool.
func (r *ToolRegistry) Resolve(ref string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tools[ref]; ok {
		return ref, true
	}
	id, ok := r.ids[ref]
	return id, ok
}

// Virtual returns a proxy for the registered tool id that routes calls
// back through Invoke.
func (r *ToolRegistry) Virtual(id string) (*tool.Virtual, error) {
	desc, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return tool.NewVirtual(desc, func(ctx context.Context, d tool.Descriptor, args map[string]any) (any, error) {
		return r.Invoke(ctx, d.ToolID, args)
	}), nil
}

// Descriptors returns every locally registered tool ordered by identifier.
func (r *ToolRegistry) Descriptors() []tool.Descriptor {
	r.mu.RLock()
	out := make([]tool.Descriptor, 0, len(r.tools))
	for _, entry := range r.tools {
		out = append(out, entry.desc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ClassName < out[j].ClassName })
	return out
}

// List returns every tool payload stored in the index, including tools
// registered by other processes.
func (r *ToolRegistry) List(ctx context.Context) ([]index.Record, error) {
	return r.index.Scroll(ctx, r.collection)
}

// descriptorFor prefers the local registration and falls back to the
// stored payload.
func (r *ToolRegistry) descriptorFor(id string, payload map[string]any) tool.Descriptor {
	r.mu.RLock()
	entry, ok := r.tools[id]
	r.mu.RUnlock()
	if ok {
		return entry.desc
	}
	desc := tool.Descriptor{ToolID: id}
	desc.ClassName, _ = payload["id"].(string)
	desc.Description, _ = payload["description"].(string)
	if raw, ok := payload["model_dict"]; ok {
		if data, err := json.Marshal(raw); err == nil {
			_ = json.Unmarshal(data, &desc.Schema)
		}
	}
	return desc
}

func toolPayload(desc tool.Descriptor) (map[string]any, error) {
	schema, err := json.Marshal(desc.Schema)
	if err != nil {
		return nil, err
	}
	var modelDict map[string]any
	if err := json.Unmarshal(schema, &modelDict); err != nil {
		return nil, err
	}
	return map[string]any{
		"id":          desc.ClassName,
		"description": desc.Description,
		"tool_id":     desc.ToolID,
		"model_dict":  modelDict,
	}, nil
}

func searchCollection(ctx context.Context, idx index.Index, embedder embedding.Embedder, collection, query string, limit int) ([]index.Hit, error) {
	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, collection, vector, limit)
}
