package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Keiii25/lean-formal-agent/pkg/audit"
	"github.com/Keiii25/lean-formal-agent/pkg/config"
	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/crew"
	"github.com/Keiii25/lean-formal-agent/pkg/embedding"
	"github.com/Keiii25/lean-formal-agent/pkg/embedding/ollama"
	"github.com/Keiii25/lean-formal-agent/pkg/embedding/openai"
	"github.com/Keiii25/lean-formal-agent/pkg/index"
	"github.com/Keiii25/lean-formal-agent/pkg/index/qdrant"
	"github.com/Keiii25/lean-formal-agent/pkg/llm"
	"github.com/Keiii25/lean-formal-agent/pkg/llm/anthropic"
	"github.com/Keiii25/lean-formal-agent/pkg/mcp"
	"github.com/Keiii25/lean-formal-agent/pkg/registry"
	"github.com/Keiii25/lean-formal-agent/pkg/resilience"
	"github.com/Keiii25/lean-formal-agent/pkg/telemetry"
	"github.com/Keiii25/lean-formal-agent/pkg/tool/builtin"
)

// app is a fully wired registry plus the resources it owns.
type app struct {
	Registry *registry.Registry
	Imported []mcp.Imported
	closers  []func() error
	logger   *slog.Logger
}

// Close releases backends in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("agentreg.close.error", slog.String("error", err.Error()))
		}
	}
}

// buildApp wires the registry from cfg, registers the builtin tools and
// imports the tools of every configured MCP server.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	retry := retryPolicy(cfg.Registry.Retry)
	timeout := cfg.Registry.Timeout()

	idx, err := a.newIndex(cfg.Qdrant)
	if err != nil {
		return nil, err
	}
	idx = index.NewGuarded(idx, resilience.NewUpstream("index", retry, timeout))

	embedder, err := a.newEmbedder(cfg.Embedding, cfg.Registry.VectorSize)
	if err != nil {
		return nil, err
	}
	embedder = embedding.NewGuarded(embedder, resilience.NewUpstream("embedding", retry, timeout), cfg.Registry.VectorSize)

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	runtime := crew.NewSequential(provider, cfg.LLM.Model,
		crew.WithMaxIterations(cfg.LLM.MaxIterations),
		crew.WithTemperature(cfg.LLM.Temperature),
		crew.WithEventEmitter(core.EmitterFunc(func(ctx context.Context, e core.Event) {
			logger.DebugContext(ctx, "crew.event",
				slog.String("type", string(e.Type)),
				slog.String("agent", e.Agent),
				slog.String("task", e.Task),
				slog.String("run_id", e.RunID),
			)
		})),
	)

	store, err := a.newAudit(cfg.Audit)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewRegistryMetrics()
	if err != nil {
		return nil, fmt.Errorf("registry metrics: %w", err)
	}
	distance, err := index.ParseDistance(cfg.Registry.Distance)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(registry.Options{
		Index:               idx,
		Embedder:            embedder,
		Runtime:             runtime,
		Audit:               store,
		Metrics:             metrics,
		Logger:              logger,
		VectorSize:          uint64(cfg.Registry.VectorSize),
		Distance:            distance,
		ToolsCollection:     cfg.Registry.ToolsCollection,
		WorkflowsCollection: cfg.Registry.WorkflowsCollection,
		SearchLimit:         cfg.Registry.SearchLimit,
	})
	if err != nil {
		return nil, err
	}
	if err := reg.EnsureCollections(ctx); err != nil {
		return nil, err
	}
	for _, t := range builtin.All() {
		if _, err := reg.Tools.Register(ctx, t.Name(), t); err != nil {
			return nil, err
		}
	}
	a.Registry = reg

	imported, err := a.importMCP(ctx, cfg.MCP.Servers)
	if err != nil {
		return nil, err
	}
	a.Imported = imported

	ok = true
	return a, nil
}

func retryPolicy(c config.RetryConfig) resilience.RetryConfig {
	return resilience.DefaultRetryConfig().
		WithMaxAttempts(c.MaxAttempts).
		WithInitialDelay(time.Duration(c.InitialDelayMs) * time.Millisecond).
		WithMaxDelay(time.Duration(c.MaxDelayMs) * time.Millisecond)
}

func (a *app) newIndex(c config.QdrantConfig) (index.Index, error) {
	if !c.Enabled {
		return index.NewMemory(), nil
	}
	store, err := qdrant.New(qdrant.Config{
		Host:           c.Host,
		Port:           c.Port,
		APIKey:         c.APIKey,
		UseTLS:         c.UseTLS,
		MaxRecvMsgSize: c.MaxRecvMsgSize,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *app) newEmbedder(c config.EmbeddingConfig, vectorSize int) (embedding.Embedder, error) {
	var e embedding.Embedder
	switch c.Provider {
	case "hashing", "":
		e = embedding.NewHashing(vectorSize)
	case "ollama":
		e = ollama.NewEmbedder(c.BaseURL, c.Model)
	case "openai":
		e = openai.NewEmbedder(openai.Config{
			APIKey:     c.APIKey,
			BaseURL:    c.BaseURL,
			Model:      c.Model,
			Dimensions: c.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", c.Provider)
	}
	if !c.Cache.Enabled {
		return e, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: c.Cache.RedisAddr})
	a.closers = append(a.closers, rdb.Close)
	return embedding.NewCached(e, rdb, embedding.CacheConfig{
		Prefix: c.Cache.Prefix,
		Model:  c.Provider + ":" + c.Model,
		TTL:    c.Cache.TTL(),
	}), nil
}

func newProvider(c config.LLMConfig) (llm.Provider, error) {
	switch c.Provider {
	case "ollama":
		return llm.NewOllama(c.BaseURL), nil
	case "openai":
		return llm.NewOpenAI(c.APIKey, c.BaseURL), nil
	case "anthropic":
		return anthropic.New(anthropic.Config{APIKey: c.APIKey, BaseURL: c.BaseURL, Model: c.Model}), nil
	case "mock":
		return &llm.MockProvider{ChatFunc: echoLastMessage}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", c.Provider)
	}
}

// echoLastMessage answers every prompt with the prompt itself, so workflows
// run offline without a model.
func echoLastMessage(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	var content string
	if n := len(req.Messages); n > 0 {
		content = req.Messages[n-1].Content
	}
	return &llm.ChatResponse{Content: content}, nil
}

func (a *app) newAudit(c config.AuditConfig) (audit.Store, error) {
	switch c.Driver {
	case "memory", "":
		return audit.NewMemory(), nil
	case "sqlite":
		store, err := audit.OpenSQLite(c.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown audit driver %q", c.Driver)
	}
}

// importMCP dials the configured servers in name order and registers their
// tools. Clients stay open for the life of the app.
func (a *app) importMCP(ctx context.Context, servers map[string]config.MCPServerConfig) ([]mcp.Imported, error) {
	if len(servers) == 0 {
		return nil, nil
	}
	sources, err := a.dialMCP(ctx, servers)
	if err != nil {
		return nil, err
	}
	return mcp.Import(ctx, a.Registry.Tools, a.logger, sources...)
}

func (a *app) dialMCP(ctx context.Context, servers map[string]config.MCPServerConfig) ([]mcp.Source, error) {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	sources := make([]mcp.Source, 0, len(names))
	for _, name := range names {
		c := servers[name]
		cl, err := mcp.Dial(ctx, mcp.Endpoint{
			Name:      name,
			Transport: c.Transport,
			Command:   c.Command,
			Args:      c.Args,
			Env:       c.Env,
			URL:       c.URL,
			Prefix:    c.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", name, err)
		}
		a.closers = append(a.closers, cl.Close)
		sources = append(sources, mcp.Source{Name: name, Prefix: c.Prefix, Client: cl})
	}
	return sources, nil
}
