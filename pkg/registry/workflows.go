package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Keiii25/lean-formal-agent/pkg/audit"
	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/crew"
	"github.com/Keiii25/lean-formal-agent/pkg/embedding"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
	"github.com/Keiii25/lean-formal-agent/pkg/index"
	"github.com/Keiii25/lean-formal-agent/pkg/planner"
	"github.com/Keiii25/lean-formal-agent/pkg/telemetry"
)

// WorkflowHit is a workflow search result.
type WorkflowHit struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Arguments   []string `json:"arguments"`
	Score       float32  `json:"score"`
}

// WorkflowRegistry validates, stores and executes workflows. Stored
// workflows live only in the vector index; the registry keeps no copy.
type WorkflowRegistry struct {
	tools      *ToolRegistry
	index      index.Index
	embedder   embedding.Embedder
	runtime    crew.Runtime
	audit      audit.Store
	collection string
	limit      int
	metrics    *telemetry.RegistryMetrics
	logger     *slog.Logger
	tracer     trace.Tracer
	group      singleflight.Group
}

// WorkflowOption configures a WorkflowRegistry.
type WorkflowOption func(*WorkflowRegistry)

// WithWorkflowCollection overrides the collection workflows are stored in.
func WithWorkflowCollection(name string) WorkflowOption {
	return func(r *WorkflowRegistry) {
		if name != "" {
			r.collection = name
		}
	}
}

// WithWorkflowSearchLimit bounds the number of search hits.
func WithWorkflowSearchLimit(n int) WorkflowOption {
	return func(r *WorkflowRegistry) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithRuntime sets the runtime workflows are executed on.
func WithRuntime(rt crew.Runtime) WorkflowOption {
	return func(r *WorkflowRegistry) { r.runtime = rt }
}

// WithAudit records every execution in store.
func WithAudit(store audit.Store) WorkflowOption {
	return func(r *WorkflowRegistry) { r.audit = store }
}

// WithWorkflowMetrics records registry metrics.
func WithWorkflowMetrics(m *telemetry.RegistryMetrics) WorkflowOption {
	return func(r *WorkflowRegistry) { r.metrics = m }
}

// WithWorkflowLogger sets the logger.
func WithWorkflowLogger(l *slog.Logger) WorkflowOption {
	return func(r *WorkflowRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewWorkflowRegistry returns a registry that resolves tool references
// through tools.
func NewWorkflowRegistry(tools *ToolRegistry, idx index.Index, embedder embedding.Embedder, opts ...WorkflowOption) *WorkflowRegistry {
	r := &WorkflowRegistry{
		tools:      tools,
		index:      idx,
		embedder:   embedder,
		collection: WorkflowsCollection,
		limit:      DefaultSearchLimit,
		logger:     slog.Default(),
		tracer:     otel.Tracer("agentreg/registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Collection returns the name of the workflows collection.
func (r *WorkflowRegistry) Collection() string { return r.collection }

// Register validates w and stores it under its derived id.
//
// Tool references are resolved to derived ids, task agents are checked and
// the task graph is sorted before anything is sent upstream; a failure in
// any of these steps leaves both w and the index untouched. On success the
// agents of w carry derived tool ids. Registering the same name and
// description again returns the same id and replaces the stored payload.
func (r *WorkflowRegistry) Register(ctx context.Context, w *Workflow) (string, error) {
	if w == nil {
		return "", errors.New(errors.CodeInvalidArgument, "workflow is required", nil)
	}
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "WorkflowRegistry.Register", trace.WithAttributes(
		telemetry.WorkflowAttributes(w.ID(), w.Name, "")...,
	))
	defer span.End()

	resolved, id, err := r.register(ctx, w)
	r.metrics.ObserveDuration(ctx, "workflow.register", start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordError(ctx, err, "workflow.register")
		r.logger.Warn("registry.workflow.register.error",
			slog.String("workflow", w.Name),
			slog.String("code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	for name, agent := range resolved.Agents {
		if orig, ok := w.Agents[name]; ok {
			orig.Tools = agent.Tools
			w.Agents[name] = orig
		}
	}
	span.SetStatus(codes.Ok, "")
	r.metrics.WorkflowRegistered(ctx)
	r.logger.Info("registry.workflow.registered", slog.String("workflow", w.Name), slog.String("workflow_id", id))
	return id, nil
}

func (r *WorkflowRegistry) register(ctx context.Context, w *Workflow) (Workflow, string, error) {
	if w.Name == "" {
		return Workflow{}, "", errors.New(errors.CodeInvalidArgument, "workflow name is required", nil)
	}
	resolved := w.Clone()
	if err := r.resolveTools(&resolved); err != nil {
		return Workflow{}, "", err
	}
	if err := resolved.checkAgents(); err != nil {
		return Workflow{}, "", err
	}
	if _, err := planner.Sort(resolved.Dependencies()); err != nil {
		return Workflow{}, "", err
	}

	id := resolved.ID()
	payload, err := resolved.Payload()
	if err != nil {
		return Workflow{}, "", errors.New(errors.CodeInvalidArgument, "workflow is not JSON encodable", err)
	}
	key, err := flightKey(id, payload)
	if err != nil {
		return Workflow{}, "", errors.New(errors.CodeInvalidArgument, "workflow is not JSON encodable", err)
	}

	_, err, _ = r.group.Do(key, func() (any, error) {
		vector, err := r.embedder.Embed(ctx, resolved.Name+"\n"+resolved.Description)
		if err != nil {
			return nil, err
		}
		return nil, r.index.Upsert(ctx, r.collection, []index.Point{{ID: id, Vector: vector, Payload: payload}})
	})
	if err != nil {
		return Workflow{}, "", err
	}
	return resolved, id, nil
}

// resolveTools rewrites every agent tool reference to a derived id. Agents
// are visited by name and references in declared order.
func (r *WorkflowRegistry) resolveTools(w *Workflow) error {
	for _, name := range w.AgentNames() {
		agent := w.Agents[name]
		for i, ref := range agent.Tools {
			id, ok := r.tools.Resolve(ref)
			if !ok {
				return errors.Newf(errors.CodeUnknownTool, "tool %s does not exist", ref).
					WithContext("tool", ref).
					WithContext("agent", name)
			}
			agent.Tools[i] = id
		}
		w.Agents[name] = agent
	}
	return nil
}

// flightKey identifies a registration: identical payloads share a key so
// concurrent duplicates collapse into one upstream write.
func flightKey(id string, payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return id + ":" + hex.EncodeToString(sum[:]), nil
}

// Search returns the stored workflows most similar to query, best first.
func (r *WorkflowRegistry) Search(ctx context.Context, query string) ([]WorkflowHit, error) {
	ctx, span := r.tracer.Start(ctx, "WorkflowRegistry.Search")
	defer span.End()

	hits, err := searchCollection(ctx, r.index, r.embedder, r.collection, query, r.limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordError(ctx, err, "workflow.search")
		return nil, err
	}
	r.metrics.Searched(ctx, r.collection)
	span.SetAttributes(telemetry.IndexAttributes(r.collection, len(hits))...)

	out := make([]WorkflowHit, 0, len(hits))
	for _, h := range hits {
		hit := WorkflowHit{ID: h.ID, Score: h.Score}
		hit.Name, _ = h.Payload["name"].(string)
		hit.Description, _ = h.Payload["description"].(string)
		if args, ok := h.Payload["arguments"].([]any); ok {
			for _, a := range args {
				if s, ok := a.(string); ok {
					hit.Arguments = append(hit.Arguments, s)
				}
			}
		}
		out = append(out, hit)
	}
	return out, nil
}

// Get returns the stored workflow with the given id.
func (r *WorkflowRegistry) Get(ctx context.Context, id string) (Workflow, error) {
	// Stored ids are always derived; anything else cannot exist upstream.
	if !IsDerivedID(id) {
		return Workflow{}, errors.Newf(errors.CodeWorkflowNotFound, "workflow %s not found", id).
			WithContext("workflow_id", id)
	}
	records, err := r.index.Retrieve(ctx, r.collection, []string{id})
	if err != nil {
		return Workflow{}, err
	}
	if len(records) == 0 {
		return Workflow{}, errors.Newf(errors.CodeWorkflowNotFound, "workflow %s not found", id).
			WithContext("workflow_id", id)
	}
	return workflowFromPayload(id, records[0].Payload)
}

// List returns every stored workflow payload.
func (r *WorkflowRegistry) List(ctx context.Context) ([]index.Record, error) {
	return r.index.Scroll(ctx, r.collection)
}

// Executions returns recorded executions.
func (r *WorkflowRegistry) Executions(ctx context.Context, filter audit.Filter) ([]audit.Execution, error) {
	if r.audit == nil {
		return nil, nil
	}
	return r.audit.List(ctx, filter)
}

// Execute runs the stored workflow id with args and returns the runtime's
// output unchanged. Every argument name must be declared by the workflow;
// declared arguments that are absent are not reported. Runtime failures
// are wrapped as CodeExecutionError.
func (r *WorkflowRegistry) Execute(ctx context.Context, id string, args map[string]any) (any, error) {
	ctx, runID := core.EnsureRunID(ctx)
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "WorkflowRegistry.Execute", trace.WithAttributes(
		telemetry.WorkflowAttributes(id, "", runID)...,
	))
	defer span.End()

	log := r.logger.With(slog.String("workflow_id", id), slog.String("run_id", runID))
	log.Info("workflow.execute.start")

	name, result, err := r.execute(ctx, id, args)
	r.metrics.ObserveDuration(ctx, "workflow.execute", started)
	r.metrics.WorkflowExecuted(ctx, err)
	r.record(ctx, audit.Execution{
		WorkflowID:   id,
		WorkflowName: name,
		RunID:        runID,
		Arguments:    args,
		Output:       result,
		StartedAt:    started,
		FinishedAt:   time.Now(),
	}, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordError(ctx, err, "workflow.execute")
		log.Error("workflow.execute.error",
			slog.String("code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	log.Info("workflow.execute.complete", slog.String("workflow", name))
	return result, nil
}

func (r *WorkflowRegistry) execute(ctx context.Context, id string, args map[string]any) (string, any, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if err := checkArguments(w, args); err != nil {
		return w.Name, nil, err
	}
	c, err := r.buildCrew(w)
	if err != nil {
		return w.Name, nil, err
	}
	if r.runtime == nil {
		return w.Name, nil, errors.New(errors.CodeExecution, "no execution runtime configured", nil).
			WithContext("workflow_id", id)
	}
	if args == nil {
		args = map[string]any{}
	}
	out, err := r.runtime.Run(ctx, c, args)
	if err != nil {
		runID, _ := core.RunID(ctx)
		return w.Name, nil, errors.New(errors.CodeExecution, "workflow "+w.Name+" failed", err).
			WithContext("workflow_id", id).
			WithContext("run_id", runID)
	}
	return w.Name, out, nil
}

func checkArguments(w Workflow, args map[string]any) error {
	names := sortedKeys(args)
	for _, name := range names {
		if !w.AcceptsArgument(name) {
			return errors.Newf(errors.CodeInvalidArgument, "invalid argument %s, valid: %v", name, w.Arguments).
				WithContext("argument", name).
				WithContext("valid", w.Arguments)
		}
	}
	return nil
}

// buildCrew turns a stored workflow into runtime objects: one agent per
// AgentSpec with registry-backed tools, and tasks in dependency order.
func (r *WorkflowRegistry) buildCrew(w Workflow) (crew.Crew, error) {
	agents := make(map[string]*crew.Agent, len(w.Agents))
	c := crew.Crew{Process: crew.ProcessSequential}
	for _, name := range w.AgentNames() {
		spec := w.Agents[name]
		agent := &crew.Agent{
			Name:      name,
			Role:      spec.Role,
			Goal:      spec.Goal,
			Backstory: spec.Backstory,
		}
		for _, ref := range spec.Tools {
			id, ok := r.tools.Resolve(ref)
			if !ok {
				return crew.Crew{}, errors.Newf(errors.CodeUnknownTool, "tool %s is not registered", ref).
					WithContext("tool_id", ref).
					WithContext("agent", name)
			}
			proxy, err := r.tools.Virtual(id)
			if err != nil {
				return crew.Crew{}, err
			}
			agent.Tools = append(agent.Tools, proxy)
		}
		agents[name] = agent
		c.Agents = append(c.Agents, agent)
	}

	order, err := planner.Sort(w.Dependencies())
	if err != nil {
		return crew.Crew{}, err
	}
	if err := w.checkAgents(); err != nil {
		return crew.Crew{}, err
	}

	built := make(map[string]*crew.Task, len(order))
	for _, name := range order {
		spec := w.Tasks[name]
		task := &crew.Task{
			Name:           name,
			Description:    spec.Description,
			ExpectedOutput: spec.ExpectedOutput,
			Agent:          agents[spec.Agent],
		}
		for _, dep := range spec.Context {
			task.Context = append(task.Context, built[dep])
		}
		built[name] = task
		c.Tasks = append(c.Tasks, task)
	}
	return c, nil
}

func (r *WorkflowRegistry) record(ctx context.Context, e audit.Execution, err error) {
	if r.audit == nil {
		return
	}
	e.Status = audit.StatusSucceeded
	if err != nil {
		e.Status = audit.StatusFailed
		e.Error = err.Error()
		e.ErrorCode = string(errors.CodeOf(err))
		e.Output = nil
	}
	if recErr := r.audit.Record(context.WithoutCancel(ctx), e); recErr != nil {
		r.logger.Warn("workflow.audit.error",
			slog.String("run_id", e.RunID),
			slog.String("error", recErr.Error()),
		)
	}
}

// Plan returns the dependency levels of a workflow's tasks.
func Plan(w Workflow) ([][]string, error) {
	if err := w.checkAgents(); err != nil {
		return nil, err
	}
	levels, err := planner.Levels(w.Dependencies())
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", w.Name, err)
	}
	return levels, nil
}
