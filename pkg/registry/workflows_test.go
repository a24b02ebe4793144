package registry

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Keiii25/lean-formal-agent/pkg/audit"
	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/crew"
	"github.com/Keiii25/lean-formal-agent/pkg/embedding"
	rerrors "github.com/Keiii25/lean-formal-agent/pkg/errors"
	"github.com/Keiii25/lean-formal-agent/pkg/index"
	"github.com/Keiii25/lean-formal-agent/pkg/resilience"
	"github.com/Keiii25/lean-formal-agent/pkg/tool/builtin"
	"github.com/google/uuid"
)

// recordingRuntime captures the crew it was handed.
type recordingRuntime struct {
	mu     sync.Mutex
	calls  int
	crew   crew.Crew
	inputs map[string]any
	result any
	err    error
}

func (r *recordingRuntime) Run(_ context.Context, c crew.Crew, inputs map[string]any) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.crew = c
	r.inputs = inputs
	return r.result, r.err
}

func (r *recordingRuntime) taskNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.crew.Tasks))
	for i, task := range r.crew.Tasks {
		names[i] = task.Name
	}
	return names
}

func singleTaskWorkflow() *Workflow {
	return &Workflow{
		Name:        "Single",
		Description: "one agent, one task",
		Agents:      map[string]AgentSpec{"a1": {Role: "r", Goal: "g", Backstory: "b"}},
		Tasks:       map[string]TaskSpec{"t1": {Description: "do it", ExpectedOutput: "done", Agent: "a1", Context: []string{}}},
	}
}

func TestWorkflowRegistry_SingleTaskScenario(t *testing.T) {
	rt := &recordingRuntime{result: "stub output"}
	reg, _ := newTestRegistry(t, rt)
	ctx := context.Background()

	id, err := reg.Workflows.Register(ctx, singleTaskWorkflow())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	out, err := reg.Workflows.Execute(ctx, id, map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "stub output" {
		t.Fatalf("expected runtime output verbatim, got %v", out)
	}
	if rt.crew.Process != crew.ProcessSequential {
		t.Fatalf("expected sequential process, got %q", rt.crew.Process)
	}
	if len(rt.crew.Agents) != 1 || rt.crew.Agents[0].Role != "r" || rt.crew.Agents[0].Goal != "g" || rt.crew.Agents[0].Backstory != "b" {
		t.Fatalf("agent persona not copied: %+v", rt.crew.Agents)
	}
	task := rt.crew.Tasks[0]
	if task.Description != "do it" || task.ExpectedOutput != "done" || task.Agent != rt.crew.Agents[0] {
		t.Fatalf("task not built from its TaskSpec: %+v", task)
	}
}

func TestWorkflowRegistry_SameNameAndDescriptionSameID(t *testing.T) {
	reg, idx := newTestRegistry(t, &recordingRuntime{})
	ctx := context.Background()

	first, err := reg.Workflows.Register(ctx, singleTaskWorkflow())
	if err != nil {
		t.Fatal(err)
	}
	changed := singleTaskWorkflow()
	changed.Tasks["t1"] = TaskSpec{Description: "do it differently", Agent: "a1"}
	second, err := reg.Workflows.Register(ctx, changed)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("expected identical ids, got %s and %s", first, second)
	}
	records, err := reg.Workflows.List(ctx)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one stored workflow, got %d (%v)", len(records), err)
	}
	stored, err := reg.Workflows.Get(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Tasks["t1"].Description != "do it differently" {
		t.Fatalf("re-registration should replace the payload, got %+v", stored.Tasks["t1"])
	}
	if idx.count(WorkflowsCollection) != 2 {
		t.Fatalf("expected two upserts, got %d", idx.count(WorkflowsCollection))
	}
}

func TestWorkflowRegistry_UnknownToolNoUpsert(t *testing.T) {
	reg, idx := newTestRegistry(t, &recordingRuntime{})
	w := singleTaskWorkflow()
	w.Agents["a1"] = AgentSpec{Role: "r", Tools: []string{"NoSuchTool"}}

	_, err := reg.Workflows.Register(context.Background(), w)
	re, ok := rerrors.As(err)
	if !ok || re.Code != rerrors.CodeUnknownTool || re.Context["tool"] != "NoSuchTool" {
		t.Fatalf("expected UNKNOWN_TOOL naming the tool, got %v", err)
	}
	if idx.count(WorkflowsCollection) != 0 {
		t.Fatalf("failed registration reached the index")
	}
}

func TestWorkflowRegistry_ResolvesToolNamesInPlace(t *testing.T) {
	reg, _ := newTestRegistry(t, &recordingRuntime{})
	ctx := context.Background()
	echoID, err := reg.Tools.Register(ctx, builtin.EchoName, builtin.Echo())
	if err != nil {
		t.Fatal(err)
	}

	w := singleTaskWorkflow()
	w.Agents["a1"] = AgentSpec{Role: "r", Tools: []string{"Echo", echoID}}
	id, err := reg.Workflows.Register(ctx, w)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := w.Agents["a1"].Tools; !reflect.DeepEqual(got, []string{echoID, echoID}) {
		t.Fatalf("tool names not rewritten to ids: %v", got)
	}

	// Registering the rewritten value again is a no-op rewrite.
	again, err := reg.Workflows.Register(ctx, w)
	if err != nil || again != id {
		t.Fatalf("re-registration: %s %v", again, err)
	}

	stored, err := reg.Workflows.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got := stored.Agents["a1"].Tools; !reflect.DeepEqual(got, []string{echoID, echoID}) {
		t.Fatalf("stored payload carries %v", got)
	}
}

func TestWorkflowRegistry_FailedRegistrationLeavesInputUntouched(t *testing.T) {
	reg, _ := newTestRegistry(t, &recordingRuntime{})
	ctx := context.Background()
	if _, err := reg.Tools.Register(ctx, builtin.EchoName, builtin.Echo()); err != nil {
		t.Fatal(err)
	}
	w := singleTaskWorkflow()
	w.Agents["a1"] = AgentSpec{Role: "r", Tools: []string{"Echo"}}
	w.Agents["a2"] = AgentSpec{Role: "r", Tools: []string{"Missing"}}

	if _, err := reg.Workflows.Register(ctx, w); rerrors.CodeOf(err) != rerrors.CodeUnknownTool {
		t.Fatalf("expected UNKNOWN_TOOL, got %v", err)
	}
	if got := w.Agents["a1"].Tools; !reflect.DeepEqual(got, []string{"Echo"}) {
		t.Fatalf("input mutated on failure: %v", got)
	}
}

func TestWorkflowRegistry_RegisterValidation(t *testing.T) {
	cases := map[string]struct {
		mutate func(w *Workflow)
		code   rerrors.ErrorCode
	}{
		"unknown agent": {
			mutate: func(w *Workflow) { w.Tasks["t1"] = TaskSpec{Agent: "ghost"} },
			code:   rerrors.CodeUnknownAgent,
		},
		"dangling context": {
			mutate: func(w *Workflow) { w.Tasks["t1"] = TaskSpec{Agent: "a1", Context: []string{"t0"}} },
			code:   rerrors.CodeDanglingReference,
		},
		"cycle": {
			mutate: func(w *Workflow) {
				w.Tasks["t1"] = TaskSpec{Agent: "a1", Context: []string{"t2"}}
				w.Tasks["t2"] = TaskSpec{Agent: "a1", Context: []string{"t1"}}
			},
			code: rerrors.CodeCycleDetected,
		},
		"no name": {
			mutate: func(w *Workflow) { w.Name = "" },
			code:   rerrors.CodeInvalidArgument,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			reg, idx := newTestRegistry(t, &recordingRuntime{})
			w := singleTaskWorkflow()
			tc.mutate(w)
			_, err := reg.Workflows.Register(context.Background(), w)
			if rerrors.CodeOf(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			if idx.count(WorkflowsCollection) != 0 {
				t.Fatalf("invalid workflow reached the index")
			}
		})
	}
}

func TestWorkflowRegistry_ExecuteOrdersTasks(t *testing.T) {
	rt := &recordingRuntime{result: "ok"}
	reg, _ := newTestRegistry(t, rt)
	ctx := context.Background()
	w := &Workflow{
		Name:        "Ordered",
		Description: "C depends on A and B",
		Agents:      map[string]AgentSpec{"a": {Role: "r"}},
		Tasks: map[string]TaskSpec{
			"C": {Agent: "a", Context: []string{"A", "B"}},
			"B": {Agent: "a", Context: []string{"A"}},
			"A": {Agent: "a"},
		},
	}
	id, err := reg.Workflows.Register(ctx, w)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Workflows.Execute(ctx, id, nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := rt.taskNames(); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("expected [A B C], got %v", got)
	}
	c := rt.crew.Tasks[2]
	if len(c.Context) != 2 || c.Context[0] != rt.crew.Tasks[0] || c.Context[1] != rt.crew.Tasks[1] {
		t.Fatalf("context not bound to built tasks: %+v", c.Context)
	}
	if rt.inputs == nil {
		t.Fatalf("runtime should receive an empty input map, not nil")
	}
}

func TestWorkflowRegistry_InvalidArgumentBeforeRuntime(t *testing.T) {
	rt := &recordingRuntime{}
	reg, _ := newTestRegistry(t, rt)
	ctx := context.Background()
	w := singleTaskWorkflow()
	w.Arguments = []string{"query"}
	id, err := reg.Workflows.Register(ctx, w)
	if err != nil {
		t.Fatal(err)
	}

	_, err = reg.Workflows.Execute(ctx, id, map[string]any{"query": "x", "city": "Paris"})
	re, ok := rerrors.As(err)
	if !ok || re.Code != rerrors.CodeInvalidArgument || re.Context["argument"] != "city" {
		t.Fatalf("expected INVALID_ARGUMENT for city, got %v", err)
	}
	if rt.calls != 0 {
		t.Fatalf("runtime must not run on invalid arguments")
	}

	// Missing declared arguments are accepted.
	if _, err := reg.Workflows.Execute(ctx, id, map[string]any{}); err != nil {
		t.Fatalf("missing arguments should pass: %v", err)
	}
}

func TestWorkflowRegistry_ExecuteErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		reg, _ := newTestRegistry(t, &recordingRuntime{})
		_, err := reg.Workflows.Execute(ctx, DeriveID("nope"), nil)
		if rerrors.CodeOf(err) != rerrors.CodeWorkflowNotFound {
			t.Fatalf("expected WORKFLOW_NOT_FOUND, got %v", err)
		}
	})

	t.Run("corrupt payload", func(t *testing.T) {
		reg, idx := newTestRegistry(t, &recordingRuntime{})
		id := DeriveID("corrupt")
		err := idx.Memory.Upsert(ctx, WorkflowsCollection, []index.Point{{
			ID:      id,
			Vector:  make([]float32, testDim),
			Payload: map[string]any{"name": "x", "agents": []any{"not", "a", "map"}},
		}})
		if err != nil {
			t.Fatal(err)
		}
		_, err = reg.Workflows.Execute(ctx, id, nil)
		if rerrors.CodeOf(err) != rerrors.CodeCorruptWorkflow {
			t.Fatalf("expected CORRUPT_WORKFLOW, got %v", err)
		}
	})

	stored := func(t *testing.T, idx *countingIndex, name string, tasks map[string]TaskSpec) string {
		t.Helper()
		w := Workflow{
			Name:   name,
			Agents: map[string]AgentSpec{"a1": {Role: "r", Goal: "g", Backstory: "b"}},
			Tasks:  tasks,
		}
		payload, err := w.Payload()
		if err != nil {
			t.Fatal(err)
		}
		id := DeriveID(name)
		err = idx.Memory.Upsert(ctx, WorkflowsCollection, []index.Point{{
			ID:      id,
			Vector:  make([]float32, testDim),
			Payload: payload,
		}})
		if err != nil {
			t.Fatal(err)
		}
		return id
	}

	t.Run("cyclic context", func(t *testing.T) {
		rt := &recordingRuntime{}
		reg, idx := newTestRegistry(t, rt)
		id := stored(t, idx, "cyclic", map[string]TaskSpec{
			"t1": {Description: "first", ExpectedOutput: "x", Agent: "a1", Context: []string{"t2"}},
			"t2": {Description: "second", ExpectedOutput: "y", Agent: "a1", Context: []string{"t1"}},
		})
		_, err := reg.Workflows.Execute(ctx, id, nil)
		if rerrors.CodeOf(err) != rerrors.CodeCycleDetected {
			t.Fatalf("expected CYCLE_DETECTED, got %v", err)
		}
		if rt.calls != 0 {
			t.Fatalf("runtime ran %d times", rt.calls)
		}
	})

	t.Run("dangling context", func(t *testing.T) {
		rt := &recordingRuntime{}
		reg, idx := newTestRegistry(t, rt)
		id := stored(t, idx, "dangling", map[string]TaskSpec{
			"t1": {Description: "first", ExpectedOutput: "x", Agent: "a1", Context: []string{"missing"}},
		})
		_, err := reg.Workflows.Execute(ctx, id, nil)
		if rerrors.CodeOf(err) != rerrors.CodeDanglingReference {
			t.Fatalf("expected DANGLING_REFERENCE, got %v", err)
		}
		if rt.calls != 0 {
			t.Fatalf("runtime ran %d times", rt.calls)
		}
	})

	t.Run("runtime failure", func(t *testing.T) {
		cause := errors.New("model unavailable")
		reg, _ := newTestRegistry(t, &recordingRuntime{err: cause})
		id, err := reg.Workflows.Register(ctx, singleTaskWorkflow())
		if err != nil {
			t.Fatal(err)
		}
		_, err = reg.Workflows.Execute(ctx, id, nil)
		if rerrors.CodeOf(err) != rerrors.CodeExecution || !errors.Is(err, cause) {
			t.Fatalf("expected EXECUTION_ERROR wrapping the cause, got %v", err)
		}
	})

	t.Run("no runtime", func(t *testing.T) {
		reg, _ := newTestRegistry(t, nil)
		id, err := reg.Workflows.Register(ctx, singleTaskWorkflow())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := reg.Workflows.Execute(ctx, id, nil); rerrors.CodeOf(err) != rerrors.CodeExecution {
			t.Fatalf("expected EXECUTION_ERROR, got %v", err)
		}
	})

	t.Run("tool not registered in this process", func(t *testing.T) {
		reg, idx := newTestRegistry(t, &recordingRuntime{})
		if _, err := reg.Tools.Register(ctx, builtin.EchoName, builtin.Echo()); err != nil {
			t.Fatal(err)
		}
		w := singleTaskWorkflow()
		w.Agents["a1"] = AgentSpec{Role: "r", Tools: []string{"Echo"}}
		id, err := reg.Workflows.Register(ctx, w)
		if err != nil {
			t.Fatal(err)
		}

		fresh, err := New(Options{Index: idx, Embedder: reg.Tools.embedder, Runtime: &recordingRuntime{}})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fresh.Workflows.Execute(ctx, id, nil); rerrors.CodeOf(err) != rerrors.CodeUnknownTool {
			t.Fatalf("expected UNKNOWN_TOOL, got %v", err)
		}
	})
}

// uuidOnlyIndex rejects point ids the way Qdrant does and counts
// retrieve attempts.
type uuidOnlyIndex struct {
	*index.Memory
	mu        sync.Mutex
	retrieves int
}

func (u *uuidOnlyIndex) Retrieve(ctx context.Context, collection string, ids []string) ([]index.Record, error) {
	u.mu.Lock()
	u.retrieves++
	u.mu.Unlock()
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return nil, errors.New("rpc error: code = InvalidArgument desc = Unable to parse UUID: " + id)
		}
	}
	return u.Memory.Retrieve(ctx, collection, ids)
}

func TestWorkflowRegistry_NonDerivedIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	strict := &uuidOnlyIndex{Memory: index.NewMemory()}
	retry := resilience.DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(2 * time.Millisecond)
	rt := &recordingRuntime{}
	reg, err := New(Options{
		Index:      index.NewGuarded(strict, resilience.NewUpstream("index", retry, 0)),
		Embedder:   embedding.NewHashing(testDim),
		Runtime:    rt,
		VectorSize: testDim,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.EnsureCollections(ctx); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"garbage", "nope", DeriveID("x") + "-extra"} {
		_, err := reg.Workflows.Execute(ctx, id, nil)
		if rerrors.CodeOf(err) != rerrors.CodeWorkflowNotFound {
			t.Fatalf("%s: expected WORKFLOW_NOT_FOUND, got %v", id, err)
		}
	}
	if strict.retrieves != 0 {
		t.Fatalf("expected no upstream retrieve, got %d", strict.retrieves)
	}
	if rt.calls != 0 {
		t.Fatalf("runtime ran %d times", rt.calls)
	}

	// Derived ids still reach the index.
	if _, err := reg.Workflows.Get(ctx, DeriveID("absent")); rerrors.CodeOf(err) != rerrors.CodeWorkflowNotFound {
		t.Fatalf("expected WORKFLOW_NOT_FOUND, got %v", err)
	}
	if strict.retrieves != 1 {
		t.Fatalf("expected one upstream retrieve, got %d", strict.retrieves)
	}
}

func TestWorkflowRegistry_AgentToolsRouteThroughRegistry(t *testing.T) {
	var seen []any
	rt := crew.RuntimeFunc(func(ctx context.Context, c crew.Crew, inputs map[string]any) (any, error) {
		for _, agent := range c.Agents {
			for _, tl := range agent.Tools {
				out, err := tl.Call(ctx, map[string]any{"text": inputs["query"]})
				if err != nil {
					return nil, err
				}
				seen = append(seen, out)
			}
		}
		return "done", nil
	})
	reg, _ := newTestRegistry(t, rt)
	ctx := context.Background()
	if _, err := reg.Tools.Register(ctx, builtin.EchoName, builtin.Echo()); err != nil {
		t.Fatal(err)
	}
	w := singleTaskWorkflow()
	w.Arguments = []string{"query"}
	w.Agents["a1"] = AgentSpec{Role: "r", Tools: []string{"Echo"}}
	id, err := reg.Workflows.Register(ctx, w)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Workflows.Execute(ctx, id, map[string]any{"query": "hello"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(seen) != 1 || seen[0] != "hello" {
		t.Fatalf("tool call did not reach the registered implementation: %v", seen)
	}
}

func TestWorkflowRegistry_AuditsExecutions(t *testing.T) {
	store := audit.NewMemory()
	rt := &recordingRuntime{result: "answer"}
	idx := newCountingIndex()
	reg, err := New(Options{Index: idx, Embedder: embedding.NewHashing(testDim), Runtime: rt, Audit: store, VectorSize: testDim})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := reg.EnsureCollections(ctx); err != nil {
		t.Fatal(err)
	}
	id, err := reg.Workflows.Register(ctx, singleTaskWorkflow())
	if err != nil {
		t.Fatal(err)
	}

	runCtx := core.WithRunID(ctx, "run-fixed")
	if _, err := reg.Workflows.Execute(runCtx, id, nil); err != nil {
		t.Fatal(err)
	}
	_, _ = reg.Workflows.Execute(ctx, id, map[string]any{"bad": 1})

	got, err := reg.Workflows.Executions(ctx, audit.Filter{WorkflowID: id})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(got))
	}
	if got[0].RunID != "run-fixed" || got[0].Status != audit.StatusSucceeded || got[0].Output != "answer" || got[0].WorkflowName != "Single" {
		t.Fatalf("unexpected success record %+v", got[0])
	}
	if got[1].Status != audit.StatusFailed || got[1].ErrorCode != string(rerrors.CodeInvalidArgument) || got[1].RunID == "" {
		t.Fatalf("unexpected failure record %+v", got[1])
	}
}

func TestWorkflowRegistry_Search(t *testing.T) {
	reg, _ := newTestRegistry(t, &recordingRuntime{})
	ctx := context.Background()
	w := singleTaskWorkflow()
	w.Arguments = []string{"query"}
	id, err := reg.Workflows.Register(ctx, w)
	if err != nil {
		t.Fatal(err)
	}
	hits, err := reg.Workflows.Search(ctx, "one agent")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != id || hits[0].Name != "Single" || !reflect.DeepEqual(hits[0].Arguments, []string{"query"}) {
		t.Fatalf("unexpected hits %+v", hits)
	}
}

func TestWorkflowRegistry_ConcurrentIdenticalRegistrations(t *testing.T) {
	reg, _ := newTestRegistry(t, &recordingRuntime{})
	var wg sync.WaitGroup
	ids := make([]string, 6)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := reg.Workflows.Register(context.Background(), singleTaskWorkflow())
			if err != nil {
				t.Errorf("register: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("ids differ: %v", ids)
		}
	}
	records, err := reg.Workflows.List(context.Background())
	if err != nil || len(records) != 1 {
		t.Fatalf("expected one stored workflow, got %d (%v)", len(records), err)
	}
}
