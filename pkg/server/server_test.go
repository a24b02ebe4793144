package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Keiii25/lean-formal-agent/pkg/audit"
	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/crew"
	"github.com/Keiii25/lean-formal-agent/pkg/embedding"
	"github.com/Keiii25/lean-formal-agent/pkg/index"
	"github.com/Keiii25/lean-formal-agent/pkg/registry"
	"github.com/Keiii25/lean-formal-agent/pkg/tool/builtin"
)

const (
	echoID = "78bab599-e789-58ec-88b9-f6bcc7aaa659"

	mathWorkflow = `{
  "name": "Math Solver Agent",
  "description": "Solves math problems",
  "arguments": ["query"],
  "agents": {"solver": {"role": "Solver", "goal": "Solve {query}", "backstory": "Good at math", "agent_tools": ["Echo"]}},
  "tasks": {"solve": {"description": "Solve {query}", "expected_output": "An answer", "agent": "solver"}}
}`
	mathID = "c8d50780-9377-5bbe-9b09-ed1881c7d4f8"
)

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	rt := crew.RuntimeFunc(func(ctx context.Context, c crew.Crew, inputs map[string]any) (any, error) {
		out, err := c.Agents[0].Tools[0].Call(ctx, map[string]any{"text": inputs["query"]})
		if err != nil {
			return nil, err
		}
		return "answer: " + out.(string), nil
	})
	reg, err := registry.New(registry.Options{
		Index:      index.NewMemory(),
		Embedder:   embedding.NewHashing(32),
		Runtime:    rt,
		Audit:      audit.NewMemory(),
		VectorSize: 32,
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	ctx := context.Background()
	if err := reg.EnsureCollections(ctx); err != nil {
		t.Fatalf("EnsureCollections: %v", err)
	}
	if _, err := reg.Tools.Register(ctx, builtin.EchoName, builtin.Echo()); err != nil {
		t.Fatalf("register Echo: %v", err)
	}
	srv := httptest.NewServer(New(reg).Handler())
	t.Cleanup(srv.Close)
	return srv, reg
}

func do(t *testing.T, method, url, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var doc struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("error body %s: %v", body, err)
	}
	return doc.Error.Code
}

func TestToolRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := do(t, http.MethodGet, srv.URL+"/tool_search?query=echo", "")
	if status != http.StatusOK {
		t.Fatalf("tool_search: %d %s", status, body)
	}
	var hits []registry.ToolHit
	if err := json.Unmarshal(body, &hits); err != nil || len(hits) != 1 || hits[0].ToolID != echoID {
		t.Fatalf("unexpected hits %s (%v)", body, err)
	}

	status, body = do(t, http.MethodGet, srv.URL+"/tools", "")
	var records []index.Record
	if status != http.StatusOK || json.Unmarshal(body, &records) != nil || len(records) != 1 {
		t.Fatalf("tools: %d %s", status, body)
	}

	status, body = do(t, http.MethodGet, srv.URL+"/tools/"+echoID, "")
	if status != http.StatusOK || !bytes.Contains(body, []byte(`"class_name":"Echo"`)) {
		t.Fatalf("tool: %d %s", status, body)
	}

	status, body = do(t, http.MethodPost, srv.URL+"/tools/"+echoID+"/invoke", `{"text":"hi"}`)
	if status != http.StatusOK || string(body) != `{"response":"hi"}` {
		t.Fatalf("invoke: %d %s", status, body)
	}
}

func TestToolRoutes_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name, method, path, body string
		status                   int
		code                     string
	}{
		{"search without query", http.MethodGet, "/tool_search", "", 400, "MALFORMED_REQUEST"},
		{"unknown tool", http.MethodGet, "/tools/nope", "", 404, "UNKNOWN_TOOL"},
		{"invoke unknown tool", http.MethodPost, "/tools/nope/invoke", `{}`, 404, "UNKNOWN_TOOL"},
		{"arguments not an object", http.MethodPost, "/tools/" + echoID + "/invoke", `[1]`, 400, "MALFORMED_REQUEST"},
		{"tool rejects arguments", http.MethodPost, "/tools/" + echoID + "/invoke", `{}`, 502, "TOOL_EXECUTION_ERROR"},
	}
	for _, tc := range cases {
		status, body := do(t, tc.method, srv.URL+tc.path, tc.body)
		if status != tc.status {
			t.Errorf("%s: expected status %d, got %d %s", tc.name, tc.status, status, body)
			continue
		}
		if got := errorCode(t, body); got != tc.code {
			t.Errorf("%s: expected code %s, got %s", tc.name, tc.code, got)
		}
	}
}

func TestAgentRoutes(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := do(t, http.MethodPost, srv.URL+"/save_agent", mathWorkflow)
	if status != http.StatusOK || string(body) != `{"agent_id":"`+mathID+`"}` {
		t.Fatalf("save_agent: %d %s", status, body)
	}

	status, body = do(t, http.MethodGet, srv.URL+"/agent_search?query=math", "")
	var hits []registry.WorkflowHit
	if status != http.StatusOK || json.Unmarshal(body, &hits) != nil || len(hits) != 1 || hits[0].ID != mathID {
		t.Fatalf("agent_search: %d %s", status, body)
	}

	status, body = do(t, http.MethodGet, srv.URL+"/agents/"+mathID, "")
	var wf registry.Workflow
	if status != http.StatusOK || json.Unmarshal(body, &wf) != nil {
		t.Fatalf("agent: %d %s", status, body)
	}
	if tools := wf.Agents["solver"].Tools; len(tools) != 1 || tools[0] != echoID {
		t.Fatalf("expected stored tool ids, got %v", tools)
	}

	status, body = do(t, http.MethodGet, srv.URL+"/agents", "")
	if status != http.StatusOK || !bytes.Contains(body, []byte(mathID)) {
		t.Fatalf("agents: %d %s", status, body)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/agent_call?agent_id="+mathID, strings.NewReader(`{"query":"2+2"}`))
	req.Header.Set("X-Run-ID", "run-fixed")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("agent_call: %v", err)
	}
	defer resp.Body.Close()
	var out InvokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || out.Response != "answer: 2+2" || out.RunID != "run-fixed" {
		t.Fatalf("agent_call: %d %+v", resp.StatusCode, out)
	}

	status, body = do(t, http.MethodGet, srv.URL+"/executions?workflow_id="+mathID, "")
	var execs []audit.Execution
	if status != http.StatusOK || json.Unmarshal(body, &execs) != nil || len(execs) != 1 {
		t.Fatalf("executions: %d %s", status, body)
	}
	if execs[0].RunID != "run-fixed" || execs[0].Status != audit.StatusSucceeded {
		t.Fatalf("unexpected execution %+v", execs[0])
	}
}

func TestAgentRoutes_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	if status, body := do(t, http.MethodPost, srv.URL+"/save_agent", mathWorkflow); status != http.StatusOK {
		t.Fatalf("save_agent: %d %s", status, body)
	}

	cases := []struct {
		name, method, path, body string
		status                   int
		code                     string
	}{
		{"malformed workflow", http.MethodPost, "/save_agent", `{"name":`, 400, "MALFORMED_REQUEST"},
		{"unknown tool in workflow", http.MethodPost, "/save_agent", strings.Replace(mathWorkflow, `["Echo"]`, `["Search"]`, 1), 404, "UNKNOWN_TOOL"},
		{"missing workflow", http.MethodGet, "/agents/nope", "", 404, "WORKFLOW_NOT_FOUND"},
		{"call without id", http.MethodPost, "/agent_call", `{}`, 400, "MALFORMED_REQUEST"},
		{"undeclared argument", http.MethodPost, "/agent_call?agent_id=" + mathID, `{"city":"Paris"}`, 400, "INVALID_ARGUMENT"},
		{"bad limit", http.MethodGet, "/executions?limit=-1", "", 400, "MALFORMED_REQUEST"},
	}
	for _, tc := range cases {
		status, body := do(t, tc.method, srv.URL+tc.path, tc.body)
		if status != tc.status {
			t.Errorf("%s: expected status %d, got %d %s", tc.name, tc.status, status, body)
			continue
		}
		if got := errorCode(t, body); got != tc.code {
			t.Errorf("%s: expected code %s, got %s", tc.name, tc.code, got)
		}
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	var health HealthResponse
	if status != http.StatusOK || json.Unmarshal(body, &health) != nil || health.Status != core.HealthHealthy {
		t.Fatalf("healthz: %d %s", status, body)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	_, reg := newTestServer(t)
	down := core.HealthCheckFunc(func(context.Context) core.HealthResult {
		return core.HealthResult{Component: "cache", Status: core.HealthUnhealthy, Message: "refused"}
	})
	srv := httptest.NewServer(New(reg, WithHealthCheck("cache", down)).Handler())
	defer srv.Close()

	status, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	if status != http.StatusServiceUnavailable || !bytes.Contains(body, []byte("refused")) {
		t.Fatalf("healthz: %d %s", status, body)
	}
}

func TestMCPHandlerMounted(t *testing.T) {
	_, reg := newTestServer(t)
	mounted := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := httptest.NewServer(New(reg, WithMCPHandler(mounted)).Handler())
	defer srv.Close()

	if status, _ := do(t, http.MethodPost, srv.URL+"/mcp", `{}`); status != http.StatusTeapot {
		t.Fatalf("expected mounted handler, got %d", status)
	}
}
