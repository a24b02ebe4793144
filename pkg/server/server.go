// SPDX-License-Identifier: Apache-2.0
// Package server exposes the registry over HTTP and a websocket that feeds
// the message dispatcher.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Keiii25/lean-formal-agent/pkg/audit"
	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/dispatch"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
	"github.com/Keiii25/lean-formal-agent/pkg/registry"
)

const maxBodyBytes = 1 << 20

// InvokeResponse wraps the output of a tool or workflow call.
type InvokeResponse struct {
	Response any    `json:"response"`
	RunID    string `json:"run_id,omitempty"`
}

// SaveResponse carries the id a workflow was stored under.
type SaveResponse struct {
	AgentID string `json:"agent_id"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status core.HealthStatus   `json:"status"`
	Checks []core.HealthResult `json:"checks"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMCPHandler mounts an MCP streamable HTTP endpoint at /mcp.
func WithMCPHandler(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithHealthCheck adds a component to /healthz.
func WithHealthCheck(name string, c core.HealthChecker) Option {
	return func(s *Server) { s.checks[name] = c }
}

// Server routes HTTP requests to a Registry.
type Server struct {
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	mcp        http.Handler
	checks     map[string]core.HealthChecker
}

// New builds a Server over reg. The websocket dispatcher serves reg's tools.
func New(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		reg:        reg,
		dispatcher: dispatch.New(reg.Tools),
		logger:     slog.Default(),
		checks: map[string]core.HealthChecker{
			"index": core.HealthCheckFunc(reg.Health),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tool_search", s.handleToolSearch)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("GET /tools/{id}", s.handleTool)
	mux.HandleFunc("POST /tools/{id}/invoke", s.handleToolInvoke)
	mux.HandleFunc("POST /save_agent", s.handleSaveAgent)
	mux.HandleFunc("GET /agent_search", s.handleAgentSearch)
	mux.HandleFunc("GET /agents", s.handleAgents)
	mux.HandleFunc("GET /agents/{id}", s.handleAgent)
	mux.HandleFunc("POST /agent_call", s.handleAgentCall)
	mux.HandleFunc("GET /executions", s.handleExecutions)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /agent_ws", s.handleAgentWS)
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}
	return s.logRequests(mux)
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.listen", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) handleToolSearch(w http.ResponseWriter, r *http.Request) {
	query, ok := requiredQuery(w, r, "query")
	if !ok {
		return
	}
	hits, err := s.reg.Tools.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	records, err := s.reg.Tools.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	desc, err := s.reg.Tools.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	args, ok := readArguments(w, r)
	if !ok {
		return
	}
	out, err := s.reg.Tools.Invoke(r.Context(), r.PathValue("id"), args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InvokeResponse{Response: out})
}

func (s *Server) handleSaveAgent(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	wf, err := registry.ParseWorkflow(body)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.reg.Workflows.Register(r.Context(), &wf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SaveResponse{AgentID: id})
}

func (s *Server) handleAgentSearch(w http.ResponseWriter, r *http.Request) {
	query, ok := requiredQuery(w, r, "query")
	if !ok {
		return
	}
	hits, err := s.reg.Workflows.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	records, err := s.reg.Workflows.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	wf, err := s.reg.Workflows.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleAgentCall(w http.ResponseWriter, r *http.Request) {
	id, ok := requiredQuery(w, r, "agent_id")
	if !ok {
		return
	}
	args, ok := readArguments(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if runID := r.Header.Get("X-Run-ID"); runID != "" {
		ctx = core.WithRunID(ctx, runID)
	}
	ctx, runID := core.EnsureRunID(ctx)
	out, err := s.reg.Workflows.Execute(ctx, id, args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, InvokeResponse{Response: out, RunID: runID})
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		WorkflowID: q.Get("workflow_id"),
		RunID:      q.Get("run_id"),
		Status:     q.Get("status"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, errors.New(errors.CodeMalformedRequest, "limit must be a non-negative integer", err).
				WithContext("limit", raw))
			return
		}
		filter.Limit = n
	}
	execs, err := s.reg.Workflows.Executions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if execs == nil {
		execs = []audit.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	results, status := core.CheckAll(r.Context(), s.checks)
	code := http.StatusOK
	if status == core.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{Status: status, Checks: results})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("server.request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Flush() { _ = http.NewResponseController(r.ResponseWriter).Flush() }

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func requiredQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		writeError(w, errors.Newf(errors.CodeMalformedRequest, "query parameter %s is required", name).
			WithContext("parameter", name))
		return "", false
	}
	return v, true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errors.New(errors.CodeMalformedRequest, "request body could not be read", err))
		return nil, false
	}
	return body, true
}

// readArguments decodes an optional JSON object body. An empty body means
// no arguments.
func readArguments(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body, ok := readBody(w, r)
	if !ok {
		return nil, false
	}
	if len(body) == 0 {
		return map[string]any{}, true
	}
	var args map[string]any
	if err := json.Unmarshal(body, &args); err != nil {
		writeError(w, errors.New(errors.CodeMalformedRequest, "arguments must be a JSON object", err))
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, errors.New(errors.CodeInternal, "response could not be encoded", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	re := errors.AsRegistryError(err)
	status := re.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(dispatch.EncodeError(re))
}
