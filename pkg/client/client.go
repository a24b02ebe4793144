// Package client is a typed HTTP client for the registry server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Keiii25/lean-formal-agent/pkg/audit"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
	"github.com/Keiii25/lean-formal-agent/pkg/index"
	"github.com/Keiii25/lean-formal-agent/pkg/registry"
	"github.com/Keiii25/lean-formal-agent/pkg/server"
	"github.com/Keiii25/lean-formal-agent/pkg/tool"
)

// Client talks to one registry server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a client for baseURL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// SearchTools returns the tools most similar to query.
func (c *Client) SearchTools(ctx context.Context, query string) ([]registry.ToolHit, error) {
	var out []registry.ToolHit
	err := c.do(ctx, http.MethodGet, "/tool_search?query="+url.QueryEscape(query), nil, &out)
	return out, err
}

// ListTools returns every stored tool record.
func (c *Client) ListTools(ctx context.Context) ([]index.Record, error) {
	var out []index.Record
	err := c.do(ctx, http.MethodGet, "/tools", nil, &out)
	return out, err
}

// GetTool returns the descriptor of a tool registered in the server process.
func (c *Client) GetTool(ctx context.Context, id string) (tool.Descriptor, error) {
	var out tool.Descriptor
	err := c.do(ctx, http.MethodGet, "/tools/"+url.PathEscape(id), nil, &out)
	return out, err
}

// InvokeTool runs a tool and returns its output.
func (c *Client) InvokeTool(ctx context.Context, id string, args map[string]any) (any, error) {
	var out server.InvokeResponse
	if err := c.do(ctx, http.MethodPost, "/tools/"+url.PathEscape(id)+"/invoke", args, &out); err != nil {
		return nil, err
	}
	return out.Response, nil
}

// SaveWorkflow registers w and returns its id.
func (c *Client) SaveWorkflow(ctx context.Context, w registry.Workflow) (string, error) {
	var out server.SaveResponse
	if err := c.do(ctx, http.MethodPost, "/save_agent", w, &out); err != nil {
		return "", err
	}
	return out.AgentID, nil
}

// SearchWorkflows returns the workflows most similar to query.
func (c *Client) SearchWorkflows(ctx context.Context, query string) ([]registry.WorkflowHit, error) {
	var out []registry.WorkflowHit
	err := c.do(ctx, http.MethodGet, "/agent_search?query="+url.QueryEscape(query), nil, &out)
	return out, err
}

// ListWorkflows returns every stored workflow record.
func (c *Client) ListWorkflows(ctx context.Context) ([]index.Record, error) {
	var out []index.Record
	err := c.do(ctx, http.MethodGet, "/agents", nil, &out)
	return out, err
}

// GetWorkflow returns a stored workflow.
func (c *Client) GetWorkflow(ctx context.Context, id string) (registry.Workflow, error) {
	var out registry.Workflow
	err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(id), nil, &out)
	return out, err
}

// RunWorkflow executes a stored workflow.
func (c *Client) RunWorkflow(ctx context.Context, id string, args map[string]any) (server.InvokeResponse, error) {
	var out server.InvokeResponse
	err := c.do(ctx, http.MethodPost, "/agent_call?agent_id="+url.QueryEscape(id), args, &out)
	return out, err
}

// Executions lists recorded workflow executions.
func (c *Client) Executions(ctx context.Context, filter audit.Filter) ([]audit.Execution, error) {
	q := url.Values{}
	if filter.WorkflowID != "" {
		q.Set("workflow_id", filter.WorkflowID)
	}
	if filter.RunID != "" {
		q.Set("run_id", filter.RunID)
	}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/executions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []audit.Execution
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Health returns the server health report.
func (c *Client) Health(ctx context.Context) (server.HealthResponse, error) {
	var out server.HealthResponse
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.New(errors.CodeMalformedRequest, "request is not JSON encodable", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http().Do(req)
	if err != nil {
		return errors.New(errors.CodeUpstreamUnavailable, "registry server unreachable", err).
			WithContext("url", c.BaseURL)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New(errors.CodeUpstreamUnavailable, "registry response could not be read", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(errors.CodeInternal, "registry response is not valid JSON", err)
	}
	return nil
}

// decodeError rebuilds the server's RegistryError from an error body.
func decodeError(status int, data []byte) error {
	var doc struct {
		Error *struct {
			Code        errors.ErrorCode `json:"code"`
			Message     string           `json:"message"`
			Cause       string           `json:"cause"`
			Context     map[string]any   `json:"context"`
			Recoverable bool             `json:"recoverable"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc.Error == nil {
		return errors.Newf(errors.CodeInternal, "registry returned status %d", status).
			WithContext("body", string(data))
	}
	var cause error
	if doc.Error.Cause != "" {
		cause = fmt.Errorf("%s", doc.Error.Cause)
	}
	re := errors.New(doc.Error.Code, doc.Error.Message, cause).WithRecoverable(doc.Error.Recoverable)
	for k, v := range doc.Error.Context {
		re.WithContext(k, v)
	}
	re.StatusCode = status
	return re
}

func (c *Client) http() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
