// Package mcp connects the registry to Model Context Protocol servers:
// remote tools are imported as registry tools and registry tools are
// exported over MCP.
package mcp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Keiii25/lean-formal-agent/pkg/resilience"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultRetries  = 2
	defaultBackoff  = 200 * time.Millisecond
	defaultCacheTTL = 30 * time.Second

	clientName    = "agentreg"
	clientVersion = "0.1.0"
)

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry configures retry count and initial backoff.
func WithRetry(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retry = c.retry.WithMaxAttempts(retries + 1)
		}
		if backoff > 0 {
			c.retry = c.retry.WithInitialDelay(backoff)
		}
	}
}

// WithToolCacheTTL sets how long a tool listing is reused. Zero disables
// caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client is an initialized connection to one MCP server.
type Client struct {
	mcpClient client.MCPClient
	timeout   time.Duration
	retry     resilience.RetryConfig
	cacheTTL  time.Duration

	mu          sync.Mutex
	toolsCache  []mcp.Tool
	cacheExpiry time.Time
}

// NewClient wraps an already initialized MCP client.
func NewClient(c client.MCPClient, opts ...ClientOption) *Client {
	out := &Client{
		mcpClient: c,
		timeout:   defaultTimeout,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(defaultRetries + 1).
			WithInitialDelay(defaultBackoff).
			WithIsRecoverable(isRetryable),
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(out)
	}
	return out
}

// NewClientWithStdio starts command and connects to it over stdio.
func NewClientWithStdio(ctx context.Context, command string, args []string, env []string, opts ...ClientOption) (*Client, error) {
	stdioClient, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, err
	}
	return initialize(ctx, stdioClient, mcp.LATEST_PROTOCOL_VERSION, opts...)
}

// NewClientWithStreamableHTTP connects to an MCP server over streamable
// HTTP.
func NewClientWithStreamableHTTP(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	httpClient, err := client.NewStreamableHttpClient(url)
	if err != nil {
		return nil, err
	}
	if err := httpClient.Start(ctx); err != nil {
		return nil, err
	}
	return initialize(ctx, httpClient, mcp.LATEST_PROTOCOL_VERSION, opts...)
}

func initialize(ctx context.Context, c *client.Client, protocolVersion string, opts ...ClientOption) (*Client, error) {
	initCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = protocolVersion
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(initCtx, req); err != nil {
		_ = c.Close()
		return nil, err
	}
	return NewClient(c, opts...), nil
}

// ListTools returns the tools the server offers.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}
	resp, err := resilience.DoValue(ctx, c.retry, func() (*mcp.ListToolsResult, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		return c.mcpClient.ListTools(reqCtx, mcp.ListToolsRequest{})
	})
	if err != nil {
		return nil, err
	}
	c.storeTools(resp.Tools)
	return resp.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	return resilience.DoValue(ctx, c.retry, func() (*mcp.CallToolResult, error) {
		reqCtx, cancel := c.withTimeout(ctx)
		defer cancel()
		return c.mcpClient.CallTool(reqCtx, req)
	})
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.mcpClient.Close()
}

func (c *Client) cachedTools() []mcp.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toolsCache) == 0 || time.Now().After(c.cacheExpiry) {
		return nil
	}
	out := make([]mcp.Tool, len(c.toolsCache))
	copy(out, c.toolsCache)
	return out
}

func (c *Client) storeTools(tools []mcp.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = make([]mcp.Tool, len(tools))
	copy(c.toolsCache, tools)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// isRetryable retries transport errors but not expired or canceled calls.
func isRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
