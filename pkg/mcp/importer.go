package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// Transports accepted by Endpoint.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Endpoint describes one MCP server to import tools from.
type Endpoint struct {
	Name      string   `koanf:"name"`
	Transport string   `koanf:"transport"`
	Command   string   `koanf:"command"`
	Args      []string `koanf:"args"`
	Env       []string `koanf:"env"`
	URL       string   `koanf:"url"`
	// Prefix is prepended to every imported tool identifier.
	Prefix string `koanf:"prefix"`
}

// Dial connects to the endpoint.
func Dial(ctx context.Context, ep Endpoint, opts ...ClientOption) (*Client, error) {
	switch ep.Transport {
	case TransportStdio, "":
		if ep.Command == "" {
			return nil, errors.New(errors.CodeInvalidArgument, "mcp stdio endpoint needs a command", nil).
				WithContext("endpoint", ep.Name)
		}
		return NewClientWithStdio(ctx, ep.Command, ep.Args, ep.Env, opts...)
	case TransportHTTP:
		if ep.URL == "" {
			return nil, errors.New(errors.CodeInvalidArgument, "mcp http endpoint needs a url", nil).
				WithContext("endpoint", ep.Name)
		}
		return NewClientWithStreamableHTTP(ctx, ep.URL, opts...)
	default:
		return nil, errors.Newf(errors.CodeInvalidArgument, "unknown mcp transport %s", ep.Transport).
			WithContext("endpoint", ep.Name).
			WithContext("valid", []string{TransportStdio, TransportHTTP})
	}
}

// Registrar registers a tool under an identifier and returns its id.
type Registrar interface {
	Register(ctx context.Context, identifier string, impl core.Tool) (string, error)
}

// Source is a connected server whose tools should be imported.
type Source struct {
	Name   string
	Prefix string
	Client interface {
		ToolCaller
		ListTools(ctx context.Context) ([]mcp.Tool, error)
	}
}

// Imported records one tool brought in from a server.
type Imported struct {
	Server     string `json:"server"`
	Tool       string `json:"tool"`
	Identifier string `json:"identifier"`
	ID         string `json:"tool_id"`
}

// Import lists the tools of every source concurrently and registers them in
// source order. The first failure stops the import; tools registered before
// it stay registered.
func Import(ctx context.Context, reg Registrar, logger *slog.Logger, sources ...Source) ([]Imported, error) {
	if logger == nil {
		logger = slog.Default()
	}
	listed := make([][]mcp.Tool, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			tools, err := src.Client.ListTools(gctx)
			if err != nil {
				return fmt.Errorf("list tools of %s: %w", src.Name, err)
			}
			listed[i] = tools
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.New(errors.CodeUpstreamUnavailable, "mcp tool listing failed", err)
	}

	var out []Imported
	for i, src := range sources {
		for _, t := range listed[i] {
			adapter, err := NewToolAdapter(t, src.Client)
			if err != nil {
				return out, err
			}
			identifier := src.Prefix + t.Name
			id, err := reg.Register(ctx, identifier, adapter)
			if err != nil {
				return out, err
			}
			logger.Info("mcp.tool.imported",
				slog.String("server", src.Name),
				slog.String("tool", t.Name),
				slog.String("tool_id", id),
			)
			out = append(out, Imported{Server: src.Name, Tool: t.Name, Identifier: identifier, ID: id})
		}
	}
	return out, nil
}
