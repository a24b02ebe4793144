package dispatch

import (
	"context"
	"errors"

	"github.com/Keiii25/lean-formal-agent/pkg/tool"
)

// Message kinds served by the registry.
const (
	TypeAgentMetadata = "AGENT_METADATA"
	TypeAgentExecute  = "AGENT_EXECUTE"
)

// MetadataRequest asks for the descriptor of a registered tool.
type MetadataRequest struct {
	ToolID string `json:"tool_id"`
}

func (r *MetadataRequest) validate() error {
	if r.ToolID == "" {
		return errors.New("tool_id is required")
	}
	return nil
}

// ExecuteRequest runs a registered tool with keyword arguments.
type ExecuteRequest struct {
	Tool   tool.Descriptor `json:"tool"`
	Kwargs map[string]any  `json:"kwargs"`
}

func (r *ExecuteRequest) validate() error {
	if r.Tool.ToolID == "" {
		return errors.New("tool.tool_id is required")
	}
	return nil
}

// ExecuteResponse wraps a tool result.
type ExecuteResponse struct {
	Response any `json:"response"`
}

// ToolService is the part of the tool registry the agent handlers use.
type ToolService interface {
	Get(id string) (tool.Descriptor, error)
	Invoke(ctx context.Context, id string, args map[string]any) (any, error)
}

// New returns a dispatcher serving the agent message kinds from tools.
func New(tools ToolService) *Dispatcher {
	return NewDispatcher(map[string]Handler{
		TypeAgentMetadata: Handle(func(_ context.Context, req MetadataRequest) (tool.Descriptor, error) {
			return tools.Get(req.ToolID)
		}),
		TypeAgentExecute: Handle(func(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
			args := req.Kwargs
			if args == nil {
				args = map[string]any{}
			}
			out, err := tools.Invoke(ctx, req.Tool.ToolID, args)
			if err != nil {
				return ExecuteResponse{}, err
			}
			return ExecuteResponse{Response: out}, nil
		}),
	})
}
