// SPDX-License-Identifier: Apache-2.0

// Package anthropic implements llm.Provider on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Keiii25/lean-formal-agent/pkg/llm"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultMaxTokens = 4096
)

// Config selects the account and defaults of a Provider. An empty APIKey
// falls back to ANTHROPIC_API_KEY.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int64
}

// Provider answers crew prompts with Claude models.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Provider from cfg.
func New(cfg Config) *Provider {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	p := &Provider{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
	if p.model == "" {
		p.model = DefaultModel
	}
	if p.maxTokens <= 0 {
		p.maxTokens = DefaultMaxTokens
	}
	return p
}

// Chat implements llm.Provider. System messages are joined into the
// top-level system prompt.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = append(system, anthropic.TextBlockParam{Type: "text", Text: m.Content})
			continue
		}
		messages = append(messages, toMessage(m))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: p.maxTokens,
		Messages:  messages,
		System:    system,
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, toTool(t))
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	return fromMessage(msg), nil
}

func toMessage(m llm.Message) anthropic.MessageParam {
	switch m.Role {
	case llm.RoleAssistant:
		if len(m.ToolCalls) == 0 {
			return anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content))
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			args, err := tc.Function.DecodeArguments()
			if err != nil {
				args = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Function.Name))
		}
		return anthropic.NewAssistantMessage(blocks...)
	case llm.RoleTool:
		// Tool results travel back as user turns.
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
	default:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content))
	}
}

func toTool(t llm.Tool) anthropic.ToolUnionParam {
	var schema anthropic.ToolInputSchemaParam
	if raw, err := json.Marshal(t.Function.Parameters); err == nil {
		_ = json.Unmarshal(raw, &schema)
	}
	return anthropic.ToolUnionParam{
		OfTool: &anthropic.ToolParam{
			Name:        t.Function.Name,
			Description: anthropic.String(t.Function.Description),
			InputSchema: schema,
		},
	}
}

func fromMessage(msg *anthropic.Message) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:   block.ID,
				Type: llm.ToolTypeFunction,
				Function: llm.FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}
	return resp
}

var _ llm.Provider = (*Provider)(nil)
