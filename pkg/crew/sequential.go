package crew

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
	"github.com/Keiii25/lean-formal-agent/pkg/llm"
	"github.com/Keiii25/lean-formal-agent/pkg/telemetry"
)

const defaultMaxIterations = 8

// TaskOutput is the answer an agent gave for one task.
type TaskOutput struct {
	Task   string `json:"task"`
	Agent  string `json:"agent"`
	Output string `json:"raw"`
}

// Output is the result of a sequential run. Raw is the last task's output.
type Output struct {
	Raw   string       `json:"raw"`
	Tasks []TaskOutput `json:"tasks_output"`
}

// String returns the final answer.
func (o *Output) String() string { return o.Raw }

// Sequential runs each task in order through an LLM, serving tool calls
// through the assigned agent's tools.
type Sequential struct {
	provider      llm.Provider
	model         string
	temperature   float64
	maxIterations int
	emitter       core.EventEmitter
	tracer        trace.Tracer
}

// Option configures a Sequential runtime.
type Option func(*Sequential)

// WithMaxIterations bounds the model round trips per task.
func WithMaxIterations(n int) Option {
	return func(s *Sequential) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *Sequential) { s.temperature = t }
}

// WithEventEmitter receives task and tool events.
func WithEventEmitter(e core.EventEmitter) Option {
	return func(s *Sequential) {
		if e != nil {
			s.emitter = e
		}
	}
}

// NewSequential returns a runtime backed by provider.
func NewSequential(provider llm.Provider, model string, opts ...Option) *Sequential {
	s := &Sequential{
		provider:      provider,
		model:         model,
		maxIterations: defaultMaxIterations,
		emitter:       core.NoopEventEmitter{},
		tracer:        otel.Tracer("agentreg/crew"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run implements Runtime.
func (s *Sequential) Run(ctx context.Context, c Crew, inputs map[string]any) (any, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	ctx, runID := core.EnsureRunID(ctx)
	log := slog.Default().With(slog.String("run_id", runID))

	out := &Output{}
	results := make(map[*Task]string, len(c.Tasks))
	for _, task := range c.Tasks {
		s.emitter.Emit(ctx, core.NewEvent(ctx, core.EventTaskStarted, task.Agent.Role, task.Name, nil))
		log.Info("crew.task.start", slog.String("task", task.Name), slog.String("agent", task.Agent.Role))

		answer, err := s.runTask(ctx, task, inputs, results)
		if err != nil {
			s.emitter.Emit(ctx, core.NewEvent(ctx, core.EventTaskError, task.Agent.Role, task.Name,
				map[string]any{"error": err.Error()}))
			log.Error("crew.task.error", slog.String("task", task.Name), slog.String("error", err.Error()))
			return nil, err
		}

		results[task] = answer
		out.Tasks = append(out.Tasks, TaskOutput{Task: task.Name, Agent: task.Agent.Role, Output: answer})
		out.Raw = answer
		s.emitter.Emit(ctx, core.NewEvent(ctx, core.EventTaskCompleted, task.Agent.Role, task.Name,
			map[string]any{"output": answer}))
		log.Info("crew.task.complete", slog.String("task", task.Name))
	}
	return out, nil
}

func (s *Sequential) runTask(ctx context.Context, task *Task, inputs map[string]any, results map[*Task]string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "Crew.Task", trace.WithAttributes(
		telemetry.TaskAttributes(task.Name, task.Agent.Role, "")...,
	))
	defer span.End()

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(task.Agent, inputs)},
		{Role: llm.RoleUser, Content: taskPrompt(task, inputs, results)},
	}
	tools := make([]llm.Tool, len(task.Agent.Tools))
	for i, t := range task.Agent.Tools {
		tools[i] = llm.ToolFromCore(t)
	}

	for iteration := 0; iteration < s.maxIterations; iteration++ {
		start := time.Now()
		resp, err := s.provider.Chat(ctx, llm.ChatRequest{
			Model:       s.model,
			Messages:    messages,
			Tools:       tools,
			Temperature: s.temperature,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("task %q: llm chat: %w", task.Name, err)
		}
		span.SetAttributes(telemetry.LLMAttributes(s.model, "", len(messages), len(resp.ToolCalls))...)
		span.SetAttributes(telemetry.LLMUsageAttributes(resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
			float64(time.Since(start).Milliseconds()))...)

		if len(resp.ToolCalls) == 0 {
			span.SetAttributes(telemetry.TaskAttributes(task.Name, "", "completed")...)
			return strings.TrimSpace(resp.Content), nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    s.callTool(ctx, task, call),
				ToolCallID: call.ID,
			})
		}
	}

	err := errors.Newf(errors.CodeExecution, "task %q did not finish within %d iterations", task.Name, s.maxIterations).
		WithContext("task", task.Name)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}

// callTool runs one tool call and renders the result, or the failure, as
// the tool message the model sees next.
func (s *Sequential) callTool(ctx context.Context, task *Task, call llm.ToolCall) string {
	name := call.Function.Name
	s.emitter.Emit(ctx, core.NewEvent(ctx, core.EventToolCalled, task.Agent.Role, task.Name,
		map[string]any{"tool": name, "arguments": call.Function.Arguments}))

	tool, ok := task.Agent.Tool(name)
	if !ok {
		return fmt.Sprintf("error: tool %q is not available to this agent", name)
	}
	args, err := call.Function.DecodeArguments()
	if err != nil {
		return "error: " + err.Error()
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "Crew.Tool.Call")
	result, err := tool.Call(ctx, args)
	span.SetAttributes(telemetry.ToolCallAttributes(name, call.ID, float64(time.Since(start).Milliseconds()), err == nil)...)
	if err != nil {
		span.End()
		slog.Default().Warn("crew.tool.error",
			slog.String("task", task.Name),
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
		return "error: " + err.Error()
	}
	rendered := render(result)
	span.SetAttributes(telemetry.ToolCallArgsResult(call.Function.Arguments, rendered, 0)...)
	span.End()
	return rendered
}

func systemPrompt(a *Agent, inputs map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", Interpolate(a.Role, inputs))
	if a.Backstory != "" {
		b.WriteString(" " + Interpolate(a.Backstory, inputs))
	}
	if a.Goal != "" {
		b.WriteString("\nYour personal goal is: " + Interpolate(a.Goal, inputs))
	}
	return b.String()
}

func taskPrompt(t *Task, inputs map[string]any, results map[*Task]string) string {
	var b strings.Builder
	b.WriteString(Interpolate(t.Description, inputs))
	if t.ExpectedOutput != "" {
		b.WriteString("\n\nThis is the expected criteria for your final answer: ")
		b.WriteString(Interpolate(t.ExpectedOutput, inputs))
	}
	if len(t.Context) > 0 {
		b.WriteString("\n\nThis is the context you're working with:")
		for _, dep := range t.Context {
			fmt.Fprintf(&b, "\n\n[%s]\n%s", dep.Name, results[dep])
		}
	}
	return b.String()
}

func render(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
