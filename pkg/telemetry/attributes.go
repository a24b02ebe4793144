// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires slog, OpenTelemetry traces and metrics for the
// registry.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span and metric attribute keys. LLM keys follow the gen_ai conventions.
const (
	AttrToolID          = "agentreg.tool.id"
	AttrToolName        = "agentreg.tool.name"
	AttrToolCallID      = "agentreg.tool.call_id"
	AttrToolArgs        = "agentreg.tool.arguments"
	AttrToolResult      = "agentreg.tool.result"
	AttrToolDurationMs  = "agentreg.tool.duration_ms"
	AttrToolSuccess     = "agentreg.tool.success"
	AttrWorkflowID      = "agentreg.workflow.id"
	AttrWorkflowName    = "agentreg.workflow.name"
	AttrRunID           = "agentreg.run.id"
	AttrTaskName        = "agentreg.task.name"
	AttrTaskAgent       = "agentreg.task.agent"
	AttrTaskStatus      = "agentreg.task.status"
	AttrIndexCollection = "agentreg.index.collection"
	AttrIndexResults    = "agentreg.index.results"
	AttrMessageType     = "agentreg.message.type"
	AttrErrorCode       = "agentreg.error.code"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMDurationMs   = "gen_ai.duration_ms"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
)

// ToolAttributes identifies a registered tool.
func ToolAttributes(id, name string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrToolID, id)}
	if name != "" {
		attrs = append(attrs, attribute.String(AttrToolName, name))
	}
	return attrs
}

// WorkflowAttributes identifies a workflow and, when known, the run.
func WorkflowAttributes(id, name, runID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrWorkflowID, id)}
	if name != "" {
		attrs = append(attrs, attribute.String(AttrWorkflowName, name))
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrRunID, runID))
	}
	return attrs
}

// TaskAttributes describes one task of a crew run.
func TaskAttributes(task, agentRole, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrTaskName, task)}
	if agentRole != "" {
		attrs = append(attrs, attribute.String(AttrTaskAgent, agentRole))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrTaskStatus, status))
	}
	return attrs
}

// IndexAttributes describes a vector index call.
func IndexAttributes(collection string, results int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrIndexCollection, collection)}
	if results >= 0 {
		attrs = append(attrs, attribute.Int(AttrIndexResults, results))
	}
	return attrs
}

// ToolCallAttributes returns attributes for a tool call span.
func ToolCallAttributes(name, callID string, durationMs float64, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolCallID, callID),
		attribute.Float64(AttrToolDurationMs, durationMs),
		attribute.Bool(AttrToolSuccess, success),
	}
}

// ToolCallArgsResult returns the tool arguments and result, truncated to maxLen.
func ToolCallArgsResult(args, result string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	attrs := []attribute.KeyValue{}
	if args != "" {
		attrs = append(attrs, attribute.String(AttrToolArgs, truncate(args, maxLen)))
	}
	if result != "" {
		attrs = append(attrs, attribute.String(AttrToolResult, truncate(result, maxLen)))
	}
	return attrs
}

// LLMAttributes returns attributes for LLM call spans.
func LLMAttributes(model, provider string, msgCount, toolCallCount int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if toolCallCount > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCallCount))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens int, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
