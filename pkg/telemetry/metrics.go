// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// RegistryMetrics counts registry operations and failures. A nil
// *RegistryMetrics records nothing.
type RegistryMetrics struct {
	toolRegistrations     metric.Int64Counter
	toolInvocations       metric.Int64Counter
	workflowRegistrations metric.Int64Counter
	workflowExecutions    metric.Int64Counter
	searches              metric.Int64Counter
	errorCounter          metric.Int64Counter
	duration              metric.Float64Histogram
}

// NewRegistryMetrics creates the registry instruments on the global meter
// provider.
func NewRegistryMetrics() (*RegistryMetrics, error) {
	return NewRegistryMetricsWithMeter(otel.Meter("agentreg/registry"))
}

// NewRegistryMetricsWithMeter creates the registry instruments on meter.
func NewRegistryMetricsWithMeter(meter metric.Meter) (*RegistryMetrics, error) {
	var (
		m   RegistryMetrics
		err error
	)
	if m.toolRegistrations, err = meter.Int64Counter("agentreg.tools.registered",
		metric.WithDescription("Tools registered")); err != nil {
		return nil, err
	}
	if m.toolInvocations, err = meter.Int64Counter("agentreg.tools.invocations",
		metric.WithDescription("Tool invocations by outcome")); err != nil {
		return nil, err
	}
	if m.workflowRegistrations, err = meter.Int64Counter("agentreg.workflows.registered",
		metric.WithDescription("Workflow registrations")); err != nil {
		return nil, err
	}
	if m.workflowExecutions, err = meter.Int64Counter("agentreg.workflows.executions",
		metric.WithDescription("Workflow executions by outcome")); err != nil {
		return nil, err
	}
	if m.searches, err = meter.Int64Counter("agentreg.search.requests",
		metric.WithDescription("Semantic searches by collection")); err != nil {
		return nil, err
	}
	if m.errorCounter, err = meter.Int64Counter("agentreg.errors.total",
		metric.WithDescription("Errors by code and operation")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("agentreg.operation.duration_ms",
		metric.WithDescription("Registry operation latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

// ToolRegistered counts a successful tool registration.
func (m *RegistryMetrics) ToolRegistered(ctx context.Context, name string) {
	if m == nil {
		return
	}
	m.toolRegistrations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrToolName, name)))
}

// ToolInvoked counts a tool invocation.
func (m *RegistryMetrics) ToolInvoked(ctx context.Context, name string, err error) {
	if m == nil {
		return
	}
	m.toolInvocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolName, name),
		attribute.String("outcome", outcome(err)),
	))
}

// WorkflowRegistered counts a successful workflow registration.
func (m *RegistryMetrics) WorkflowRegistered(ctx context.Context) {
	if m == nil {
		return
	}
	m.workflowRegistrations.Add(ctx, 1)
}

// WorkflowExecuted counts a workflow execution.
func (m *RegistryMetrics) WorkflowExecuted(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.workflowExecutions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
}

// Searched counts a semantic search.
func (m *RegistryMetrics) Searched(ctx context.Context, collection string) {
	if m == nil {
		return
	}
	m.searches.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrIndexCollection, collection)))
}

// RecordError counts err under its registry code.
func (m *RegistryMetrics) RecordError(ctx context.Context, err error, operation string) {
	if m == nil || err == nil {
		return
	}
	recoverable := "false"
	if re, ok := errors.As(err); ok {
		recoverable = re.RecoverableString()
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(errors.CodeOf(err))),
		attribute.String("operation", operation),
		attribute.String("recoverable", recoverable),
	))
}

// ObserveDuration records how long operation took since start.
func (m *RegistryMetrics) ObserveDuration(ctx context.Context, operation string, start time.Time) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(attribute.String("operation", operation)))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
