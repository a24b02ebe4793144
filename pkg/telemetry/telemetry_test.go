// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetup_None(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "agentreg-test", Exporter: "none"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestSetup_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := Setup(ctx, Config{Exporter: "zipkin"}); err == nil {
		t.Errorf("expected unknown exporter error")
	}
	if _, err := Setup(ctx, Config{Exporter: "otlp"}); err == nil {
		t.Errorf("expected missing endpoint error")
	}
}

func TestSetup_Stdout(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "agentreg-test", Version: "v0.0.1", Exporter: "stdout"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestLogger_InjectsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "json")

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "registry.tool.registered")
	span.End()

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("expected trace_id in %v", entry)
	}
	if entry["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("expected span_id in %v", entry)
	}
}

func TestLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "msg=kept") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(out, "trace_id") {
		t.Fatalf("no trace ids expected without a span: %q", out)
	}
}
