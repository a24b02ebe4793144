// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestConfigureSlog_SetLogLevel(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := ConfigureSlog(&buf, "warn", "json")
	logger.Info("registry.tool.registered")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}

	SetLogLevel("debug")
	logger.Info("registry.tool.registered", slog.String("tool", "Echo"))
	if !strings.Contains(buf.String(), `"tool":"Echo"`) {
		t.Fatalf("expected info after level change, got %s", buf.String())
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "info", "text").Debug("hidden")
	NewLogger(&buf, "info", "text").Info("shown", slog.String("k", "v"))
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "k=v") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"chatty":  slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
