package config

import (
	"path/filepath"
	"testing"
)

func TestLoadWithCLIOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.json", `{
  "llm": {"provider": "ollama", "model": "model-a"},
  "telemetry": {"exporter": "stdout"}
}`)
	t.Setenv("AGENTREG_LLM_PROVIDER", "openai")

	cfg, err := LoadWithCLI([]string{
		"serve",
		"--config", path,
		"--set", "llm.provider=mock",
		"--set", "qdrant.enabled=true",
		"--set", "telemetry.metric_interval_seconds=12",
		"--set=registry.search_limit=8",
		`--set`, `mcp.servers={"demo":{"transport":"http","url":"http://localhost:8080/mcp"}}`,
		"--json",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Fatalf("expected cli override provider, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "model-a" {
		t.Fatalf("expected file model, got %s", cfg.LLM.Model)
	}
	if !cfg.Qdrant.Enabled {
		t.Fatalf("expected qdrant.enabled=true")
	}
	if cfg.Telemetry.Exporter != "stdout" || cfg.Telemetry.MetricIntervalSeconds != 12 {
		t.Fatalf("unexpected telemetry %+v", cfg.Telemetry)
	}
	if cfg.Registry.SearchLimit != 8 {
		t.Fatalf("expected search limit override, got %d", cfg.Registry.SearchLimit)
	}
	server, ok := cfg.MCP.Servers["demo"]
	if !ok || server.URL != "http://localhost:8080/mcp" || server.Transport != "http" {
		t.Fatalf("unexpected MCP servers %+v", cfg.MCP.Servers)
	}
}

func TestLoadWithCLIProfile(t *testing.T) {
	tmpDir := t.TempDir()
	basePath := writeFile(t, tmpDir, "config.yaml", "llm:\n  provider: \"ollama\"\n")
	writeFile(t, tmpDir, "config.dev.yaml", "llm:\n  provider: \"mock\"\n")

	tests := []struct {
		name string
		args []string
	}{
		{"profile flag", []string{"--config", basePath, "--profile", "dev"}},
		{"env flag alias", []string{"--config", basePath, "--env", "dev"}},
		{"profile with equals", []string{"--config=" + basePath, "--profile=dev"}},
		{"env with equals", []string{"--config=" + basePath, "--env=dev"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithCLI(tc.args)
			if err != nil {
				t.Fatalf("LoadWithCLI failed: %v", err)
			}
			if cfg.LLM.Provider != "mock" {
				t.Errorf("provider: got %s, want mock", cfg.LLM.Provider)
			}
		})
	}
}

func TestLoadWithCLI_InvalidOverride(t *testing.T) {
	if _, err := LoadWithCLI([]string{"--set", "audit.driver=postgres"}); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := LoadWithCLI([]string{"--set", `mcp.servers={"demo":`}); err == nil {
		t.Fatalf("expected error for malformed JSON value")
	}
	if _, err := LoadWithCLI([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	if _, err := parseCLIOverrides([]string{"--config"}); err == nil {
		t.Fatalf("expected error for missing --config value")
	}
	if _, err := parseCLIOverrides([]string{"--set"}); err == nil {
		t.Fatalf("expected error for missing --set value")
	}
	if _, err := parseCLIOverrides([]string{"--set", "invalid"}); err == nil {
		t.Fatalf("expected error for invalid --set value")
	}
	if _, err := parseCLIOverrides([]string{"--set", "=value"}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestParseCLIOverrides(t *testing.T) {
	cli, err := parseCLIOverrides([]string{"tools", "search", "--config=a.yaml", "--set", "log.level=debug", "--server", "http://x", "query"})
	if err != nil {
		t.Fatalf("parseCLIOverrides: %v", err)
	}
	if cli.ConfigPath != "a.yaml" || cli.Profile != "" {
		t.Fatalf("unexpected parse %+v", cli)
	}
	if len(cli.Sets) != 1 || cli.Sets[0].Key != "log.level" || cli.Sets[0].Value != "debug" {
		t.Fatalf("unexpected sets %+v", cli.Sets)
	}
}
