// Package config loads agentreg settings from defaults, a YAML file,
// AGENTREG_ environment variables and --set overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AGENTREG_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	Qdrant    QdrantConfig    `koanf:"qdrant"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	LLM       LLMConfig       `koanf:"llm"`
	Registry  RegistryConfig  `koanf:"registry"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Audit     AuditConfig     `koanf:"audit"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// URL is where CLI commands reach a running server.
	URL string `koanf:"url"`
}

// QdrantConfig selects the vector index. When disabled an in-process index
// is used and nothing survives a restart.
type QdrantConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	APIKey         string `koanf:"api_key"`
	UseTLS         bool   `koanf:"use_tls"`
	MaxRecvMsgSize int    `koanf:"max_recv_msg_size"`
}

type EmbeddingConfig struct {
	Provider   string      `koanf:"provider"` // hashing, ollama, openai
	Model      string      `koanf:"model"`
	BaseURL    string      `koanf:"base_url"`
	APIKey     string      `koanf:"api_key"`
	Dimensions int         `koanf:"dimensions"`
	Cache      CacheConfig `koanf:"cache"`
}

// CacheConfig enables the Redis embedding cache.
type CacheConfig struct {
	Enabled    bool   `koanf:"enabled"`
	RedisAddr  string `koanf:"redis_addr"`
	Prefix     string `koanf:"prefix"`
	TTLSeconds int    `koanf:"ttl_seconds"`
}

func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

type LLMConfig struct {
	Provider      string  `koanf:"provider"` // ollama, openai, anthropic, mock
	Model         string  `koanf:"model"`
	BaseURL       string  `koanf:"base_url"`
	APIKey        string  `koanf:"api_key"`
	Temperature   float64 `koanf:"temperature"`
	MaxIterations int     `koanf:"max_iterations"`
}

type RegistryConfig struct {
	VectorSize          int         `koanf:"vector_size"`
	Distance            string      `koanf:"distance"`
	ToolsCollection     string      `koanf:"tools_collection"`
	WorkflowsCollection string      `koanf:"workflows_collection"`
	SearchLimit         int         `koanf:"search_limit"`
	Retry               RetryConfig `koanf:"retry"`
	// TimeoutSeconds bounds each embedding or index call; zero disables it.
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

func (c RegistryConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

type RetryConfig struct {
	MaxAttempts    int `koanf:"max_attempts"`
	InitialDelayMs int `koanf:"initial_delay_ms"`
	MaxDelayMs     int `koanf:"max_delay_ms"`
}

type TelemetryConfig struct {
	Exporter              string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint          string `koanf:"otlp_endpoint"`
	OTLPInsecure          bool   `koanf:"otlp_insecure"`
	MetricIntervalSeconds int    `koanf:"metric_interval_seconds"`
}

type AuditConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite
	Path   string `koanf:"path"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
	// Export mounts the registry's tools as an MCP endpoint at /mcp.
	Export bool `koanf:"export"`
}

type MCPServerConfig struct {
	Transport string   `koanf:"transport"` // stdio, http
	Command   string   `koanf:"command"`
	Args      []string `koanf:"args"`
	Env       []string `koanf:"env"`
	URL       string   `koanf:"url"`
	Prefix    string   `koanf:"prefix"`
}

var defaults = map[string]any{
	"log.level":                       "info",
	"log.format":                      "text",
	"server.addr":                     ":8080",
	"server.url":                      "http://localhost:8080",
	"qdrant.enabled":                  false,
	"qdrant.host":                     "localhost",
	"qdrant.port":                     6334,
	"embedding.provider":              "hashing",
	"embedding.model":                 "nomic-embed-text",
	"embedding.base_url":              "http://localhost:11434",
	"embedding.cache.enabled":         false,
	"embedding.cache.redis_addr":      "localhost:6379",
	"embedding.cache.prefix":          "agentreg:embedding",
	"embedding.cache.ttl_seconds":     0,
	"llm.provider":                    "ollama",
	"llm.model":                       "qwen2.5-coder:7b-instruct-q5_K_M",
	"llm.base_url":                    "http://localhost:11434",
	"llm.max_iterations":              5,
	"registry.vector_size":            1536,
	"registry.distance":               "cosine",
	"registry.tools_collection":       "tools",
	"registry.workflows_collection":   "agents",
	"registry.search_limit":           5,
	"registry.retry.max_attempts":     3,
	"registry.retry.initial_delay_ms": 100,
	"registry.retry.max_delay_ms":     5000,
	"registry.timeout_seconds":        30,
	"telemetry.exporter":              "none",
	"telemetry.otlp_insecure":         true,
	"audit.driver":                    "memory",
	"audit.path":                      "agentreg.db",
}

// Load reads defaults, the YAML file at path (optional) and the environment.
func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile is Load plus a profile overlay: for config.yaml and
// profile dev, config.dev.yaml is merged on top when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	k, err := load(path, profile)
	if err != nil {
		return nil, err
	}
	return unmarshal(k)
}

// LoadWithCLI loads configuration honoring --config, --profile (or --env)
// and repeated --set key=value flags. --set wins over every other source.
func LoadWithCLI(args []string) (*Config, error) {
	cli, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	k, err := load(cli.ConfigPath, cli.Profile)
	if err != nil {
		return nil, err
	}
	for _, o := range cli.Sets {
		if err := k.Set(o.Key, o.Value); err != nil {
			return nil, fmt.Errorf("config: --set %s: %w", o.Key, err)
		}
	}
	return unmarshal(k)
}

func load(path, profile string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
		if overlay := profileConfigPath(path, profile); overlay != "" {
			if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: %s: %w", overlay, err)
			}
		}
	}

	// AGENTREG_LLM_PROVIDER -> llm.provider; a double underscore keeps a
	// literal one, so AGENTREG_LLM_BASE__URL -> llm.base_url.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	return k, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	s = strings.ReplaceAll(s, "__", "\x00")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "\x00", "_")
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if !oneOf(c.Embedding.Provider, "hashing", "ollama", "openai") {
		return fmt.Errorf("config: unknown embedding.provider %q", c.Embedding.Provider)
	}
	if !oneOf(c.LLM.Provider, "ollama", "openai", "anthropic", "mock") {
		return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	if !oneOf(c.Audit.Driver, "memory", "sqlite") {
		return fmt.Errorf("config: unknown audit.driver %q", c.Audit.Driver)
	}
	if !oneOf(c.Telemetry.Exporter, "none", "stdout", "otlp") {
		return fmt.Errorf("config: unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}
	if c.Registry.VectorSize <= 0 {
		return fmt.Errorf("config: registry.vector_size must be positive")
	}
	for name, s := range c.MCP.Servers {
		switch s.Transport {
		case "", "stdio":
			if s.Command == "" {
				return fmt.Errorf("config: mcp.servers.%s needs a command", name)
			}
		case "http":
			if s.URL == "" {
				return fmt.Errorf("config: mcp.servers.%s needs a url", name)
			}
		default:
			return fmt.Errorf("config: mcp.servers.%s: unknown transport %q", name, s.Transport)
		}
	}
	return nil
}

func oneOf(v string, valid ...string) bool {
	for _, s := range valid {
		if v == s {
			return true
		}
	}
	return false
}

func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

type override struct {
	Key   string
	Value any
}

type cliArgs struct {
	ConfigPath string
	Profile    string
	Sets       []override
}

// parseCLIOverrides extracts the configuration flags from args and ignores
// everything else. JSON object and array values are decoded so whole
// sections can be set at once.
func parseCLIOverrides(args []string) (cliArgs, error) {
	var out cliArgs
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return cliArgs{}, fmt.Errorf("config: %s needs a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			out.ConfigPath = value
		case "--profile", "--env":
			out.Profile = value
		case "--set":
			o, err := parseSet(value)
			if err != nil {
				return cliArgs{}, err
			}
			out.Sets = append(out.Sets, o)
		}
	}
	return out, nil
}

func parseSet(raw string) (override, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return override{}, fmt.Errorf("config: --set expects key=value, got %q", raw)
	}
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return override{}, fmt.Errorf("config: --set %s: %w", key, err)
		}
		return override{Key: key, Value: decoded}, nil
	}
	return override{Key: key, Value: value}, nil
}
