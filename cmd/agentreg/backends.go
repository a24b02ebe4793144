// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/Keiii25/lean-formal-agent/pkg/config"
)

// Backend describes a pluggable implementation the registry can be wired to.
type Backend struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	ConfigKeys  []string `json:"config_keys,omitempty"`
	Docs        string   `json:"docs,omitempty"`

	selected func(*config.Config) bool
}

// Selected reports whether cfg wires this backend.
func (b Backend) Selected(cfg *config.Config) bool {
	return cfg != nil && b.selected != nil && b.selected(cfg)
}

var backendCatalog = []Backend{
	// Vector index
	{
		Name:        "memory-index",
		Type:        "index",
		Description: "In-process vector index (lost on restart)",
		ConfigKeys:  []string{"qdrant.enabled=false"},
		selected:    func(c *config.Config) bool { return !c.Qdrant.Enabled },
	},
	{
		Name:        "qdrant",
		Type:        "index",
		Description: "Qdrant vector database over gRPC",
		ConfigKeys:  []string{"qdrant.enabled=true", "qdrant.host", "qdrant.port", "qdrant.api_key", "qdrant.use_tls"},
		Docs:        "https://qdrant.tech/documentation",
		selected:    func(c *config.Config) bool { return c.Qdrant.Enabled },
	},

	// Embeddings
	{
		Name:        "hashing",
		Type:        "embedding",
		Description: "Deterministic feature-hashing embedder, no external service",
		ConfigKeys:  []string{"embedding.provider=hashing", "registry.vector_size"},
		selected:    func(c *config.Config) bool { return c.Embedding.Provider == "hashing" },
	},
	{
		Name:        "ollama-embed",
		Type:        "embedding",
		Description: "Ollama embeddings endpoint",
		ConfigKeys:  []string{"embedding.provider=ollama", "embedding.base_url", "embedding.model"},
		Docs:        "https://ollama.ai",
		selected:    func(c *config.Config) bool { return c.Embedding.Provider == "ollama" },
	},
	{
		Name:        "openai-embed",
		Type:        "embedding",
		Description: "OpenAI embeddings (text-embedding-3-small by default)",
		ConfigKeys:  []string{"embedding.provider=openai", "embedding.api_key", "embedding.model", "embedding.dimensions"},
		Docs:        "https://platform.openai.com/docs/guides/embeddings",
		selected:    func(c *config.Config) bool { return c.Embedding.Provider == "openai" },
	},
	{
		Name:        "redis-cache",
		Type:        "embedding",
		Description: "Redis cache in front of the embedder",
		ConfigKeys:  []string{"embedding.cache.enabled=true", "embedding.cache.redis_addr", "embedding.cache.ttl_seconds"},
		Docs:        "https://redis.io/docs",
		selected:    func(c *config.Config) bool { return c.Embedding.Cache.Enabled },
	},

	// LLM providers
	{
		Name:        "ollama",
		Type:        "llm",
		Description: "Local LLM inference with Ollama",
		ConfigKeys:  []string{"llm.provider=ollama", "llm.base_url", "llm.model"},
		Docs:        "https://ollama.ai",
		selected:    func(c *config.Config) bool { return c.LLM.Provider == "ollama" },
	},
	{
		Name:        "openai",
		Type:        "llm",
		Description: "OpenAI chat completions",
		ConfigKeys:  []string{"llm.provider=openai", "llm.api_key", "llm.model"},
		Docs:        "https://platform.openai.com/docs",
		selected:    func(c *config.Config) bool { return c.LLM.Provider == "openai" },
	},
	{
		Name:        "anthropic",
		Type:        "llm",
		Description: "Anthropic Claude messages API",
		ConfigKeys:  []string{"llm.provider=anthropic", "llm.api_key", "llm.model"},
		Docs:        "https://docs.anthropic.com",
		selected:    func(c *config.Config) bool { return c.LLM.Provider == "anthropic" },
	},
	{
		Name:        "mock",
		Type:        "llm",
		Description: "Offline provider that answers with the prompt",
		ConfigKeys:  []string{"llm.provider=mock"},
		selected:    func(c *config.Config) bool { return c.LLM.Provider == "mock" },
	},

	// Execution audit
	{
		Name:        "memory-audit",
		Type:        "audit",
		Description: "In-memory execution history",
		ConfigKeys:  []string{"audit.driver=memory"},
		selected:    func(c *config.Config) bool { return c.Audit.Driver == "memory" },
	},
	{
		Name:        "sqlite",
		Type:        "audit",
		Description: "SQLite execution history",
		ConfigKeys:  []string{"audit.driver=sqlite", "audit.path"},
		selected:    func(c *config.Config) bool { return c.Audit.Driver == "sqlite" },
	},

	// MCP
	{
		Name:        "mcp-stdio",
		Type:        "mcp",
		Description: "Import tools from an MCP server subprocess",
		ConfigKeys:  []string{"mcp.servers.<name>.transport=stdio", "mcp.servers.<name>.command", "mcp.servers.<name>.prefix"},
		Docs:        "https://modelcontextprotocol.io",
		selected:    func(c *config.Config) bool { return hasMCPTransport(c, "stdio") },
	},
	{
		Name:        "mcp-http",
		Type:        "mcp",
		Description: "Import tools from an MCP server over streamable HTTP",
		ConfigKeys:  []string{"mcp.servers.<name>.transport=http", "mcp.servers.<name>.url", "mcp.servers.<name>.prefix"},
		Docs:        "https://modelcontextprotocol.io",
		selected:    func(c *config.Config) bool { return hasMCPTransport(c, "http") },
	},
	{
		Name:        "mcp-export",
		Type:        "mcp",
		Description: "Serve registered tools as MCP at /mcp",
		ConfigKeys:  []string{"mcp.export=true"},
		Docs:        "https://modelcontextprotocol.io",
		selected:    func(c *config.Config) bool { return c.MCP.Export },
	},

	// Telemetry
	{
		Name:        "otel-stdout",
		Type:        "telemetry",
		Description: "OpenTelemetry export to stdout",
		ConfigKeys:  []string{"telemetry.exporter=stdout"},
		selected:    func(c *config.Config) bool { return c.Telemetry.Exporter == "stdout" },
	},
	{
		Name:        "otel-otlp",
		Type:        "telemetry",
		Description: "OpenTelemetry export via OTLP gRPC",
		ConfigKeys:  []string{"telemetry.exporter=otlp", "telemetry.otlp_endpoint", "telemetry.otlp_insecure"},
		selected:    func(c *config.Config) bool { return c.Telemetry.Exporter == "otlp" },
	},
}

func hasMCPTransport(c *config.Config, transport string) bool {
	for _, s := range c.MCP.Servers {
		t := s.Transport
		if t == "" {
			t = "stdio"
		}
		if t == transport {
			return true
		}
	}
	return false
}

func filterBackends(typ string) []Backend {
	if typ == "" {
		return backendCatalog
	}
	out := make([]Backend, 0)
	for _, b := range backendCatalog {
		if b.Type == typ {
			out = append(out, b)
		}
	}
	return out
}

func findBackend(name string) (Backend, bool) {
	for _, b := range backendCatalog {
		if b.Name == name {
			return b, true
		}
	}
	return Backend{}, false
}

type backendRow struct {
	Backend
	Selected bool `json:"selected"`
}

type backendsListResult struct {
	Backends []backendRow `json:"backends"`
	Total    int          `json:"total"`
}

func runBackends(global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("usage: agentreg backends <list|info> [args]"))
	}

	switch args[0] {
	case "list":
		runBackendsList(global, cfg, args[1:])
	case "info":
		runBackendsInfo(global, cfg, args[1:])
	default:
		fatal(fmt.Errorf("unknown backends subcommand %q; use list or info", args[0]))
	}
}

func runBackendsList(global globalFlags, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("backends list", flag.ContinueOnError)
	filterType := fs.String("type", "", "Filter by type: index, embedding, llm, audit, mcp, telemetry")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}

	backends := filterBackends(*filterType)
	result := backendsListResult{Total: len(backends)}
	for _, b := range backends {
		result.Backends = append(result.Backends, backendRow{Backend: b, Selected: b.Selected(cfg)})
	}

	if global.JSON {
		printJSON(result)
		return
	}
	if len(backends) == 0 {
		fmt.Println("No backends found.")
		return
	}

	w := newTabWriter()
	writeRow(w, "NAME", "TYPE", "SELECTED", "DESCRIPTION")
	for _, row := range result.Backends {
		selected := ""
		if row.Selected {
			selected = "*"
		}
		writeRow(w, row.Name, row.Type, selected, row.Description)
	}
	_ = w.Flush()

	fmt.Printf("\nTotal: %d backends\n", result.Total)
	fmt.Println("\nUse 'agentreg backends info <name>' for configuration details.")
}

func runBackendsInfo(global globalFlags, cfg *config.Config, args []string) {
	if len(args) != 1 {
		fatal(fmt.Errorf("usage: agentreg backends info <name>"))
	}

	name := args[0]
	found, ok := findBackend(name)
	if global.JSON {
		printJSON(struct {
			Backend  Backend `json:"backend"`
			Found    bool    `json:"found"`
			Selected bool    `json:"selected"`
		}{found, ok, found.Selected(cfg)})
		return
	}

	if !ok {
		fmt.Printf("Backend %q not found.\n", name)
		fmt.Println("\nAvailable backends:")
		for _, b := range backendCatalog {
			fmt.Printf("  - %s (%s)\n", b.Name, b.Type)
		}
		os.Exit(1)
	}

	fmt.Printf("Backend: %s\n", found.Name)
	fmt.Printf("Type: %s\n", found.Type)
	fmt.Printf("Description: %s\n", found.Description)
	fmt.Printf("Selected: %t\n", found.Selected(cfg))
	fmt.Println()

	if len(found.ConfigKeys) > 0 {
		fmt.Println("Configuration:")
		for _, k := range found.ConfigKeys {
			fmt.Printf("  • %s\n", k)
		}
		fmt.Println()
	}
	if found.Docs != "" {
		fmt.Printf("Documentation: %s\n", found.Docs)
	}
}
