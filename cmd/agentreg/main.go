package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Keiii25/lean-formal-agent/pkg/client"
	"github.com/Keiii25/lean-formal-agent/pkg/config"
)

var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	ConfigPath string
	Profile    string
	ServerURL  string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fail(NewConfigError(err, global.ConfigPath), global.JSON)
	}
	if global.ServerURL != "" {
		cfg.Server.URL = global.ServerURL
	}

	cmd := args[0]
	switch cmd {
	case "serve":
		runServe(ctx, global, cfg, args[1:])
	case "tools":
		runTools(ctx, global, cfg, args[1:])
	case "workflows":
		runWorkflows(ctx, global, cfg, args[1:])
	case "executions":
		runExecutions(ctx, global, cfg, args[1:])
	case "mcp":
		runMCP(ctx, global, cfg, args[1:])
	case "backends":
		runBackends(global, cfg, args[1:])
	case "status":
		ensureNoArgs(args[1:])
		runStatus(ctx, global, cfg)
	case "help":
		printUsage()
	case "version":
		fmt.Println(version)
	default:
		fatal(fmt.Errorf("unknown command %q", cmd))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{
		ServerURL: getenv(config.EnvPrefix+"SERVER_URL", ""),
		Timeout:   30 * time.Second,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--set" || arg == "--profile":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			flags.remember(arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="),
			strings.HasPrefix(arg, "--set="),
			strings.HasPrefix(arg, "--profile="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
			name, value, _ := strings.Cut(arg, "=")
			flags.remember(name, value)
		case arg == "--server":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --server")
			}
			flags.ServerURL = args[i+1]
			i++
		case strings.HasPrefix(arg, "--server="):
			flags.ServerURL = strings.TrimPrefix(arg, "--server=")
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func (f *globalFlags) remember(name, value string) {
	switch name {
	case "--config":
		f.ConfigPath = value
	case "--profile":
		f.Profile = value
	}
}

// newClient returns an HTTP client for the configured server and a context
// bounded by --timeout.
func newClient(ctx context.Context, flags globalFlags, cfg *config.Config) (*client.Client, context.Context, context.CancelFunc) {
	ctx, cancel := withTimeout(ctx, flags.Timeout)
	return client.New(cfg.Server.URL), ctx, cancel
}

// withTimeout bounds ctx by d; a non-positive d only adds cancellation.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

type statusResult struct {
	Version   string `json:"version"`
	ServerURL string `json:"server_url"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func runStatus(ctx context.Context, flags globalFlags, cfg *config.Config) {
	c, ctx, cancel := newClient(ctx, flags, cfg)
	defer cancel()

	result := statusResult{Version: version, ServerURL: cfg.Server.URL}
	health, err := c.Health(ctx)
	if err != nil {
		result.Status = "unreachable"
		result.Error = err.Error()
	} else {
		result.Status = string(health.Status)
	}
	if flags.JSON {
		printJSON(result)
		return
	}
	w := newTabWriter()
	writeRow(w, "VERSION", "SERVER", "STATUS", "ERROR")
	writeRow(w, result.Version, result.ServerURL, result.Status, truncateMessage(result.Error, 60))
	_ = w.Flush()
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func truncateMessage(value string, limit int) string {
	value = normalizeCell(value)
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format(time.RFC3339)
}

// formatValue renders a tool or workflow result for a table cell.
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(payload)
	}
}

func printUsage() {
	fmt.Println(`agentreg: semantic registry of tools and agent workflows

Usage:
  agentreg [global flags] <command> [args]

Global flags:
  --config <path>      Path to a YAML config file
  --profile <name>     Overlay <config>.<name>.yaml
  --set key=value      Override config (repeatable)
  --server <url>       Registry server URL (default from server.url)
  --timeout <dur>      Request timeout (default 30s)
  --json               JSON output

Commands:
  serve [--addr <addr>]
  status
  tools search <query>
  tools list
  tools show <id|identifier>
  tools invoke <id|identifier> [--arg key=value]... [--args <json>]
  workflows register -f <file>
  workflows search <query>
  workflows list
  workflows show <id|name> [--output yaml|json]
  workflows run <id|name> [--arg key=value]... [--args <json>]
  workflows plan -f <file> [--output levels|mermaid|dot|json]
  executions list [--workflow <id>] [--run <id>] [--status <status>] [--limit N]
  mcp serve
  mcp list
  backends list [--type <type>]
  backends info <name>
  version`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(fmt.Errorf("unexpected args: %v", args))
	}
}

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

// parseArgs merges a JSON object with key=value pairs; pairs win. Values
// that parse as JSON keep their type, anything else is a string.
func parseArgs(rawJSON string, pairs []string) (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(rawJSON) != "" {
		if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
			return nil, NewInvalidArgumentError("--args", "must be a JSON object")
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, NewInvalidArgumentError("--arg", fmt.Sprintf("expected key=value, got %q", pair))
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			out[key] = decoded
			continue
		}
		out[key] = value
	}
	return out, nil
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
