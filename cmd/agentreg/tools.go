package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/Keiii25/lean-formal-agent/pkg/client"
	"github.com/Keiii25/lean-formal-agent/pkg/config"
	"github.com/Keiii25/lean-formal-agent/pkg/index"
	"github.com/Keiii25/lean-formal-agent/pkg/registry"
)

type toolInvokeResult struct {
	ToolID string `json:"tool_id"`
	Output any    `json:"output"`
}

func runTools(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("tools requires a subcommand: search, list, show, invoke"))
	}
	c, ctx, cancel := newClient(ctx, global, cfg)
	defer cancel()

	switch args[0] {
	case "search":
		query := strings.TrimSpace(strings.Join(args[1:], " "))
		if query == "" {
			fail(NewInvalidArgumentError("query", "tools search needs a query"), global.JSON)
		}
		hits, err := c.SearchTools(ctx, query)
		if err != nil {
			fail(err, global.JSON)
		}
		if global.JSON {
			printJSON(hits)
			return
		}
		w := newTabWriter()
		writeRow(w, "SCORE", "TOOL", "ID", "DESCRIPTION")
		for _, h := range hits {
			writeRow(w, fmt.Sprintf("%.3f", h.Score), h.ClassName, h.ToolID, truncateMessage(h.Description, 60))
		}
		_ = w.Flush()
	case "list":
		ensureNoArgs(args[1:])
		records, err := c.ListTools(ctx)
		if err != nil {
			fail(err, global.JSON)
		}
		sortRecords(records, "id")
		if global.JSON {
			printJSON(records)
			return
		}
		w := newTabWriter()
		writeRow(w, "TOOL", "ID", "DESCRIPTION")
		for _, r := range records {
			writeRow(w, payloadString(r, "id"), r.ID, truncateMessage(payloadString(r, "description"), 60))
		}
		_ = w.Flush()
	case "show":
		if len(args) != 2 {
			fatal(fmt.Errorf("usage: agentreg tools show <id|identifier>"))
		}
		id, err := resolveTool(ctx, c, args[1])
		if err != nil {
			fail(err, global.JSON)
		}
		desc, err := c.GetTool(ctx, id)
		if err != nil {
			fail(err, global.JSON)
		}
		if global.JSON {
			printJSON(desc)
			return
		}
		fmt.Printf("Tool:        %s\n", desc.ClassName)
		fmt.Printf("ID:          %s\n", desc.ToolID)
		fmt.Printf("Description: %s\n", desc.Description)
		if len(desc.Schema.Properties) > 0 {
			fmt.Println("Arguments:")
			required := map[string]bool{}
			for _, name := range desc.Schema.Required {
				required[name] = true
			}
			w := newTabWriter()
			writeRow(w, "  NAME", "TYPE", "REQUIRED", "DESCRIPTION")
			for _, p := range desc.Schema.Properties {
				writeRow(w, "  "+p.Name, p.Type, fmt.Sprint(required[p.Name]), p.Description)
			}
			_ = w.Flush()
		}
	case "invoke":
		runToolInvoke(ctx, global, c, args[1:])
	default:
		fatal(fmt.Errorf("unknown tools subcommand %q", args[0]))
	}
}

func runToolInvoke(ctx context.Context, global globalFlags, c *client.Client, args []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fatal(fmt.Errorf("usage: agentreg tools invoke <id|identifier> [--arg key=value]... [--args <json>]"))
	}
	ref := args[0]
	fs := flag.NewFlagSet("tools invoke", flag.ContinueOnError)
	var pairs multiFlag
	fs.Var(&pairs, "arg", "Argument as key=value (repeatable)")
	rawJSON := fs.String("args", "", "Arguments as a JSON object")
	if err := fs.Parse(args[1:]); err != nil {
		fatal(err)
	}
	ensureNoArgs(fs.Args())

	callArgs, err := parseArgs(*rawJSON, pairs)
	if err != nil {
		fail(err, global.JSON)
	}
	id, err := resolveTool(ctx, c, ref)
	if err != nil {
		fail(err, global.JSON)
	}
	out, err := c.InvokeTool(ctx, id, callArgs)
	if err != nil {
		fail(err, global.JSON)
	}
	if global.JSON {
		printJSON(toolInvokeResult{ToolID: id, Output: out})
		return
	}
	fmt.Println(formatValue(out))
}

// resolveTool accepts a derived id as is and looks an identifier up in the
// server's tool listing.
func resolveTool(ctx context.Context, c *client.Client, ref string) (string, error) {
	if registry.IsDerivedID(ref) {
		return ref, nil
	}
	records, err := c.ListTools(ctx)
	if err != nil {
		return "", err
	}
	if id, ok := findRecord(records, "id", ref); ok {
		return id, nil
	}
	return "", NewNotFoundError("tool", ref)
}

func findRecord(records []index.Record, key, value string) (string, bool) {
	for _, r := range records {
		if payloadString(r, key) == value {
			return r.ID, true
		}
	}
	return "", false
}

func payloadString(r index.Record, key string) string {
	s, _ := r.Payload[key].(string)
	return s
}

func sortRecords(records []index.Record, key string) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := payloadString(records[i], key), payloadString(records[j], key)
		if a != b {
			return a < b
		}
		return records[i].ID < records[j].ID
	})
}
