package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/Keiii25/lean-formal-agent/pkg/client"
	"github.com/Keiii25/lean-formal-agent/pkg/config"
	"github.com/Keiii25/lean-formal-agent/pkg/registry"
)

type registerResult struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

func runWorkflows(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("workflows requires a subcommand: register, search, list, show, run, plan"))
	}
	// plan works on a local file and needs no server.
	if args[0] == "plan" {
		runWorkflowPlan(global, args[1:])
		return
	}

	c, ctx, cancel := newClient(ctx, global, cfg)
	defer cancel()

	switch args[0] {
	case "register":
		fs := flag.NewFlagSet("workflows register", flag.ContinueOnError)
		path := fs.String("f", "", "Workflow file (YAML or JSON)")
		if err := fs.Parse(args[1:]); err != nil {
			fatal(err)
		}
		ensureNoArgs(fs.Args())
		if *path == "" {
			fail(NewInvalidArgumentError("-f", "workflows register needs a file"), global.JSON)
		}
		w, err := registry.LoadWorkflowFile(*path)
		if err != nil {
			fail(err, global.JSON)
		}
		id, err := c.SaveWorkflow(ctx, w)
		if err != nil {
			fail(err, global.JSON)
		}
		if global.JSON {
			printJSON(registerResult{AgentID: id, Name: w.Name})
			return
		}
		fmt.Println(id)
	case "search":
		query := strings.TrimSpace(strings.Join(args[1:], " "))
		if query == "" {
			fail(NewInvalidArgumentError("query", "workflows search needs a query"), global.JSON)
		}
		hits, err := c.SearchWorkflows(ctx, query)
		if err != nil {
			fail(err, global.JSON)
		}
		if global.JSON {
			printJSON(hits)
			return
		}
		w := newTabWriter()
		writeRow(w, "SCORE", "NAME", "ID", "ARGUMENTS", "DESCRIPTION")
		for _, h := range hits {
			writeRow(w, fmt.Sprintf("%.3f", h.Score), h.Name, h.ID, strings.Join(h.Arguments, ","), truncateMessage(h.Description, 50))
		}
		_ = w.Flush()
	case "list":
		ensureNoArgs(args[1:])
		records, err := c.ListWorkflows(ctx)
		if err != nil {
			fail(err, global.JSON)
		}
		sortRecords(records, "name")
		if global.JSON {
			printJSON(records)
			return
		}
		w := newTabWriter()
		writeRow(w, "NAME", "ID", "DESCRIPTION")
		for _, r := range records {
			writeRow(w, payloadString(r, "name"), r.ID, truncateMessage(payloadString(r, "description"), 60))
		}
		_ = w.Flush()
	case "show":
		runWorkflowShow(ctx, global, c, args[1:])
	case "run":
		runWorkflowRun(ctx, global, c, args[1:])
	default:
		fatal(fmt.Errorf("unknown workflows subcommand %q", args[0]))
	}
}

func runWorkflowShow(ctx context.Context, global globalFlags, c *client.Client, args []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fatal(fmt.Errorf("usage: agentreg workflows show <id|name> [--output yaml|json]"))
	}
	ref := args[0]
	fs := flag.NewFlagSet("workflows show", flag.ContinueOnError)
	output := fs.String("output", "yaml", "Output format: yaml, json")
	if err := fs.Parse(args[1:]); err != nil {
		fatal(err)
	}
	ensureNoArgs(fs.Args())

	id, err := resolveWorkflow(ctx, c, ref)
	if err != nil {
		fail(err, global.JSON)
	}
	w, err := c.GetWorkflow(ctx, id)
	if err != nil {
		fail(err, global.JSON)
	}
	if global.JSON || *output == "json" {
		printJSON(w)
		return
	}
	if *output != "yaml" {
		fail(NewInvalidArgumentError("--output", fmt.Sprintf("unknown format %q; use yaml or json", *output)), global.JSON)
	}
	data, err := w.YAML()
	if err != nil {
		fatal(err)
	}
	fmt.Print(string(data))
}

func runWorkflowRun(ctx context.Context, global globalFlags, c *client.Client, args []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fatal(fmt.Errorf("usage: agentreg workflows run <id|name> [--arg key=value]... [--args <json>]"))
	}
	ref := args[0]
	fs := flag.NewFlagSet("workflows run", flag.ContinueOnError)
	var pairs multiFlag
	fs.Var(&pairs, "arg", "Argument as key=value (repeatable)")
	rawJSON := fs.String("args", "", "Arguments as a JSON object")
	if err := fs.Parse(args[1:]); err != nil {
		fatal(err)
	}
	ensureNoArgs(fs.Args())

	runArgs, err := parseArgs(*rawJSON, pairs)
	if err != nil {
		fail(err, global.JSON)
	}
	id, err := resolveWorkflow(ctx, c, ref)
	if err != nil {
		fail(err, global.JSON)
	}
	resp, err := c.RunWorkflow(ctx, id, runArgs)
	if err != nil {
		fail(err, global.JSON)
	}
	if global.JSON {
		printJSON(resp)
		return
	}
	fmt.Println(formatValue(resp.Response))
	if resp.RunID != "" {
		fmt.Printf("run_id: %s\n", resp.RunID)
	}
}

func runWorkflowPlan(global globalFlags, args []string) {
	fs := flag.NewFlagSet("workflows plan", flag.ContinueOnError)
	path := fs.String("f", "", "Workflow file (YAML or JSON)")
	output := fs.String("output", "levels", "Output format: levels, mermaid, dot, json")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	ensureNoArgs(fs.Args())
	if *path == "" {
		fail(NewInvalidArgumentError("-f", "workflows plan needs a file"), global.JSON)
	}

	w, err := registry.LoadWorkflowFile(*path)
	if err != nil {
		fail(err, global.JSON)
	}
	result, err := buildPlan(w, *output)
	if err != nil {
		fail(err, global.JSON)
	}
	if global.JSON || *output == "json" {
		printJSON(result)
		return
	}
	fmt.Print(result.Content)
}

// resolveWorkflow accepts a derived id as is and looks a workflow name up
// in the server's listing.
func resolveWorkflow(ctx context.Context, c *client.Client, ref string) (string, error) {
	if registry.IsDerivedID(ref) {
		return ref, nil
	}
	records, err := c.ListWorkflows(ctx)
	if err != nil {
		return "", err
	}
	sortRecords(records, "name")
	if id, ok := findRecord(records, "name", ref); ok {
		return id, nil
	}
	return "", NewNotFoundError("workflow", ref)
}
