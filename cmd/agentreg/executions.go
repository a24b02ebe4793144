package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/Keiii25/lean-formal-agent/pkg/audit"
	"github.com/Keiii25/lean-formal-agent/pkg/config"
)

func runExecutions(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(fmt.Errorf("usage: agentreg executions list [--workflow <id>] [--run <id>] [--status <status>] [--limit N]"))
	}
	fs := flag.NewFlagSet("executions list", flag.ContinueOnError)
	workflow := fs.String("workflow", "", "Filter by workflow id or name")
	runID := fs.String("run", "", "Filter by run id")
	status := fs.String("status", "", "Filter by status: succeeded, failed")
	limit := fs.Int("limit", 20, "Maximum number of executions")
	if err := fs.Parse(args[1:]); err != nil {
		fatal(err)
	}
	ensureNoArgs(fs.Args())

	c, ctx, cancel := newClient(ctx, global, cfg)
	defer cancel()

	filter := audit.Filter{RunID: *runID, Status: *status, Limit: *limit}
	if *workflow != "" {
		id, err := resolveWorkflow(ctx, c, *workflow)
		if err != nil {
			fail(err, global.JSON)
		}
		filter.WorkflowID = id
	}
	execs, err := c.Executions(ctx, filter)
	if err != nil {
		fail(err, global.JSON)
	}
	if global.JSON {
		printJSON(execs)
		return
	}
	w := newTabWriter()
	writeRow(w, "RUN", "WORKFLOW", "STATUS", "STARTED", "DURATION", "RESULT")
	for _, e := range execs {
		result := formatValue(e.Output)
		if e.Error != "" {
			result = e.ErrorCode + ": " + e.Error
		}
		duration := "-"
		if !e.StartedAt.IsZero() && !e.FinishedAt.IsZero() {
			duration = e.FinishedAt.Sub(e.StartedAt).String()
		}
		name := e.WorkflowName
		if name == "" {
			name = e.WorkflowID
		}
		writeRow(w, e.RunID, name, e.Status, formatTime(e.StartedAt), duration, truncateMessage(result, 50))
	}
	_ = w.Flush()
}
