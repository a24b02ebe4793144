package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/Keiii25/lean-formal-agent/pkg/config"
	"github.com/Keiii25/lean-formal-agent/pkg/mcp"
	"github.com/Keiii25/lean-formal-agent/pkg/server"
	"github.com/Keiii25/lean-formal-agent/pkg/telemetry"
)

const serviceName = "agentreg"

func runServe(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Server.Addr, "Listen address")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	ensureNoArgs(fs.Args())

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    serviceName,
		Version:        version,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		MetricInterval: time.Duration(cfg.Telemetry.MetricIntervalSeconds) * time.Second,
	})
	if err != nil {
		fail(err, global.JSON)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry.shutdown.error", slog.String("error", err.Error()))
		}
	}()

	if global.ConfigPath != "" {
		watcher, _, err := config.WatchConfig(ctx, global.ConfigPath, global.Profile,
			config.WithWatchLogger(telemetry.Component("config")))
		if err != nil {
			fail(NewConfigError(err, global.ConfigPath), global.JSON)
		}
		defer watcher.Stop()
		watcher.OnChange(func(c *config.Config) {
			telemetry.SetLogLevel(c.Log.Level)
		})
	}

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		fail(err, global.JSON)
	}
	defer a.Close()

	opts := []server.Option{server.WithLogger(telemetry.Component("server"))}
	if cfg.MCP.Export {
		exported := mcp.NewServer(serviceName, version, a.Registry.Tools, telemetry.Component("mcp"))
		n := exported.Sync()
		logger.Info("mcp.export", slog.Int("tools", n), slog.String("path", "/mcp"))
		opts = append(opts, server.WithMCPHandler(exported.Handler()))
	}

	srv := server.New(a.Registry, opts...)
	if err := srv.ListenAndServe(ctx, *addr); err != nil {
		fail(err, global.JSON)
	}
}
