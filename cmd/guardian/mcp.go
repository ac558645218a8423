package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcp-tool-shop/guardian/internal/mcp"
	"github.com/mcp-tool-shop/guardian/internal/store"
	"github.com/mcp-tool-shop/guardian/internal/supervisor"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start Model Context Protocol (MCP) server",
	Long: `Starts a JSON-RPC server exposing the eight guardian tools over
standard input/output, so the watched assistant can introspect and
remediate its own environment mid-session: status, preflight_fix,
doctor, nudge, budget_get, budget_acquire, budget_release,
recovery_plan.

Handlers read the daemon's persisted snapshot when it is fresh and
compute a degraded live snapshot otherwise; the daemon itself does not
need to be running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig(cmd, 0, 0, false)
		if err != nil {
			return err
		}
		log, err := buildLogger(flagLogLevel, flagLogFormat)
		if err != nil {
			return err
		}
		defer log.Sync()
		sugar := log.Sugar()

		st, err := store.New(cfg.DataDir, sugar)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := mcp.NewServer(version, cfg, supervisor.Options{
			ProcessPrefix: flagProcessPrefix,
		}, st, sugar)
		return srv.Start(ctx)
	},
}
