// guardian — local reliability daemon and diagnostic toolkit for a
// long-running coding-assistant process.
//
// Watches the assistant's log tree and processes for hang signals,
// disk pressure, and resource exhaustion; tracks incidents with
// exactly-once evidence capture; leases a concurrency budget; and
// exposes the whole thing over a stdio MCP tool surface. Local-only:
// no sockets, no telemetry, no process signaling, no deleted user
// content.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcp-tool-shop/guardian/internal/guardconfig"
	"github.com/mcp-tool-shop/guardian/internal/guarderr"
	"github.com/mcp-tool-shop/guardian/internal/store"
	"github.com/mcp-tool-shop/guardian/internal/supervisor"
)

var (
	version = "0.1.0"
)

var (
	flagDataDir       string
	flagWatchDir      string
	flagConfigFile    string
	flagLogLevel      string
	flagLogFormat     string
	flagProcessPrefix string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "guardian",
		Short: "Local reliability daemon for a coding-assistant process",
		Long: `guardian — single Go binary watching a coding assistant's health.

Detects log bloat, disk pressure, process hangs, and resource
exhaustion before they degrade the assistant; captures reproducible
evidence when degradation occurs; and exposes a self-monitoring RPC
surface so the assistant can introspect its own environment.

daemon: the 2-second polling loop persisting state.json each tick
mcp:    stdio JSON-RPC server with the eight guardian tools
once:   a single poll-and-print for manual inspection`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory (default: ~/.guardian)")
	rootCmd.PersistentFlags().StringVar(&flagWatchDir, "watch-dir", "", "Watched log tree (default: ~/.claude/projects)")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Optional YAML knob file (default: <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "console", "Log format: console or json")
	rootCmd.PersistentFlags().StringVar(&flagProcessPrefix, "process-prefix", "claude", "Name prefix of watched processes")

	// --- daemon command ---
	var (
		daemonAutoFix     bool
		daemonMaxLogMB    int
		daemonHangSeconds int
		daemonAutoRestart bool
	)

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the polling supervisor",
		Long:  "Tick every 2 seconds: sample probes, detect hang risk, track incidents, adjust the budget, and persist state. Stops cleanly on SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, daemonMaxLogMB, daemonHangSeconds, daemonAutoRestart)
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

			sugar.Infow("guardian daemon starting",
				"version", version,
				"dataDir", cfg.DataDir,
				"watchDir", cfg.WatchedProjectsDir,
				"pollInterval", cfg.PollInterval,
			)

			sup := supervisor.New(cfg, supervisor.Options{
				ProcessPrefix: flagProcessPrefix,
				AutoFix:       daemonAutoFix,
			}, st, sugar)
			err = sup.Run(ctx)
			sugar.Infow("guardian daemon stopped")
			return err
		},
	}
	daemonCmd.Flags().BoolVar(&daemonAutoFix, "auto-fix", false, "Run an aggressive log fix automatically when disk is low")
	daemonCmd.Flags().IntVar(&daemonMaxLogMB, "max-log-mb", 0, "Override max-log-dir-MB knob")
	daemonCmd.Flags().IntVar(&daemonHangSeconds, "hang-no-activity-seconds", 0, "Override hang-no-activity-seconds knob")
	daemonCmd.Flags().BoolVar(&daemonAutoRestart, "auto-restart", false, "Reserved for watchdog mode; never affects the daemon")

	// --- once command ---
	var onceOutput string

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single poll and print the snapshot",
		Long:  "Sample probes, compute hang risk and attention once, and print the snapshot as JSON. Does not write state.json — only the daemon does that.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, 0, 0, false)
			if err != nil {
				return err
			}
			st, err := store.New(cfg.DataDir, zap.NewNop().Sugar())
			if err != nil {
				return err
			}

			state := supervisor.Once(cfg, supervisor.Options{
				ProcessPrefix: flagProcessPrefix,
			}, st, time.Now())

			data, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			if onceOutput == "-" || onceOutput == "" {
				fmt.Println(string(data))
				return nil
			}
			return os.WriteFile(onceOutput, append(data, '\n'), 0o644)
		},
	}
	onceCmd.Flags().StringVarP(&onceOutput, "output", "o", "-", "Output file path (- for stdout)")

	rootCmd.AddCommand(daemonCmd, onceCmd, mcpCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(guarderr.ExitCode(err))
	}
}

// buildConfig resolves directories, loads the optional knob file, and
// applies flag overrides on top.
func buildConfig(cmd *cobra.Command, maxLogMB, hangSeconds int, autoRestart bool) (guardconfig.Config, error) {
	dataDir := flagDataDir
	watchDir := flagWatchDir
	if dataDir == "" || watchDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return guardconfig.Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		if dataDir == "" {
			dataDir = filepath.Join(home, ".guardian")
		}
		if watchDir == "" {
			watchDir = filepath.Join(home, ".claude", "projects")
		}
	}

	configPath := flagConfigFile
	if configPath == "" {
		configPath = filepath.Join(dataDir, "config.yaml")
	}

	cfg, err := guardconfig.Load(configPath, guardconfig.Defaults(dataDir, watchDir))
	if err != nil {
		// A bad knob file falls back to defaults rather than refusing
		// to start; the error still reaches the operator on stderr.
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if cmd.Flags().Changed("max-log-mb") && maxLogMB > 0 {
		cfg.MaxLogDirMB = maxLogMB
	}
	if cmd.Flags().Changed("hang-no-activity-seconds") && hangSeconds > 0 {
		cfg.HangNoActivitySecs = hangSeconds
	}
	if cmd.Flags().Changed("auto-restart") {
		cfg.AutoRestart = autoRestart
	}
	return cfg, nil
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
