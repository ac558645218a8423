// Package mcp exposes the guardian's eight-tool RPC surface over a
// stdio JSON-RPC (MCP) transport. Handlers read the daemon's persisted
// snapshot when it is fresh and fall back to a one-shot degraded
// snapshot when it is not; they never share in-process state with the
// polling supervisor — only the files on disk.
package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/mcp-tool-shop/guardian/internal/guardconfig"
	"github.com/mcp-tool-shop/guardian/internal/store"
	"github.com/mcp-tool-shop/guardian/internal/supervisor"
)

// Server wraps the MCP server instance and the handler dependencies.
type Server struct {
	mcpServer *server.MCPServer
	cfg       guardconfig.Config
	opts      supervisor.Options
	store     *store.Store
	log       *zap.SugaredLogger

	// bundled remembers which incident ids this session already
	// captured a bundle for, so back-to-back nudge calls stay
	// idempotent even before the daemon re-stamps the captured flag.
	bundled map[string]string
}

// NewServer creates an MCP server with all eight guardian tools
// registered.
func NewServer(version string, cfg guardconfig.Config, opts supervisor.Options, st *store.Store, log *zap.SugaredLogger) *Server {
	if opts.ProcRoot == "" {
		opts.ProcRoot = "/proc"
	}
	s := &Server{
		cfg:     cfg,
		opts:    opts,
		store:   st,
		log:     log,
		bundled: make(map[string]string),
	}
	s.mcpServer = server.NewMCPServer("guardian", version, server.WithLogging())
	s.registerTools()
	return s
}

// Start runs the server in stdio mode (blocking).
func (s *Server) Start(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.mcpServer)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools adds the eight guardian tools.
func (s *Server) registerTools() {
	statusTool := mcp.NewTool("status",
		mcp.WithDescription("Current guardian snapshot: processes, activity, hang risk, incident, budget, attention. Served from the daemon's persisted state when fresh, computed live (degraded: no grace or quiet counters) otherwise."),
	)
	s.mcpServer.AddTool(statusTool, s.boundary("status", s.handleStatus))

	preflightTool := mcp.NewTool("preflight_fix",
		mcp.WithDescription("Scan the watched log tree and fix it: compress old files, truncate oversized ones to their tail, delete stale session records. Returns before/after banners. Never deletes user content."),
		mcp.WithBoolean("aggressive",
			mcp.Description("Halve the retention window and tolerated file size for this pass"),
		),
	)
	s.mcpServer.AddTool(preflightTool, s.boundary("preflight_fix", s.handlePreflightFix))

	doctorTool := mcp.NewTool("doctor",
		mcp.WithDescription("Capture a diagnostic bundle: system info, process snapshot, log tails, journal, and current state in one archive for attaching to a bug report."),
		mcp.WithString("outputPath",
			mcp.Description("Override the archive path (default: bundle-<timestamp>.zip under the data directory)"),
		),
	)
	s.mcpServer.AddTool(doctorTool, s.boundary("doctor", s.handleDoctor))

	nudgeTool := mcp.NewTool("nudge",
		mcp.WithDescription("Deterministic safe remediation: fix logs if size/disk thresholds are breached, capture a bundle if an incident lacks one. Idempotent; never escalates on its own."),
	)
	s.mcpServer.AddTool(nudgeTool, s.boundary("nudge", s.handleNudge))

	budgetGetTool := mcp.NewTool("budget_get",
		mcp.WithDescription("Read the concurrency budget: current cap, slots in use, active leases, hysteresis state. Expired leases are dropped first."),
	)
	s.mcpServer.AddTool(budgetGetTool, s.boundary("budget_get", s.handleBudgetGet))

	budgetAcquireTool := mcp.NewTool("budget_acquire",
		mcp.WithDescription("Acquire a concurrency lease under the current cap. Returns the lease id, or a denial naming how many slots are available. Advisory: slots are cooperative, nothing is blocked."),
		mcp.WithNumber("slots",
			mcp.Required(),
			mcp.Description("Slots to acquire (>= 1)"),
		),
		mcp.WithNumber("ttlSeconds",
			mcp.Required(),
			mcp.Description("Lease lifetime in seconds; the lease self-expires after this"),
		),
		mcp.WithString("reason",
			mcp.Description("Why the slots are needed, recorded on the lease"),
		),
	)
	s.mcpServer.AddTool(budgetAcquireTool, s.boundary("budget_acquire", s.handleBudgetAcquire))

	budgetReleaseTool := mcp.NewTool("budget_release",
		mcp.WithDescription("Release a previously acquired lease by id."),
		mcp.WithString("leaseId",
			mcp.Required(),
			mcp.Description("The lease id returned by budget_acquire"),
		),
	)
	s.mcpServer.AddTool(budgetReleaseTool, s.boundary("budget_release", s.handleBudgetRelease))

	recoveryTool := mcp.NewTool("recovery_plan",
		mcp.WithDescription("Ordered recovery steps for the current state, each naming the tool to call. Status is healthy, action_needed, or urgent."),
	)
	s.mcpServer.AddTool(recoveryTool, s.boundary("recovery_plan", s.handleRecoveryPlan))
}
