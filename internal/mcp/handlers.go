package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcp-tool-shop/guardian/internal/budget"
	"github.com/mcp-tool-shop/guardian/internal/bundle"
	"github.com/mcp-tool-shop/guardian/internal/diff"
	"github.com/mcp-tool-shop/guardian/internal/guarderr"
	"github.com/mcp-tool-shop/guardian/internal/logmanager"
	"github.com/mcp-tool-shop/guardian/internal/model"
	"github.com/mcp-tool-shop/guardian/internal/probe"
	"github.com/mcp-tool-shop/guardian/internal/recovery"
	"github.com/mcp-tool-shop/guardian/internal/supervisor"
)

// toolFunc is the shape every guardian handler implements before the
// error boundary wraps it.
type toolFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// boundary converts any failure — returned error or panic — into the
// structured {code, message, hint, cause} payload.
// Nothing resembling a stack trace ever crosses this boundary.
func (s *Server) boundary(name string, fn toolFunc) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (result *mcp.CallToolResult, _ error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorw("tool handler panicked", "tool", name, "panic", r)
				result = errResult(structuredError(guarderr.New(guarderr.Unknown,
					fmt.Sprintf("%s failed unexpectedly", name),
					"re-run the tool; report a bug if it persists")))
			}
		}()

		text, err := fn(ctx, getArgs(request))
		if err != nil {
			s.log.Warnw("tool handler failed", "tool", name, "error", err)
			return errResult(structuredError(err)), nil
		}
		return newTextResult(text), nil
	}
}

// structuredError renders err as the fixed JSON error shape.
func structuredError(err error) string {
	ge, ok := err.(*guarderr.Error)
	if !ok {
		ge = guarderr.Wrap(guarderr.Unknown, err.Error(), "re-run the tool; report a bug if it persists", err)
	}
	payload := map[string]string{
		"code":    string(ge.Code),
		"message": ge.Message,
		"hint":    ge.Hint,
	}
	if ge.Cause != nil {
		payload["cause"] = ge.Cause.Error()
	}
	data, merr := json.MarshalIndent(payload, "", "  ")
	if merr != nil {
		return fmt.Sprintf("%s: %s", ge.Code, ge.Message)
	}
	return string(data)
}

// snapshot returns the persisted state when fresh, otherwise a one-shot
// degraded snapshot (no grace or quiet counters — only the daemon
// carries those across polls).
func (s *Server) snapshot(now time.Time) (model.GuardianState, bool, error) {
	state, err := s.store.ReadState()
	if err != nil {
		return model.GuardianState{}, false, err
	}
	if state.Fresh(now, s.cfg.StateStaleness) {
		return state, true, nil
	}
	return supervisor.Once(s.cfg, s.opts, s.store, now), false, nil
}

// statusPayload is the status tool's full response shape.
type statusPayload struct {
	Fresh           bool                `json:"fresh"`
	State           model.GuardianState `json:"state"`
	Probes          []probe.Capability  `json:"probes"`
	IncidentHistory diff.HistorySummary `json:"incidentHistory"`
}

func (s *Server) handleStatus(ctx context.Context, args map[string]interface{}) (string, error) {
	now := time.Now()
	state, fresh, err := s.snapshot(now)
	if err != nil {
		return "", err
	}

	history, herr := s.store.ReadIncidents()
	if herr != nil {
		s.log.Warnw("incident history unavailable", "error", herr)
	}

	payload := statusPayload{
		Fresh:           fresh,
		State:           state,
		Probes:          probe.Capabilities(probe.NewDiskProbe(s.cfg.DataDir), probe.NewHandleProbe(s.opts.ProcRoot)),
		IncidentHistory: diff.Summarize(history),
	}
	return marshal(payload)
}

func (s *Server) handlePreflightFix(ctx context.Context, args map[string]interface{}) (string, error) {
	aggressive := boolArg(args, "aggressive", false)
	opts := s.logOptions(aggressive)

	before, err := logmanager.Scan(opts)
	if err != nil {
		return "", guarderr.Wrap(guarderr.ScanFailed, "scan watched log tree", "check that the watched directory exists and is readable", err)
	}

	after, err := logmanager.Fix(opts)
	if err != nil {
		return "", guarderr.Wrap(guarderr.FixFailed, "fix watched log tree", "check write permissions on the watched directory", err)
	}

	s.journal(model.JournalEntry{
		Timestamp:  time.Now(),
		Action:     "preflight-fix",
		Target:     s.cfg.WatchedProjectsDir,
		Detail:     fmt.Sprintf("aggressive=%v compressed=%d truncated=%d deleted=%d", aggressive, len(after.CompressedFiles), len(after.TruncatedFiles), len(after.DeletedStale)),
		SizeBefore: &after.BytesBefore,
		SizeAfter:  &after.BytesAfter,
	})

	var b strings.Builder
	fmt.Fprintf(&b, "before: %d file(s), %.1f MB; would compress %d, truncate %d, delete %d stale\n",
		before.ScannedFiles, float64(before.BytesBefore)/(1024*1024),
		len(before.CompressedFiles), len(before.TruncatedFiles), len(before.DeletedStale))
	fmt.Fprintf(&b, "after: compressed %d, truncated %d, deleted %d stale; %.1f MB -> %.1f MB",
		len(after.CompressedFiles), len(after.TruncatedFiles), len(after.DeletedStale),
		float64(after.BytesBefore)/(1024*1024), float64(after.BytesAfter)/(1024*1024))
	return b.String(), nil
}

func (s *Server) handleDoctor(ctx context.Context, args map[string]interface{}) (string, error) {
	now := time.Now()
	state, _, err := s.snapshot(now)
	if err != nil {
		return "", err
	}

	writer := bundle.New(bundle.Options{
		DataDir:    s.cfg.DataDir,
		LogRoot:    s.cfg.WatchedProjectsDir,
		TailLines:  s.cfg.TailLines,
		OutputPath: stringArg(args, "outputPath", ""),
	})
	path, summary, err := writer.Capture(state, now)
	if err != nil {
		return "", err
	}

	s.journal(model.JournalEntry{
		Timestamp: now,
		Action:    "doctor",
		Target:    path,
		Detail:    summary,
	})
	return fmt.Sprintf("bundle written to %s\n%s", path, summary), nil
}

func (s *Server) handleNudge(ctx context.Context, args map[string]interface{}) (string, error) {
	now := time.Now()
	state, _, err := s.snapshot(now)
	if err != nil {
		return "", err
	}

	var actions []string

	if state.LogTreeSizeMB > float64(s.cfg.MaxLogDirMB) || state.HangRisk.DiskLow {
		res, ferr := logmanager.Fix(s.logOptions(false))
		if ferr != nil {
			return "", guarderr.Wrap(guarderr.FixFailed, "fix watched log tree", "check write permissions on the watched directory", ferr)
		}
		actions = append(actions, fmt.Sprintf("fixed logs: compressed %d, truncated %d, deleted %d stale",
			len(res.CompressedFiles), len(res.TruncatedFiles), len(res.DeletedStale)))
		s.journal(model.JournalEntry{
			Timestamp:  now,
			Action:     "nudge-fix",
			Target:     s.cfg.WatchedProjectsDir,
			Detail:     "log thresholds breached",
			SizeBefore: &res.BytesBefore,
			SizeAfter:  &res.BytesAfter,
		})
	}

	inc := state.ActiveIncident
	if inc != nil && !inc.BundleCaptured && (inc.PeakLevel == model.RiskWarn || inc.PeakLevel == model.RiskCritical) {
		if path, already := s.bundled[inc.ID]; already {
			actions = append(actions, fmt.Sprintf("bundle already captured for incident %s at %s", inc.ID, path))
		} else {
			writer := bundle.New(bundle.Options{
				DataDir:   s.cfg.DataDir,
				LogRoot:   s.cfg.WatchedProjectsDir,
				TailLines: s.cfg.TailLines,
			})
			path, summary, berr := writer.Capture(state, now)
			if berr != nil {
				return "", berr
			}
			s.bundled[inc.ID] = path
			actions = append(actions, fmt.Sprintf("captured bundle for incident %s: %s", inc.ID, path))
			s.journal(model.JournalEntry{
				Timestamp: now,
				Action:    "nudge-bundle",
				Target:    path,
				Detail:    summary,
			})
		}
	}

	if len(actions) == 0 {
		return "nothing to do: no thresholds breached, no incident needing a bundle", nil
	}
	return strings.Join(actions, "\n"), nil
}

func (s *Server) handleBudgetGet(ctx context.Context, args map[string]interface{}) (string, error) {
	now := time.Now()
	ctrl, err := s.loadBudget()
	if err != nil {
		return "", err
	}
	ctrl.ExpireLeases(now)
	if err := s.store.WriteBudget(ctrl.Budget()); err != nil {
		return "", err
	}
	return marshal(ctrl.Summarize(now))
}

func (s *Server) handleBudgetAcquire(ctx context.Context, args map[string]interface{}) (string, error) {
	slots := intArg(args, "slots", 0)
	ttlSeconds := intArg(args, "ttlSeconds", 0)
	reason := stringArg(args, "reason", "")

	now := time.Now()
	ctrl, err := s.loadBudget()
	if err != nil {
		return "", err
	}
	ctrl.ExpireLeases(now)

	lease, granted, denyReason := ctrl.Acquire(slots, time.Duration(ttlSeconds)*time.Second, reason)
	if !granted {
		if err := s.store.WriteBudget(ctrl.Budget()); err != nil {
			return "", err
		}
		return marshal(map[string]interface{}{
			"granted": false,
			"reason":  denyReason,
		})
	}

	if err := s.store.WriteBudget(ctrl.Budget()); err != nil {
		return "", err
	}
	s.journal(model.JournalEntry{
		Timestamp: now,
		Action:    "budget-acquire",
		Target:    lease.ID,
		Detail:    fmt.Sprintf("%d slot(s) for %ds: %s", slots, ttlSeconds, reason),
	})
	return marshal(map[string]interface{}{
		"granted": true,
		"lease":   lease,
	})
}

func (s *Server) handleBudgetRelease(ctx context.Context, args map[string]interface{}) (string, error) {
	id := stringArg(args, "leaseId", "")
	if id == "" {
		return "", guarderr.New(guarderr.Unknown, "leaseId is required", "pass the lease id returned by budget_acquire")
	}

	ctrl, err := s.loadBudget()
	if err != nil {
		return "", err
	}
	found := ctrl.Release(id)
	if err := s.store.WriteBudget(ctrl.Budget()); err != nil {
		return "", err
	}
	if found {
		s.journal(model.JournalEntry{
			Timestamp: time.Now(),
			Action:    "budget-release",
			Target:    id,
			Detail:    "lease released",
		})
	}
	return marshal(map[string]interface{}{"found": found})
}

func (s *Server) handleRecoveryPlan(ctx context.Context, args map[string]interface{}) (string, error) {
	now := time.Now()
	state, _, err := s.snapshot(now)
	if err != nil {
		return "", err
	}

	var summary model.BudgetSummary
	if state.BudgetSummary != nil {
		summary = *state.BudgetSummary
	}
	plan := recovery.Plan(recovery.Inputs{
		Risk:           state.HangRisk,
		ActiveIncident: state.ActiveIncident,
		BudgetSummary:  summary,
	})
	return marshal(plan)
}

// loadBudget reads budget.json into a fresh controller. A corrupt file
// has already been backed up by the store; the controller restarts from
// defaults in that case.
func (s *Server) loadBudget() (*budget.Controller, error) {
	b, err := s.store.ReadBudget()
	if err != nil {
		return nil, err
	}
	return budget.NewController(s.cfg, b), nil
}

func (s *Server) logOptions(aggressive bool) logmanager.Options {
	return logmanager.Options{
		Root:           s.cfg.WatchedProjectsDir,
		RetainDays:     s.cfg.RetainDays,
		MaxFileSizeMB:  s.cfg.MaxFileSizeMB,
		TailLines:      s.cfg.TailLines,
		StaleAfterDays: s.cfg.RetainDays * 4,
		Aggressive:     aggressive,
	}
}

func (s *Server) journal(entry model.JournalEntry) {
	if err := s.store.AppendJournal(entry); err != nil {
		s.log.Warnw("journal append failed", "action", entry.Action, "error", err)
	}
}

func marshal(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", guarderr.Wrap(guarderr.Unknown, "encode tool response", "this is a bug, file a report", err)
	}
	return string(data), nil
}

// getArgs safely extracts the arguments map from a CallToolRequest.
// Returns an empty map if Arguments is nil or not a map.
func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

// stringArg extracts a string argument with a default value.
func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

// intArg extracts a numeric argument (JSON numbers arrive as float64).
func intArg(args map[string]interface{}, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	f, ok := val.(float64)
	if !ok {
		return defaultVal
	}
	return int(f)
}

// boolArg extracts a boolean argument with a default value.
func boolArg(args map[string]interface{}, key string, defaultVal bool) bool {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	b, ok := val.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

// newTextResult creates a successful MCP tool result with text content.
func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// errResult creates an MCP tool error result (IsError=true). This is a
// tool-level error, not a transport-level JSON-RPC error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
	}
}
