// Package supervisor runs the 2-second polling loop that drives the
// whole pipeline: probes feed the hang-risk detector, whose
// output feeds the incident tracker and budget controller, and the
// fused result is persisted atomically each tick. Every per-step
// failure is logged and swallowed — the loop never crashes the daemon.
package supervisor

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-tool-shop/guardian/internal/attention"
	"github.com/mcp-tool-shop/guardian/internal/budget"
	"github.com/mcp-tool-shop/guardian/internal/bundle"
	"github.com/mcp-tool-shop/guardian/internal/detector"
	"github.com/mcp-tool-shop/guardian/internal/guardconfig"
	"github.com/mcp-tool-shop/guardian/internal/incident"
	"github.com/mcp-tool-shop/guardian/internal/logmanager"
	"github.com/mcp-tool-shop/guardian/internal/model"
	"github.com/mcp-tool-shop/guardian/internal/observer"
	"github.com/mcp-tool-shop/guardian/internal/probe"
	"github.com/mcp-tool-shop/guardian/internal/store"
)

// Options holds the supervisor knobs that come from the CLI rather
// than from the threshold table.
type Options struct {
	ProcRoot      string // normally "/proc"; overridable for tests
	ProcessPrefix string // "claude"
	AutoFix       bool   // run an aggressive log fix when disk is low
}

// Supervisor owns the polling loop and all per-loop carried state:
// when processes were first seen, when the composite-quiet interval
// began, and the previous attention (for a stable "since").
type Supervisor struct {
	cfg   guardconfig.Config
	opts  Options
	store *store.Store
	log   *zap.SugaredLogger

	processes *probe.ProcessProbe
	activity  *probe.ActivityProbe
	disk      *probe.DiskProbe
	handles   *probe.HandleProbe
	tracker   *incident.Tracker
	writer    *bundle.Writer

	processFirstSeenAt  time.Time
	compositeQuietSince time.Time
	prevAttention       model.Attention
	persistedClosed     int
	bundleInFlight      bool
}

// New builds a Supervisor with probes rooted per opts and cfg.
func New(cfg guardconfig.Config, opts Options, st *store.Store, log *zap.SugaredLogger) *Supervisor {
	if opts.ProcRoot == "" {
		opts.ProcRoot = "/proc"
	}
	pidTracker := observer.NewPIDTracker()
	return &Supervisor{
		cfg:       cfg,
		opts:      opts,
		store:     st,
		log:       log,
		processes: probe.NewProcessProbe(opts.ProcRoot, opts.ProcessPrefix, pidTracker),
		activity:  probe.NewActivityProbe(cfg.WatchedProjectsDir),
		disk:      probe.NewDiskProbe(cfg.DataDir),
		handles:   probe.NewHandleProbe(opts.ProcRoot),
		tracker:   incident.NewTracker(cfg, nil, nil),
		writer: bundle.New(bundle.Options{
			DataDir:   cfg.DataDir,
			LogRoot:   cfg.WatchedProjectsDir,
			TailLines: cfg.TailLines,
		}),
	}
}

// Run ticks until ctx is cancelled. On cancellation it stops cleanly
// without flushing anything extra — the last written state stands.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.Tick(time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Tick runs one full poll and writes state.json. Exported so tests can
// drive the pipeline without the ticker; the once command uses Once.
func (s *Supervisor) Tick(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("tick panicked", "panic", r)
		}
	}()

	// Step 1: sample everything.
	diskFree := s.disk.FreeGB()
	treeMB := s.activity.TreeSizeMB()
	procs := s.processes.Sample(now)
	act := s.activity.Sample(now, procs, s.cfg.CPULowThreshold)

	// Steps 2–3: process-age bookkeeping.
	if len(procs) == 0 {
		s.processFirstSeenAt = time.Time{}
		s.compositeQuietSince = time.Time{}
	} else if s.processFirstSeenAt.IsZero() {
		s.processFirstSeenAt = now
	}
	var processAge int64
	if !s.processFirstSeenAt.IsZero() {
		processAge = int64(now.Sub(s.processFirstSeenAt).Seconds())
	}

	// Step 4: composite-quiet counter.
	hangThreshold := int64(s.cfg.HangNoActivitySecs)
	logQuiet := act.LogLastModifiedSecondsAgo < 0 || act.LogLastModifiedSecondsAgo > hangThreshold
	cpuLow := !act.CPUActive
	if logQuiet && cpuLow {
		if s.compositeQuietSince.IsZero() {
			s.compositeQuietSince = now
		}
	} else {
		s.compositeQuietSince = time.Time{}
	}
	var compositeQuiet int64
	if !s.compositeQuietSince.IsZero() {
		compositeQuiet = int64(now.Sub(s.compositeQuietSince).Seconds())
	}

	// Step 5: detect.
	risk := detector.ComputeHangRisk(detector.Inputs{
		Processes:             procs,
		DiskFreeGB:            diskFree,
		LogQuiet:              logQuiet,
		CPULow:                cpuLow,
		ProcessAgeSeconds:     processAge,
		CompositeQuietSeconds: compositeQuiet,
	}, s.cfg)

	// Step 6: incident transitions and bundle capture.
	active := s.tracker.Observe(risk.Level, now)
	s.persistClosedIncidents()

	pids := make([]int, len(procs))
	for i, p := range procs {
		pids[i] = p.PID
	}

	if !s.bundleInFlight && s.tracker.ShouldCaptureBundle(pids, now) {
		s.bundleInFlight = true
		s.captureBundle(pids, now)
		s.bundleInFlight = false
		active = s.tracker.Active()
	}

	// Step 7: aggressive log fix under disk pressure.
	if risk.DiskLow && s.opts.AutoFix {
		s.autoFix(now)
	}

	// Step 8: re-read budget, expire, adjust, write.
	summary := s.adjustBudget(risk.Level, now)

	// Step 9: attach handle counts, best-effort.
	for i := range procs {
		procs[i].HandleCount = s.handles.Count(procs[i].PID)
	}

	// Step 10: attention.
	att := attention.Synthesize(attention.Inputs{
		Risk:           risk,
		BudgetSummary:  summary,
		ActiveIncident: active,
		Previous:       s.prevAttention,
	}, now)
	s.prevAttention = att

	// Step 11: persist the snapshot.
	state := model.GuardianState{
		UpdatedAt:             now,
		DaemonRunning:         true,
		DaemonPID:             os.Getpid(),
		Processes:             procs,
		Activity:              act,
		HangRisk:              risk,
		RecommendedActions:    att.RecommendedActions,
		DiskFreeGB:            diskFree,
		LogTreeSizeMB:         treeMB,
		ActiveIncident:        active,
		ProcessAgeSeconds:     processAge,
		CompositeQuietSeconds: compositeQuiet,
		BudgetSummary:         &summary,
		Attention:             att,
	}
	if err := s.store.WriteState(state); err != nil {
		s.log.Warnw("state write failed", "error", err)
	}
}

// persistClosedIncidents appends any incidents closed since the last
// tick to incidents.jsonl.
func (s *Supervisor) persistClosedIncidents() {
	closed := s.tracker.Closed()
	for ; s.persistedClosed < len(closed); s.persistedClosed++ {
		inc := closed[s.persistedClosed]
		if err := s.store.AppendIncident(inc); err != nil {
			s.log.Warnw("incident append failed", "incident", inc.ID, "error", err)
		}
		s.log.Infow("incident closed", "incident", inc.ID, "peak", inc.PeakLevel)
	}
}

func (s *Supervisor) captureBundle(pids []int, now time.Time) {
	state, err := s.store.ReadState()
	if err != nil {
		s.log.Warnw("bundle capture: state read failed", "error", err)
	}
	state.ActiveIncident = s.tracker.Active()

	path, summary, err := s.writer.Capture(state, now)
	if err != nil {
		s.log.Warnw("bundle capture failed", "error", err)
		return
	}
	s.tracker.RecordBundleCaptured(path, pids, now)
	s.log.Infow("bundle captured", "path", path, "summary", summary)
	s.journal(model.JournalEntry{
		Timestamp: now,
		Action:    "bundle-captured",
		Target:    path,
		Detail:    summary,
	})
}

func (s *Supervisor) autoFix(now time.Time) {
	res, err := logmanager.Fix(logmanager.Options{
		Root:           s.cfg.WatchedProjectsDir,
		RetainDays:     s.cfg.RetainDays,
		MaxFileSizeMB:  s.cfg.MaxFileSizeMB,
		TailLines:      s.cfg.TailLines,
		StaleAfterDays: s.cfg.RetainDays * 4,
		Aggressive:     true,
	})
	if err != nil {
		s.log.Warnw("aggressive log fix failed", "error", err)
		return
	}
	before, after := res.BytesBefore, res.BytesAfter
	s.journal(model.JournalEntry{
		Timestamp:  now,
		Action:     "auto-fix",
		Target:     s.cfg.WatchedProjectsDir,
		Detail:     "aggressive log fix under disk pressure",
		SizeBefore: &before,
		SizeAfter:  &after,
	})
}

// adjustBudget re-reads budget.json so concurrent RPC acquire/release
// mutations are not clobbered, expires leases, applies the cap rule,
// and writes the result back.
func (s *Supervisor) adjustBudget(risk model.RiskLevel, now time.Time) model.BudgetSummary {
	b, err := s.store.ReadBudget()
	if err != nil {
		s.log.Warnw("budget read failed, using defaults", "error", err)
	}
	ctrl := budget.NewController(s.cfg, b)
	if expired := ctrl.ExpireLeases(now); expired > 0 {
		s.log.Infow("expired leases", "count", expired)
	}
	if ctrl.AdjustCap(risk, now) {
		s.log.Infow("budget cap adjusted", "risk", risk, "cap", ctrl.Budget().CurrentCap)
	}
	if err := s.store.WriteBudget(ctrl.Budget()); err != nil {
		s.log.Warnw("budget write failed", "error", err)
	}
	return ctrl.Summarize(now)
}

func (s *Supervisor) journal(entry model.JournalEntry) {
	if err := s.store.AppendJournal(entry); err != nil {
		s.log.Warnw("journal append failed", "action", entry.Action, "error", err)
	}
}

// Once computes a single degraded live snapshot without the carried
// counters the daemon accumulates: grace is treated as expired and the
// composite-quiet counter as zero. The result
// is returned, not persisted — only the daemon writes state.json.
func Once(cfg guardconfig.Config, opts Options, st *store.Store, now time.Time) model.GuardianState {
	s := New(cfg, opts, st, zap.NewNop().Sugar())

	diskFree := s.disk.FreeGB()
	treeMB := s.activity.TreeSizeMB()
	procs := s.processes.Sample(now)
	act := s.activity.Sample(now, procs, cfg.CPULowThreshold)

	hangThreshold := int64(cfg.HangNoActivitySecs)
	logQuiet := act.LogLastModifiedSecondsAgo < 0 || act.LogLastModifiedSecondsAgo > hangThreshold

	risk := detector.ComputeHangRisk(detector.Inputs{
		Processes:             procs,
		DiskFreeGB:            diskFree,
		LogQuiet:              logQuiet,
		CPULow:                !act.CPUActive,
		ProcessAgeSeconds:     int64(cfg.GraceWindow.Seconds()),
		CompositeQuietSeconds: 0,
	}, cfg)

	b, _ := st.ReadBudget()
	ctrl := budget.NewController(cfg, b)
	ctrl.ExpireLeases(now)
	summary := ctrl.Summarize(now)

	for i := range procs {
		procs[i].HandleCount = s.handles.Count(procs[i].PID)
	}

	att := attention.Synthesize(attention.Inputs{
		Risk:          risk,
		BudgetSummary: summary,
	}, now)

	return model.GuardianState{
		UpdatedAt:          now,
		DaemonRunning:      false,
		Processes:          procs,
		Activity:           act,
		HangRisk:           risk,
		RecommendedActions: att.RecommendedActions,
		DiskFreeGB:         diskFree,
		LogTreeSizeMB:      treeMB,
		BudgetSummary:      &summary,
		Attention:          att,
	}
}
