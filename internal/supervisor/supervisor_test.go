package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-tool-shop/guardian/internal/guardconfig"
	"github.com/mcp-tool-shop/guardian/internal/model"
	"github.com/mcp-tool-shop/guardian/internal/store"
)

// newTestSupervisor wires a Supervisor onto a fake procfs and a temp
// watched tree so ticks can be driven with explicit timestamps.
func newTestSupervisor(t *testing.T) (*Supervisor, *store.Store, guardconfig.Config, string, string) {
	t.Helper()
	dataDir := t.TempDir()
	watchDir := t.TempDir()
	procRoot := t.TempDir()

	cfg := guardconfig.Defaults(dataDir, watchDir)
	st, err := store.New(dataDir, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	s := New(cfg, Options{ProcRoot: procRoot, ProcessPrefix: "claude"}, st, zap.NewNop().Sugar())
	return s, st, cfg, procRoot, watchDir
}

func writeFakeProcess(t *testing.T, procRoot string, pid int) {
	t.Helper()
	dir := filepath.Join(procRoot, fmt.Sprintf("%d", pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	line := fmt.Sprintf(
		"%d (claude) S 1 %d %d 0 -1 4194560 0 0 0 0 10 10 0 0 20 0 1 0 100 0 25600"+
			" 18446744073709551615 0 0 0 0 0 0 0 0 0 0 0 0 17 0 0 0 0 0 0 0 0 0 0 0 0 0 0",
		pid, pid, pid,
	)
	if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(procRoot, "uptime"), []byte("5000.00 0.00\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func touchLog(t *testing.T, watchDir string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(watchDir, "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestColdStartHealthyInsideGrace(t *testing.T) {
	s, st, _, procRoot, watchDir := newTestSupervisor(t)
	writeFakeProcess(t, procRoot, 100)

	t0 := time.Now()
	touchLog(t, watchDir, t0.Add(-3*time.Second))

	s.Tick(t0)

	state, err := st.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if state.HangRisk.Level != model.RiskOK {
		t.Fatalf("expected ok inside grace, got %s (%v)", state.HangRisk.Level, state.HangRisk.Reasons)
	}
	if state.ActiveIncident != nil {
		t.Fatalf("expected no incident, got %+v", state.ActiveIncident)
	}
	if state.BudgetSummary.CurrentCap != 4 {
		t.Fatalf("expected base cap 4, got %d", state.BudgetSummary.CurrentCap)
	}
	if state.Attention.Level != model.AttentionNone {
		t.Fatalf("expected attention none, got %s", state.Attention.Level)
	}
	if !state.DaemonRunning || state.DaemonPID == 0 {
		t.Fatalf("expected daemon markers in state, got %+v", state)
	}
}

func TestGraceShieldsQuietNewProcess(t *testing.T) {
	s, st, _, procRoot, watchDir := newTestSupervisor(t)
	writeFakeProcess(t, procRoot, 100)

	t0 := time.Now()
	touchLog(t, watchDir, t0.Add(-900*time.Second))

	s.Tick(t0)
	s.Tick(t0.Add(15 * time.Second))

	state, _ := st.ReadState()
	if state.HangRisk.Level != model.RiskOK {
		t.Fatalf("grace must shield hang escalation, got %s", state.HangRisk.Level)
	}
	if got := state.HangRisk.GraceRemainingSeconds; got != 45 {
		t.Fatalf("expected 45s grace remaining, got %d", got)
	}
	if state.CompositeQuietSeconds != 15 {
		t.Fatalf("expected composite quiet to accumulate to 15, got %d", state.CompositeQuietSeconds)
	}
}

func TestCompositeQuietEscalatesAndIncidentCloses(t *testing.T) {
	s, st, cfg, procRoot, watchDir := newTestSupervisor(t)
	writeFakeProcess(t, procRoot, 100)

	t0 := time.Now().Add(-2000 * time.Second)
	touchLog(t, watchDir, t0.Add(-900*time.Second))

	// Tick 1 starts the grace and quiet clocks.
	s.Tick(t0)

	// Past the hang threshold: warn, incident opens, cap drops to 2.
	s.Tick(t0.Add(400 * time.Second))
	state, _ := st.ReadState()
	if state.HangRisk.Level != model.RiskWarn {
		t.Fatalf("expected warn at 400s quiet, got %s", state.HangRisk.Level)
	}
	if state.ActiveIncident == nil || state.ActiveIncident.PeakLevel != model.RiskWarn {
		t.Fatalf("expected an open warn incident, got %+v", state.ActiveIncident)
	}
	if state.BudgetSummary.CurrentCap != cfg.WarnCap {
		t.Fatalf("expected warn cap %d, got %d", cfg.WarnCap, state.BudgetSummary.CurrentCap)
	}
	incidentID := state.ActiveIncident.ID

	// Past threshold+criticalAfter: critical, same incident, bundle captured.
	s.Tick(t0.Add(950 * time.Second))
	state, _ = st.ReadState()
	if state.HangRisk.Level != model.RiskCritical {
		t.Fatalf("expected critical at 950s quiet, got %s", state.HangRisk.Level)
	}
	if state.ActiveIncident == nil || state.ActiveIncident.ID != incidentID {
		t.Fatalf("escalation must not replace the incident: %+v", state.ActiveIncident)
	}
	if state.ActiveIncident.PeakLevel != model.RiskCritical {
		t.Fatalf("expected peak critical, got %s", state.ActiveIncident.PeakLevel)
	}
	if !state.ActiveIncident.BundleCaptured || state.ActiveIncident.BundlePath == "" {
		t.Fatalf("expected exactly-once bundle capture, got %+v", state.ActiveIncident)
	}
	if _, err := os.Stat(state.ActiveIncident.BundlePath); err != nil {
		t.Fatalf("bundle archive missing: %v", err)
	}
	if state.BudgetSummary.CurrentCap != cfg.CriticalCap {
		t.Fatalf("expected critical cap %d, got %d", cfg.CriticalCap, state.BudgetSummary.CurrentCap)
	}

	// Activity resumes: quiet resets, risk returns to ok, incident closes.
	resume := t0.Add(960 * time.Second)
	touchLog(t, watchDir, resume)
	s.Tick(resume)
	state, _ = st.ReadState()
	if state.HangRisk.Level != model.RiskOK {
		t.Fatalf("expected ok after activity resumed, got %s", state.HangRisk.Level)
	}
	if state.ActiveIncident != nil {
		t.Fatalf("expected incident closed, got %+v", state.ActiveIncident)
	}
	if state.CompositeQuietSeconds != 0 {
		t.Fatalf("expected quiet counter reset, got %d", state.CompositeQuietSeconds)
	}

	closed, err := st.ReadIncidents()
	if err != nil || len(closed) != 1 {
		t.Fatalf("expected 1 closed incident in the log, got %d (%v)", len(closed), err)
	}
	if closed[0].ID != incidentID || closed[0].ClosedAt == nil {
		t.Fatalf("closed incident malformed: %+v", closed[0])
	}

	// Cap holds at the reduced value until hysteresis elapses...
	state, _ = st.ReadState()
	if state.BudgetSummary.CurrentCap != cfg.CriticalCap {
		t.Fatalf("cap must hold during hysteresis, got %d", state.BudgetSummary.CurrentCap)
	}

	// ...then restores to base after 60s of sustained ok.
	later := resume.Add(70 * time.Second)
	touchLog(t, watchDir, later)
	s.Tick(later)
	b, _ := st.ReadBudget()
	if b.CurrentCap != cfg.BaseCap {
		t.Fatalf("expected cap restored to %d after hysteresis, got %d", cfg.BaseCap, b.CurrentCap)
	}
	if b.OkSinceAt != nil || b.CapSetByRisk != "" {
		t.Fatalf("restoration must clear okSinceAt and capSetByRisk: %+v", b)
	}
}

func TestAttentionSinceStableAcrossUnchangedTicks(t *testing.T) {
	s, st, _, procRoot, watchDir := newTestSupervisor(t)
	writeFakeProcess(t, procRoot, 100)

	t0 := time.Now()
	touchLog(t, watchDir, t0)

	s.Tick(t0)
	first, _ := st.ReadState()

	touchLog(t, watchDir, t0.Add(2*time.Second))
	s.Tick(t0.Add(2 * time.Second))
	second, _ := st.ReadState()

	if first.Attention.Level != second.Attention.Level {
		t.Fatalf("attention level should be unchanged: %s vs %s", first.Attention.Level, second.Attention.Level)
	}
	if !first.Attention.Since.Equal(second.Attention.Since) {
		t.Fatalf("since must be preserved when the level is unchanged: %v vs %v", first.Attention.Since, second.Attention.Since)
	}
}

func TestEmptyProcessSetResetsCounters(t *testing.T) {
	s, st, _, procRoot, watchDir := newTestSupervisor(t)
	writeFakeProcess(t, procRoot, 100)

	t0 := time.Now()
	touchLog(t, watchDir, t0.Add(-900*time.Second))
	s.Tick(t0)
	s.Tick(t0.Add(30 * time.Second))

	// Process disappears: firstSeen and quiet both reset.
	if err := os.RemoveAll(filepath.Join(procRoot, "100")); err != nil {
		t.Fatal(err)
	}
	s.Tick(t0.Add(32 * time.Second))
	state, _ := st.ReadState()
	if state.ProcessAgeSeconds != 0 {
		t.Fatalf("expected process age reset, got %d", state.ProcessAgeSeconds)
	}
	if state.CompositeQuietSeconds != 0 {
		t.Fatalf("expected quiet counter reset, got %d", state.CompositeQuietSeconds)
	}

	// Process returns: grace starts over.
	writeFakeProcess(t, procRoot, 100)
	s.Tick(t0.Add(34 * time.Second))
	state, _ = st.ReadState()
	if state.HangRisk.GraceRemainingSeconds != 60 {
		t.Fatalf("expected a fresh grace window, got %d", state.HangRisk.GraceRemainingSeconds)
	}
}

func TestOnceComputesDegradedSnapshot(t *testing.T) {
	dataDir := t.TempDir()
	watchDir := t.TempDir()
	procRoot := t.TempDir()

	cfg := guardconfig.Defaults(dataDir, watchDir)
	st, err := store.New(dataDir, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	state := Once(cfg, Options{ProcRoot: procRoot, ProcessPrefix: "claude"}, st, time.Now())
	if state.DaemonRunning {
		t.Fatalf("one-shot snapshot must not claim the daemon is running")
	}
	if state.HangRisk.GraceRemainingSeconds != 0 {
		t.Fatalf("degraded snapshot treats grace as expired, got %d", state.HangRisk.GraceRemainingSeconds)
	}
	if state.CompositeQuietSeconds != 0 {
		t.Fatalf("degraded snapshot carries no quiet counter, got %d", state.CompositeQuietSeconds)
	}
	if state.BudgetSummary == nil || state.BudgetSummary.CurrentCap != cfg.BaseCap {
		t.Fatalf("expected default budget in snapshot, got %+v", state.BudgetSummary)
	}

	// Once never writes state.json — only the daemon does.
	if _, err := os.Stat(filepath.Join(dataDir, "state.json")); !os.IsNotExist(err) {
		t.Fatalf("Once must not persist state")
	}
}
