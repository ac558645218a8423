package incident

import (
	"testing"
	"time"

	"github.com/mcp-tool-shop/guardian/internal/guardconfig"
	"github.com/mcp-tool-shop/guardian/internal/model"
)

func newTracker() *Tracker {
	cfg := guardconfig.Defaults("/data", "/watched")
	return NewTracker(cfg, nil, nil)
}

func TestOpensOnFirstNonOk(t *testing.T) {
	tr := newTracker()
	now := time.Now()

	if got := tr.Observe(model.RiskOK, now); got != nil {
		t.Fatalf("Observe(ok) on empty tracker = %+v, want nil", got)
	}
	got := tr.Observe(model.RiskWarn, now)
	if got == nil {
		t.Fatalf("Observe(warn) did not open an incident")
	}
	if got.PeakLevel != model.RiskWarn {
		t.Fatalf("PeakLevel = %v, want warn", got.PeakLevel)
	}
	if got.ID == "" {
		t.Fatalf("expected a non-empty opaque id")
	}
}

func TestPeakLevelNeverDemotes(t *testing.T) {
	tr := newTracker()
	now := time.Now()

	tr.Observe(model.RiskCritical, now)
	got := tr.Observe(model.RiskWarn, now.Add(time.Second))

	if got.PeakLevel != model.RiskCritical {
		t.Fatalf("PeakLevel = %v, want critical to remain even after a warn observation", got.PeakLevel)
	}
}

func TestEscalatesToCritical(t *testing.T) {
	tr := newTracker()
	now := time.Now()

	tr.Observe(model.RiskWarn, now)
	got := tr.Observe(model.RiskCritical, now.Add(time.Second))

	if got.PeakLevel != model.RiskCritical {
		t.Fatalf("PeakLevel = %v, want critical after escalation", got.PeakLevel)
	}
}

func TestClosesOnFirstOkAfterNonOk(t *testing.T) {
	tr := newTracker()
	now := time.Now()

	tr.Observe(model.RiskWarn, now)
	got := tr.Observe(model.RiskOK, now.Add(time.Minute))

	if got != nil {
		t.Fatalf("Observe(ok) after incident = %+v, want nil active", got)
	}
	closed := tr.Closed()
	if len(closed) != 1 {
		t.Fatalf("len(Closed()) = %d, want 1", len(closed))
	}
	if closed[0].ClosedAt == nil {
		t.Fatalf("expected ClosedAt to be set")
	}
}

func TestAtMostOneActiveIncident(t *testing.T) {
	tr := newTracker()
	now := time.Now()

	tr.Observe(model.RiskWarn, now)
	first := tr.Active().ID
	tr.Observe(model.RiskWarn, now.Add(time.Second))
	second := tr.Active().ID

	if first != second {
		t.Fatalf("a second Observe(warn) opened a new incident: %s != %s", first, second)
	}
}

func TestShouldCaptureBundleGate(t *testing.T) {
	tr := newTracker()
	now := time.Now()

	tr.Observe(model.RiskCritical, now)
	if !tr.ShouldCaptureBundle([]int{100}, now) {
		t.Fatalf("expected bundle capture to be eligible for a fresh critical incident")
	}

	tr.RecordBundleCaptured("bundle-1.zip", []int{100}, now)
	if tr.ShouldCaptureBundle([]int{100}, now) {
		t.Fatalf("expected no second capture once bundleCaptured is set")
	}
}

func TestBundleCooldownBlocksReCapture(t *testing.T) {
	tr := newTracker()
	now := time.Now()

	tr.Observe(model.RiskCritical, now)
	tr.RecordBundleCaptured("bundle-1.zip", []int{100}, now)
	// Close and reopen a new incident quickly.
	tr.Observe(model.RiskOK, now.Add(time.Second))
	tr.Observe(model.RiskCritical, now.Add(2*time.Second))

	if tr.ShouldCaptureBundle([]int{100}, now.Add(3*time.Second)) {
		t.Fatalf("expected cooldown to block recapture for a recently-bundled pid")
	}
	if !tr.ShouldCaptureBundle([]int{999}, now.Add(3*time.Second)) {
		t.Fatalf("expected an unrelated pid to be unaffected by another pid's cooldown")
	}
}
