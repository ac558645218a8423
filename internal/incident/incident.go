// Package incident implements the small state machine owning one
// optional active incident: opened on the first non-ok risk, escalated
// on critical, closed on the first ok that follows.
package incident

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcp-tool-shop/guardian/internal/guardconfig"
	"github.com/mcp-tool-shop/guardian/internal/model"
)

// Tracker owns the current active incident (if any), the closed
// incident log, and the per-pid bundle cooldown bookkeeping. It is not
// safe for concurrent use — the polling supervisor is its only caller.
type Tracker struct {
	active         *model.Incident
	closed         []model.Incident
	lastBundleAt   map[int]time.Time
	bundleCooldown time.Duration
}

// NewTracker builds a Tracker with an optionally pre-seeded active
// incident and closed log, for resuming from a persisted snapshot.
func NewTracker(cfg guardconfig.Config, active *model.Incident, closed []model.Incident) *Tracker {
	return &Tracker{
		active:         active,
		closed:         closed,
		lastBundleAt:   make(map[int]time.Time),
		bundleCooldown: cfg.BundleCooldown,
	}
}

// Active returns the currently open incident, or nil.
func (tr *Tracker) Active() *model.Incident {
	return tr.active
}

// Closed returns all incidents closed so far, in close order.
func (tr *Tracker) Closed() []model.Incident {
	return tr.closed
}

// Observe feeds one tick's risk level through the transition table and
// returns the (possibly unchanged) active incident, or nil if none is
// open. A freshly-closed incident is appended to the closed log as a
// side effect; callers that need to persist it should read Closed()
// after calling Observe.
func (tr *Tracker) Observe(level model.RiskLevel, now time.Time) *model.Incident {
	switch {
	case tr.active == nil && level == model.RiskOK:
		return nil

	case tr.active == nil && level == model.RiskWarn:
		tr.active = tr.open(level, now, "hang risk reached warn")
		return tr.active

	case tr.active == nil && level == model.RiskCritical:
		tr.active = tr.open(level, now, "hang risk reached critical")
		return tr.active

	case tr.active != nil && level == model.RiskWarn:
		tr.active.Reason = "hang risk at warn"
		return tr.active

	case tr.active != nil && level == model.RiskCritical:
		// peakLevel is monotonic: once critical, it never demotes.
		tr.active.PeakLevel = model.RiskCritical
		tr.active.Reason = "hang risk at critical"
		return tr.active

	case tr.active != nil && level == model.RiskOK:
		closedAt := now
		tr.active.ClosedAt = &closedAt
		tr.closed = append(tr.closed, *tr.active)
		tr.active = nil
		return nil
	}

	return tr.active
}

func (tr *Tracker) open(level model.RiskLevel, now time.Time, reason string) *model.Incident {
	return &model.Incident{
		ID:        newID(),
		StartedAt: now,
		Reason:    reason,
		PeakLevel: level,
	}
}

// ShouldCaptureBundle reports whether the current active incident
// qualifies for a diagnostic bundle capture: an
// incident must be active, peak at critical, not yet captured, and
// every given pid must be outside its per-pid cooldown window.
func (tr *Tracker) ShouldCaptureBundle(pids []int, now time.Time) bool {
	if tr.active == nil || tr.active.PeakLevel != model.RiskCritical || tr.active.BundleCaptured {
		return false
	}
	for _, pid := range pids {
		if last, ok := tr.lastBundleAt[pid]; ok && now.Sub(last) < tr.bundleCooldown {
			return false
		}
	}
	return true
}

// RecordBundleCaptured stamps the active incident and the per-pid
// cooldown map after a successful bundle capture.
func (tr *Tracker) RecordBundleCaptured(path string, pids []int, now time.Time) {
	if tr.active == nil {
		return
	}
	tr.active.BundleCaptured = true
	tr.active.BundlePath = path
	for _, pid := range pids {
		tr.lastBundleAt[pid] = now
	}
}

func newID() string {
	return uuid.New().String()[:8]
}
