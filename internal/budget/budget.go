// Package budget implements the concurrency-budget controller: an
// advisory cap on how many heavy operations may run at once, adjusted
// by observed hang risk and leased out to callers by name.
//
// Unlike a plain token bucket, leases here are named, inspectable
// grants rather than anonymous counted tokens — callers acquire a
// lease for a reason and release it by id, and the controller never
// blocks; it only ever grants or denies.
package budget

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcp-tool-shop/guardian/internal/guardconfig"
	"github.com/mcp-tool-shop/guardian/internal/model"
)

// Controller holds a Budget and its cap/lease operations. It is not
// safe for concurrent use by itself; callers serialize access via the
// persisted store's read-modify-write discipline.
type Controller struct {
	budget      model.Budget
	baseCap     int
	warnCap     int
	criticalCap int
	hysteresis  time.Duration
}

// NewController builds a Controller seeded from a persisted Budget (or
// a fresh default one if b is the zero value).
func NewController(cfg guardconfig.Config, b model.Budget) *Controller {
	if b.CurrentCap == 0 {
		b.CurrentCap = cfg.BaseCap
		b.BaseCap = cfg.BaseCap
	}
	return &Controller{
		budget:      b,
		baseCap:     cfg.BaseCap,
		warnCap:     cfg.WarnCap,
		criticalCap: cfg.CriticalCap,
		hysteresis:  cfg.Hysteresis,
	}
}

// Budget returns the current persisted-shape record.
func (c *Controller) Budget() model.Budget {
	return c.budget
}

// AdjustCap drops the cap on non-ok risk and restores it only after a
// sustained-ok hysteresis window. Reports whether the cap changed, for
// logging.
func (c *Controller) AdjustCap(risk model.RiskLevel, now time.Time) bool {
	before := c.budget.CurrentCap

	switch risk {
	case model.RiskCritical:
		c.budget.CurrentCap = c.criticalCap
		c.budget.OkSinceAt = nil
		c.budget.CapSetByRisk = model.RiskCritical
	case model.RiskWarn:
		c.budget.CurrentCap = c.warnCap
		c.budget.OkSinceAt = nil
		c.budget.CapSetByRisk = model.RiskWarn
	default: // ok
		if c.budget.OkSinceAt == nil {
			okSince := now
			c.budget.OkSinceAt = &okSince
		} else if now.Sub(*c.budget.OkSinceAt) >= c.hysteresis {
			c.budget.CurrentCap = c.baseCap
			c.budget.OkSinceAt = nil
			c.budget.CapSetByRisk = ""
		}
	}
	c.budget.CapChangedAt = now
	return c.budget.CurrentCap != before
}

// Acquire grants a lease for n slots under the current cap, or denies
// it with a reason. Callers must call ExpireLeases first so in-use
// never counts stale TTLs.
func (c *Controller) Acquire(n int, ttl time.Duration, reason string) (model.Lease, bool, string) {
	if n <= 0 {
		return model.Lease{}, false, "slots must be positive"
	}
	if ttl <= 0 {
		return model.Lease{}, false, "ttlSeconds must be positive"
	}
	if avail := c.budget.CurrentCap - c.slotsInUse(); n > avail {
		if avail < 0 {
			avail = 0
		}
		return model.Lease{}, false, fmt.Sprintf("requested %d slot(s), only %d available under cap %d", n, avail, c.budget.CurrentCap)
	}

	now := time.Now()
	lease := model.Lease{
		ID:        newID(),
		Slots:     n,
		Reason:    reason,
		GrantedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.budget.Leases = append(c.budget.Leases, lease)
	return lease, true, ""
}

// Release removes a lease by id, returning whether it was found.
func (c *Controller) Release(id string) bool {
	for i, l := range c.budget.Leases {
		if l.ID == id {
			c.budget.Leases = append(c.budget.Leases[:i], c.budget.Leases[i+1:]...)
			return true
		}
	}
	return false
}

// ExpireLeases drops every lease whose expiresAt has passed, returning
// the count removed.
func (c *Controller) ExpireLeases(now time.Time) int {
	kept := c.budget.Leases[:0]
	removed := 0
	for _, l := range c.budget.Leases {
		if !l.ExpiresAt.After(now) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	c.budget.Leases = kept
	return removed
}

// Summarize returns the read-only view served by the budget_get tool
// and embedded in the persisted snapshot.
func (c *Controller) Summarize(now time.Time) model.BudgetSummary {
	inUse := c.slotsInUse()
	available := c.budget.CurrentCap - inUse
	if available < 0 {
		available = 0
	}

	var hysteresisRemaining int64
	if c.budget.CurrentCap < c.baseCap && c.budget.OkSinceAt != nil {
		remaining := c.hysteresis - now.Sub(*c.budget.OkSinceAt)
		if remaining > 0 {
			hysteresisRemaining = int64(remaining.Seconds())
		}
	}

	leases := make([]model.Lease, len(c.budget.Leases))
	copy(leases, c.budget.Leases)

	return model.BudgetSummary{
		CurrentCap:                 c.budget.CurrentCap,
		BaseCap:                    c.baseCap,
		SlotsInUse:                 inUse,
		SlotsAvailable:             available,
		ActiveLeases:               leases,
		CapSetByRisk:               c.budget.CapSetByRisk,
		OkSinceAt:                  c.budget.OkSinceAt,
		HysteresisRemainingSeconds: hysteresisRemaining,
	}
}

func (c *Controller) slotsInUse() int {
	total := 0
	for _, l := range c.budget.Leases {
		total += l.Slots
	}
	return total
}

func newID() string {
	return uuid.New().String()[:8]
}
