// Package recovery emits an ordered remediation plan derived from
// current risk, disk, and incident state, each step naming the tool
// that performs it. Plan is a pure function of its inputs.
package recovery

import (
	"github.com/mcp-tool-shop/guardian/internal/model"
)

// Inputs bundles the values the planner needs.
type Inputs struct {
	Risk           model.HangRisk
	ActiveIncident *model.Incident
	BudgetSummary  model.BudgetSummary
}

// Plan builds the ordered step list and top-level status for in.
func Plan(in Inputs) model.RecoveryPlan {
	switch in.Risk.Level {
	case model.RiskCritical:
		return criticalPlan(in)
	case model.RiskWarn:
		return warnPlan(in)
	default:
		return okPlan(in)
	}
}

func criticalPlan(in Inputs) model.RecoveryPlan {
	steps := []model.RecoveryStep{
		{Order: 1, Action: "capture diagnostics", Tool: "nudge", Detail: "force a diagnostic bundle for the active incident"},
		{Order: 2, Action: "release concurrency", Tool: "budget_get", Detail: "confirm the cap has dropped to the critical floor"},
	}
	order := 3
	if in.Risk.DiskLow {
		steps = append(steps, model.RecoveryStep{Order: order, Action: "free space", Tool: "preflight_fix", Detail: "run an aggressive log fix to reclaim disk"})
		order++
	}
	steps = append(steps,
		model.RecoveryStep{Order: order, Action: "verify status", Tool: "status", Detail: "confirm the risk level after remediation"},
	)
	order++
	steps = append(steps,
		model.RecoveryStep{Order: order, Action: "reduce workload", Detail: "pause or defer non-essential work until risk clears"},
	)
	order++
	if in.ActiveIncident == nil || !in.ActiveIncident.BundleCaptured {
		steps = append(steps, model.RecoveryStep{Order: order, Action: "force bundle", Tool: "doctor", Detail: "capture a bundle since none exists for this incident yet"})
	}
	return model.RecoveryPlan{Status: model.StatusUrgent, Steps: steps}
}

func warnPlan(in Inputs) model.RecoveryPlan {
	steps := []model.RecoveryStep{
		{Order: 1, Action: "safe remediation", Tool: "nudge", Detail: "run deterministic, idempotent remediation"},
	}
	order := 2
	if in.Risk.DiskLow {
		steps = append(steps, model.RecoveryStep{Order: order, Action: "free space", Tool: "preflight_fix", Detail: "scan and fix logs"})
		order++
	}
	if in.Risk.NoActivitySeconds > 0 {
		steps = append(steps, model.RecoveryStep{Order: order, Action: "check activity", Tool: "status", Detail: "confirm whether the assistant has resumed activity"})
		order++
	}
	if in.Risk.CPUHot || in.Risk.MemoryHigh {
		steps = append(steps, model.RecoveryStep{Order: order, Action: "check budget", Tool: "budget_get", Detail: "confirm concurrency is already reduced"})
		order++
	}
	steps = append(steps, model.RecoveryStep{Order: order, Action: "monitor", Tool: "status", Detail: "watch for escalation or recovery"})
	return model.RecoveryPlan{Status: model.StatusActionNeeded, Steps: steps}
}

func okPlan(in Inputs) model.RecoveryPlan {
	switch {
	case in.BudgetSummary.CurrentCap < in.BudgetSummary.BaseCap:
		return model.RecoveryPlan{
			Status: model.StatusHealthy,
			Steps: []model.RecoveryStep{
				{Order: 1, Action: "budget recovering", Tool: "budget_get", Detail: "cap is below base and restoring after the hysteresis window"},
			},
		}
	case in.ActiveIncident != nil:
		return model.RecoveryPlan{
			Status: model.StatusHealthy,
			Steps: []model.RecoveryStep{
				{Order: 1, Action: "incident resolving", Tool: "status", Detail: "an incident is still open pending its close observation"},
			},
		}
	default:
		return model.RecoveryPlan{
			Status: model.StatusHealthy,
			Steps: []model.RecoveryStep{
				{Order: 1, Action: "no action needed", Detail: "all signals nominal"},
			},
		}
	}
}
