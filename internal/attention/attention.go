// Package attention synthesizes a single fused urgency level from risk,
// budget, and incident state. Synthesize is a pure function:
// the only state it threads across calls is the caller-supplied
// previous Attention, used solely to decide whether "since" advances.
package attention

import (
	"time"

	"github.com/mcp-tool-shop/guardian/internal/model"
)

// Inputs bundles the values needed to decide one tick's attention.
type Inputs struct {
	Risk           model.HangRisk
	BudgetSummary  model.BudgetSummary
	ActiveIncident *model.Incident
	Previous       model.Attention
}

// Synthesize picks the level by first match: critical risk, warn risk,
// low disk, reduced cap, open incident, then none.
func Synthesize(in Inputs, now time.Time) model.Attention {
	var level model.AttentionLevel
	var reasons []string

	capReduced := in.BudgetSummary.CurrentCap < in.BudgetSummary.BaseCap

	switch {
	case in.Risk.Level == model.RiskCritical:
		level = model.AttentionCritical
		reasons = append(reasons, "hang risk is critical")
	case in.Risk.Level == model.RiskWarn:
		level = model.AttentionWarn
		reasons = append(reasons, "hang risk is warn")
	case in.Risk.DiskLow:
		level = model.AttentionWarn
		reasons = append(reasons, "disk free is low")
	case capReduced:
		level = model.AttentionInfo
		reasons = append(reasons, "concurrency budget is reduced below base")
	case in.ActiveIncident != nil:
		level = model.AttentionInfo
		reasons = append(reasons, "an incident is active")
	default:
		level = model.AttentionNone
	}

	// Aggregate any additional true conditions beyond the one that
	// decided the level, so the operator sees the full picture.
	if level != model.AttentionInfo && capReduced {
		reasons = append(reasons, "concurrency budget is reduced below base")
	}
	if level != model.AttentionInfo && in.ActiveIncident != nil {
		reasons = append(reasons, "an incident is active")
	}

	since := now
	if in.Previous.Level == level {
		since = in.Previous.Since
	}

	var incidentID string
	if in.ActiveIncident != nil {
		incidentID = in.ActiveIncident.ID
	}

	return model.Attention{
		Level:              level,
		Since:              since,
		Reason:             joinReasons(reasons),
		RecommendedActions: recommendedActions(level, in, capReduced),
		IncidentID:         incidentID,
	}
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}

func recommendedActions(level model.AttentionLevel, in Inputs, capReduced bool) []string {
	actions := []string{}
	switch level {
	case model.AttentionCritical:
		if in.ActiveIncident == nil || !in.ActiveIncident.BundleCaptured {
			actions = append(actions, "run recovery tool")
		}
		actions = append(actions, "check budget before heavy work")
	case model.AttentionWarn:
		actions = append(actions, "monitor status")
		if in.Risk.DiskLow {
			actions = append(actions, "free disk space")
		}
	case model.AttentionInfo:
		if capReduced {
			actions = append(actions, "check budget before heavy work")
		}
		if in.ActiveIncident != nil {
			actions = append(actions, "review active incident")
		}
	}
	return actions
}
