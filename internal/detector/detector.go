// Package detector computes hang risk from the signals gathered during
// one poll. It is a pure function: no clock reads, no I/O, no
// dependence on anything but its arguments.
package detector

import (
	"fmt"

	"github.com/mcp-tool-shop/guardian/internal/guardconfig"
	"github.com/mcp-tool-shop/guardian/internal/model"
)

// Inputs bundles the values the detector needs. ProcessAgeSeconds and
// CompositeQuietSeconds are computed upstream by the polling
// supervisor, not by the detector itself.
type Inputs struct {
	Processes             []model.ProcessSample
	DiskFreeGB            float64 // negative means unknown
	LogQuiet              bool
	CPULow                bool
	ProcessAgeSeconds     int64
	CompositeQuietSeconds int64
}

// ComputeHangRisk classifies one tick's signals. Rule order matters:
// grace shields hang escalation but not disk pressure, and critical
// requires the composite quiet interval to outlast both the hang
// threshold and the critical-after window.
func ComputeHangRisk(in Inputs, cfg guardconfig.Config) model.HangRisk {
	graceWindowSeconds := int64(cfg.GraceWindow.Seconds())
	hangThresholdSeconds := int64(cfg.HangNoActivitySecs)
	criticalAfterSeconds := int64(cfg.CriticalAfter.Seconds())

	graceRemaining := graceWindowSeconds - in.ProcessAgeSeconds
	if graceRemaining < 0 {
		graceRemaining = 0
	}

	cpuHot := anyProcess(in.Processes, func(p model.ProcessSample) bool { return p.CPUPercent > cfg.CPUHotThreshold })
	memoryHigh := anyProcess(in.Processes, func(p model.ProcessSample) bool { return p.MemoryMB > cfg.MemoryHighThreshold })
	diskLow := in.DiskFreeGB >= 0 && in.DiskFreeGB < cfg.DiskFreeWarningGB

	var level model.RiskLevel

	switch {
	case graceRemaining > 0:
		if diskLow {
			level = model.RiskWarn
		} else {
			level = model.RiskOK
		}
	case in.LogQuiet && in.CPULow && in.CompositeQuietSeconds > hangThresholdSeconds:
		if in.CompositeQuietSeconds > hangThresholdSeconds+criticalAfterSeconds {
			level = model.RiskCritical
		} else {
			level = model.RiskWarn
		}
	case diskLow:
		level = model.RiskWarn
	case cpuHot && memoryHigh:
		level = model.RiskWarn
	default:
		level = model.RiskOK
	}

	reasons := []string{}
	if graceRemaining > 0 {
		reasons = append(reasons, fmt.Sprintf("grace window active, %ds remaining", graceRemaining))
	}
	if in.LogQuiet && in.CPULow && in.CompositeQuietSeconds > hangThresholdSeconds {
		reasons = append(reasons, fmt.Sprintf("no log activity or cpu usage for %ds", in.CompositeQuietSeconds))
	}
	if diskLow {
		reasons = append(reasons, "disk free below warning threshold")
	}
	if cpuHot {
		reasons = append(reasons, "cpu usage above hot threshold")
	}
	if memoryHigh {
		reasons = append(reasons, "memory usage above high threshold")
	}

	return model.HangRisk{
		Level:                 level,
		NoActivitySeconds:     in.CompositeQuietSeconds,
		CPULowSeconds:         in.CompositeQuietSeconds,
		CPUHot:                cpuHot,
		MemoryHigh:            memoryHigh,
		DiskLow:               diskLow,
		GraceRemainingSeconds: graceRemaining,
		Reasons:               reasons,
	}
}

func anyProcess(procs []model.ProcessSample, pred func(model.ProcessSample) bool) bool {
	for _, p := range procs {
		if pred(p) {
			return true
		}
	}
	return false
}
