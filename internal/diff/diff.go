// Package diff compares closed incidents and summarizes trends across
// the incident log: the "metric" is incident duration and peak level,
// and the question is whether things are getting worse or better over
// time.
package diff

import (
	"fmt"

	"github.com/mcp-tool-shop/guardian/internal/model"
)

// Direction classifies how incident severity moved between two
// observations.
type Direction string

const (
	DirectionWorse     Direction = "worse"
	DirectionBetter    Direction = "better"
	DirectionUnchanged Direction = "unchanged"
)

// IncidentDelta compares two incidents in close order and reports
// whether the later one was more or less severe than the former.
type IncidentDelta struct {
	PreviousID      string          `json:"previousId"`
	CurrentID       string          `json:"currentId"`
	DurationBefore  float64         `json:"durationBeforeSeconds"`
	DurationAfter   float64         `json:"durationAfterSeconds"`
	DurationDelta   float64         `json:"durationDeltaSeconds"`
	PeakLevelBefore model.RiskLevel `json:"peakLevelBefore"`
	PeakLevelAfter  model.RiskLevel `json:"peakLevelAfter"`
	Direction       Direction       `json:"direction"`
}

func severityRank(level model.RiskLevel) int {
	switch level {
	case model.RiskCritical:
		return 2
	case model.RiskWarn:
		return 1
	default:
		return 0
	}
}

// duration returns the closed duration of an incident in seconds, or 0
// if it has no closedAt (still open — callers should only pass closed
// incidents from incidents.jsonl, but a zero duration is a safe
// fallback rather than a panic).
func duration(inc model.Incident) float64 {
	if inc.ClosedAt == nil {
		return 0
	}
	return inc.ClosedAt.Sub(inc.StartedAt).Seconds()
}

// Compare reports how cur's severity compares to prev's: a later
// incident that peaked higher, or ran more than 25% longer at the same
// peak, is "worse"; one that peaked lower, or ran more than 25% shorter
// at the same peak, is "better".
func Compare(prev, cur model.Incident) IncidentDelta {
	prevRank := severityRank(prev.PeakLevel)
	curRank := severityRank(cur.PeakLevel)
	prevDur := duration(prev)
	curDur := duration(cur)

	direction := DirectionUnchanged
	switch {
	case curRank > prevRank:
		direction = DirectionWorse
	case curRank < prevRank:
		direction = DirectionBetter
	case curDur > prevDur*1.25:
		direction = DirectionWorse
	case curDur < prevDur*0.75:
		direction = DirectionBetter
	}

	return IncidentDelta{
		PreviousID:      prev.ID,
		CurrentID:       cur.ID,
		DurationBefore:  prevDur,
		DurationAfter:   curDur,
		DurationDelta:   curDur - prevDur,
		PeakLevelBefore: prev.PeakLevel,
		PeakLevelAfter:  cur.PeakLevel,
		Direction:       direction,
	}
}

// HistorySummary aggregates a run of closed incidents for the status
// tool's historical-incident field.
type HistorySummary struct {
	Count              int     `json:"count"`
	CriticalCount      int     `json:"criticalCount"`
	AverageDurationSec float64 `json:"averageDurationSeconds"`
	WorseningStreak    int     `json:"worseningStreak"`
	Narrative          string  `json:"narrative"`
}

// Summarize walks history in chronological order and reports trend
// information an operator can read without opening incidents.jsonl.
func Summarize(history []model.Incident) HistorySummary {
	if len(history) == 0 {
		return HistorySummary{Narrative: "no closed incidents recorded"}
	}

	var totalDur float64
	criticalCount := 0
	worseningStreak := 0
	longestStreak := 0
	for i, inc := range history {
		totalDur += duration(inc)
		if inc.PeakLevel == model.RiskCritical {
			criticalCount++
		}
		if i > 0 {
			d := Compare(history[i-1], inc)
			if d.Direction == DirectionWorse {
				worseningStreak++
				if worseningStreak > longestStreak {
					longestStreak = worseningStreak
				}
			} else {
				worseningStreak = 0
			}
		}
	}

	avg := totalDur / float64(len(history))
	narrative := fmt.Sprintf("%d incident(s), %d critical, average duration %.0fs", len(history), criticalCount, avg)
	if longestStreak >= 2 {
		narrative += fmt.Sprintf("; %d consecutive incidents worsened", longestStreak)
	}

	return HistorySummary{
		Count:              len(history),
		CriticalCount:      criticalCount,
		AverageDurationSec: avg,
		WorseningStreak:    longestStreak,
		Narrative:          narrative,
	}
}
