// Package model defines the data types shared by every guardian
// subsystem: probes, detector, incident tracker, budget controller,
// attention synthesizer, recovery planner, and the persisted store.
// These types are serialized to JSON for state.json, budget.json,
// journal.jsonl, and incidents.jsonl.
package model

import "time"

// ProcessSample is a point-in-time snapshot of one watched process.
// Produced fresh every poll. The probe that produces it may retain
// internal bookkeeping (e.g. prior CPU jiffies) to compute deltas, but
// the sample itself is never carried forward by callers.
type ProcessSample struct {
	PID           int     `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryMB      float64 `json:"memoryMB"`
	UptimeSeconds int64   `json:"uptimeSeconds"`
	HandleCount   *int    `json:"handleCount,omitempty"`
}

// ActivitySignals captures what the activity probe observed this poll.
type ActivitySignals struct {
	LogLastModifiedSecondsAgo int64    `json:"logLastModifiedSecondsAgo"` // -1 if unknown
	CPUActive                 bool     `json:"cpuActive"`
	Sources                   []string `json:"sources"` // subset of {"log-mtime","cpu"}
}

// RiskLevel is the three-way hang-risk classification.
type RiskLevel string

const (
	RiskOK       RiskLevel = "ok"
	RiskWarn     RiskLevel = "warn"
	RiskCritical RiskLevel = "critical"
)

// HangRisk is the hang-risk detector's pure-function output for one poll.
type HangRisk struct {
	Level                 RiskLevel `json:"level"`
	NoActivitySeconds     int64     `json:"noActivitySeconds"`
	CPULowSeconds         int64     `json:"cpuLowSeconds"`
	CPUHot                bool      `json:"cpuHot"`
	MemoryHigh            bool      `json:"memoryHigh"`
	DiskLow               bool      `json:"diskLow"`
	GraceRemainingSeconds int64     `json:"graceRemainingSeconds"`
	Reasons               []string  `json:"reasons"`
}

// Incident is a named window spanning the first non-ok risk observation
// to the first subsequent ok observation. At most one is active at a
// time; see internal/incident for the owning state machine.
type Incident struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"startedAt"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
	Reason         string     `json:"reason"`
	PeakLevel      RiskLevel  `json:"peakLevel"`
	BundleCaptured bool       `json:"bundleCaptured"`
	BundlePath     string     `json:"bundlePath,omitempty"`
}

// Lease is a time-bounded, immutable grant of concurrency slots.
// Disappears on release or expiry; never mutated in place.
type Lease struct {
	ID        string    `json:"id"`
	Slots     int       `json:"slots"`
	Reason    string    `json:"reason"`
	GrantedAt time.Time `json:"grantedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Budget is the persisted concurrency-budget record owned by
// internal/budget.
type Budget struct {
	CurrentCap   int        `json:"currentCap"`
	BaseCap      int        `json:"baseCap"`
	Leases       []Lease    `json:"leases"`
	CapSetByRisk RiskLevel  `json:"capSetByRisk,omitempty"` // "" means unset
	CapChangedAt time.Time  `json:"capChangedAt"`
	OkSinceAt    *time.Time `json:"okSinceAt,omitempty"`
}

// BudgetSummary is the read-only view returned by the budget_get tool
// and embedded in GuardianState.
type BudgetSummary struct {
	CurrentCap                 int        `json:"currentCap"`
	BaseCap                    int        `json:"baseCap"`
	SlotsInUse                 int        `json:"slotsInUse"`
	SlotsAvailable             int        `json:"slotsAvailable"`
	ActiveLeases               []Lease    `json:"activeLeases"`
	CapSetByRisk               RiskLevel  `json:"capSetByRisk,omitempty"`
	OkSinceAt                  *time.Time `json:"okSinceAt,omitempty"`
	HysteresisRemainingSeconds int64      `json:"hysteresisRemainingSeconds"`
}

// AttentionLevel is the four-level operator-visible urgency signal.
type AttentionLevel string

const (
	AttentionNone     AttentionLevel = "none"
	AttentionInfo     AttentionLevel = "info"
	AttentionWarn     AttentionLevel = "warn"
	AttentionCritical AttentionLevel = "critical"
)

// Attention is the fused, single-level synthesis of risk, budget,
// incident, and disk state produced by internal/attention.
type Attention struct {
	Level              AttentionLevel `json:"level"`
	Since              time.Time      `json:"since"`
	Reason             string         `json:"reason"`
	RecommendedActions []string       `json:"recommendedActions"`
	IncidentID         string         `json:"incidentId,omitempty"`
}

// GuardianState is the full persisted snapshot written every poll by
// the polling supervisor, and read by every RPC tool handler.
type GuardianState struct {
	UpdatedAt             time.Time       `json:"updatedAt"`
	DaemonRunning         bool            `json:"daemonRunning"`
	DaemonPID             int             `json:"daemonPid,omitempty"`
	Processes             []ProcessSample `json:"processes"`
	Activity              ActivitySignals `json:"activity"`
	HangRisk              HangRisk        `json:"hangRisk"`
	RecommendedActions    []string        `json:"recommendedActions"`
	DiskFreeGB            float64         `json:"diskFreeGB"`
	LogTreeSizeMB         float64         `json:"logTreeSizeMB"`
	ActiveIncident        *Incident       `json:"activeIncident,omitempty"`
	ProcessAgeSeconds     int64           `json:"processAgeSeconds"`
	CompositeQuietSeconds int64           `json:"compositeQuietSeconds"`
	BudgetSummary         *BudgetSummary  `json:"budgetSummary,omitempty"`
	Attention             Attention       `json:"attention"`
}

// Fresh reports whether this snapshot is recent enough for an
// RPC handler to serve directly instead of computing a live snapshot.
func (s GuardianState) Fresh(now time.Time, maxAge time.Duration) bool {
	return !s.UpdatedAt.IsZero() && now.Sub(s.UpdatedAt) < maxAge
}

// JournalEntry is one line of journal.jsonl: a record of an action the
// guardian took (or attempted), for post-hoc debugging.
type JournalEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"`
	Target     string    `json:"target,omitempty"`
	Detail     string    `json:"detail"`
	SizeBefore *int64    `json:"sizeBefore,omitempty"`
	SizeAfter  *int64    `json:"sizeAfter,omitempty"`
}

// RecoveryStatus summarizes the planner's top-level verdict.
type RecoveryStatus string

const (
	StatusHealthy      RecoveryStatus = "healthy"
	StatusActionNeeded RecoveryStatus = "action_needed"
	StatusUrgent       RecoveryStatus = "urgent"
)

// RecoveryStep is one ordered action in a recovery plan.
type RecoveryStep struct {
	Order  int    `json:"order"`
	Action string `json:"action"`
	Tool   string `json:"tool,omitempty"`
	Detail string `json:"detail"`
}

// RecoveryPlan is the recovery planner's full output.
type RecoveryPlan struct {
	Status RecoveryStatus `json:"status"`
	Steps  []RecoveryStep `json:"steps"`
}
