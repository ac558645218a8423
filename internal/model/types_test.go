package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestGuardianStateJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	handles := 42
	okSince := now.Add(-30 * time.Second)

	state := GuardianState{
		UpdatedAt:     now,
		DaemonRunning: true,
		DaemonPID:     1234,
		Processes: []ProcessSample{
			{PID: 100, Name: "claude", CPUPercent: 12.5, MemoryMB: 300, UptimeSeconds: 10, HandleCount: &handles},
		},
		Activity: ActivitySignals{
			LogLastModifiedSecondsAgo: 3,
			CPUActive:                 true,
			Sources:                   []string{"log-mtime", "cpu"},
		},
		HangRisk: HangRisk{
			Level:                 RiskOK,
			GraceRemainingSeconds: 45,
			Reasons:               []string{},
		},
		DiskFreeGB:            100,
		LogTreeSizeMB:         12.3,
		ProcessAgeSeconds:     10,
		CompositeQuietSeconds: 0,
		BudgetSummary: &BudgetSummary{
			CurrentCap:     4,
			BaseCap:        4,
			SlotsInUse:     0,
			SlotsAvailable: 4,
			OkSinceAt:      &okSince,
		},
		Attention: Attention{
			Level:              AttentionNone,
			Since:              now,
			RecommendedActions: []string{},
		},
	}

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var roundTripped GuardianState
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if diff := cmp.Diff(state, roundTripped); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestGuardianStateFresh(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		updated time.Time
		want    bool
	}{
		{"zero value is never fresh", time.Time{}, false},
		{"just updated", now.Add(-1 * time.Second), true},
		{"exactly at boundary is stale", now.Add(-10 * time.Second), false},
		{"old snapshot is stale", now.Add(-30 * time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := GuardianState{UpdatedAt: tt.updated}
			if got := s.Fresh(now, 10*time.Second); got != tt.want {
				t.Errorf("Fresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBudgetJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	b := Budget{
		CurrentCap: 2,
		BaseCap:    4,
		Leases: []Lease{
			{ID: "ab12cd34", Slots: 2, Reason: "batch", GrantedAt: now, ExpiresAt: now.Add(time.Minute)},
		},
		CapSetByRisk: RiskWarn,
		CapChangedAt: now,
	}

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var roundTripped Budget
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if diff := cmp.Diff(b, roundTripped); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
