package guarderr

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk unreadable")
	err := Wrap(DiskCheckFailed, "could not stat disk", "check mount", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find cause through Unwrap")
	}
	if err.Code != DiskCheckFailed {
		t.Fatalf("Code = %v, want %v", err.Code, DiskCheckFailed)
	}
}

func TestWrapPreservesExistingClassification(t *testing.T) {
	inner := New(StateCorrupt, "state.json malformed", "restart the daemon")
	outer := Wrap(Unknown, "status failed", "ignored hint", inner)

	if outer.Code != StateCorrupt {
		t.Fatalf("Code = %v, want %v (should preserve inner classification)", outer.Code, StateCorrupt)
	}
	if outer.Hint != "restart the daemon" {
		t.Fatalf("Hint = %q, want inner hint preserved", outer.Hint)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil is success", nil, 0},
		{"corruption is operator error", New(StateCorrupt, "bad state", "restart"), 1},
		{"budget corruption is operator error", New(BudgetCorrupt, "bad budget", "restart"), 1},
		{"bundle failure is runtime error", New(BundleFailed, "zip failed", "retry"), 2},
		{"plain error is runtime error", errors.New("boom"), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
