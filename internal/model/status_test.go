package model

import "testing"

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusQueued, false},
		{StatusRunning, false},
		{StatusPassed, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := IsTerminal(tt.status); got != tt.terminal {
				t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestValidateStepTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusQueued, StatusRunning, true},
		{StatusRunning, StatusPassed, true},
		{StatusRunning, StatusFailed, true},
		{StatusPending, StatusPassed, true},
		{StatusPassed, StatusFailed, true},
		{StatusPassed, StatusPassed, true},
		{StatusFailed, StatusPassed, false},
		{StatusFailed, StatusRunning, false},
		{StatusRunning, StatusQueued, false},
		{StatusPassed, StatusRunning, false},
		{Status("bogus"), StatusPassed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateStepTransition(tt.from, tt.to)
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Errorf("expected error for %q → %q", tt.from, tt.to)
			}
		})
	}
}
