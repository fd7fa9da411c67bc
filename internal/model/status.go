package model

import "fmt"

// Status is the lifecycle state of a step.
type Status string

const (
	StatusPending Status = "pending"
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
)

// TestState is the reported outcome of a test or hook.
type TestState string

const (
	TestStatePending TestState = ""
	TestStatePassed  TestState = "passed"
	TestStateFailed  TestState = "failed"
	TestStateSkipped TestState = "skipped"
)

var terminalStatuses = map[Status]bool{
	StatusPassed: true,
	StatusFailed: true,
}

// Step transitions: pending → queued → running → passed|failed.
// Steps may skip forward (a comment step goes straight to passed).
// passed → failed exists for meta steps aggregating a later failing child;
// the worst status wins on the way from leaf to root.
var validStepTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusQueued:  true,
		StatusRunning: true,
		StatusPassed:  true,
		StatusFailed:  true,
	},
	StatusQueued: {
		StatusRunning: true,
		StatusPassed:  true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusPassed: true,
		StatusFailed: true,
	},
	StatusPassed: {
		StatusFailed: true,
	},
}

func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

func ValidateStepTransition(from, to Status) error {
	if from == to {
		return nil
	}
	allowed, ok := validStepTransitions[from]
	if !ok {
		if IsTerminal(from) {
			return fmt.Errorf("cannot transition from terminal status %q", from)
		}
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid step transition: %q → %q", from, to)
	}
	return nil
}
