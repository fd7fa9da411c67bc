package timeout

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TimeoutError is the base kind for every exceeded deadline.
type TimeoutError struct {
	Msg string
}

func (e *TimeoutError) Error() string { return e.Msg }

func NewTimeoutError(format string, args ...any) *TimeoutError {
	return &TimeoutError{Msg: fmt.Sprintf(format, args...)}
}

// TestTimeoutError reports that the whole test (or suite) budget is exhausted.
type TestTimeoutError struct {
	TimeoutError
	Timeout time.Duration
}

func NewTestTimeoutError(budget time.Duration) *TestTimeoutError {
	return &TestTimeoutError{
		TimeoutError: TimeoutError{Msg: fmt.Sprintf("Timeout %ss exceeded (with Before hook)", formatSeconds(budget))},
		Timeout:      budget,
	}
}

func (e *TestTimeoutError) Unwrap() error { return &e.TimeoutError }

// StepTimeoutError reports that a single step exceeded its slice of the budget.
type StepTimeoutError struct {
	TimeoutError
	Timeout time.Duration
	Step    string
}

func NewStepTimeoutError(budget time.Duration, stepCode string) *StepTimeoutError {
	return &StepTimeoutError{
		TimeoutError: TimeoutError{Msg: fmt.Sprintf("Step %s timed out after %ss", stepCode, formatSeconds(budget))},
		Timeout:      budget,
		Step:         stepCode,
	}
}

func (e *StepTimeoutError) Unwrap() error { return &e.TimeoutError }

// IsTimeout reports whether err is, or wraps, any timeout kind.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
