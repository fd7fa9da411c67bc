// Package timeout resolves the effective timeout of a step from declarations
// made at different layers (config, suite, test, step) and defines the
// timeout error taxonomy.
package timeout

import (
	"sort"
	"time"
)

// Order tags a timeout declaration with its precedence class.
//
// Orders below zero are ambient defaults: they only replace a value set by a
// higher order when they are tighter. Orders of zero and above are explicit
// overrides and always replace whatever was set by a higher order.
type Order int

const (
	// OrderTestOrSuite is used by the global test/suite budget.
	OrderTestOrSuite Order = -5
	// OrderStepTimeoutHard (0-9) overrides limits set from code.
	OrderStepTimeoutHard Order = 5
	// OrderCodeLimitTime (10-19) is used by step.Timeout and Actor.LimitTime.
	OrderCodeLimitTime Order = 15
	// OrderStepTimeoutSoft (20-29) can be overridden from test code.
	OrderStepTimeoutSoft Order = 25
)

// Resolve merges timeout declarations into one effective duration.
// Zero means "no timeout" and is a valid result. ok is false when nothing
// applies.
func Resolve(timeouts map[Order]time.Duration) (effective time.Duration, ok bool) {
	orders := make([]Order, 0, len(timeouts))
	for o := range timeouts {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i] > orders[j] })

	for _, order := range orders {
		d := timeouts[order]
		switch {
		case order >= 0:
			effective, ok = d, true
		case !ok:
			effective, ok = d, true
		case d > 0 && (d < effective || effective == 0):
			effective = d
		}
	}
	return effective, ok
}

// Seconds converts a seconds value as written in config files.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
