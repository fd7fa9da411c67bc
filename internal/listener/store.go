package listener

import (
	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/scheduler"
)

// Store tracks the current suite and test.
func Store(sc *scheduler.Context) func() {
	d := sc.Events
	return detachAll([]func(){
		d.On(events.SuiteBefore, func(e events.Event) { sc.Store.SetCurrentSuite(e.Suite) }),
		d.On(events.SuiteAfter, func(events.Event) { sc.Store.SetCurrentSuite(nil) }),
		d.On(events.TestBefore, func(e events.Event) { sc.Store.SetCurrentTest(e.Test) }),
		d.On(events.TestFinished, func(events.Event) { sc.Store.SetCurrentTest(nil) }),
		d.On(events.HookStarted, func(e events.Event) { sc.Store.SetCurrentHook(e.Hook) }),
		d.On(events.HookFinished, func(events.Event) { sc.Store.SetCurrentHook(nil) }),
	})
}
