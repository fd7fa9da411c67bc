package listener

import (
	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/scheduler"
)

// Result collects every test into res and counts failed hooks. Tests
// failed or skipped before they started are collected too.
func Result(sc *scheduler.Context, res *model.RunResult) func() {
	d := sc.Events
	add := func(e events.Event) { res.AddTest(e.Test) }
	return detachAll([]func(){
		d.On(events.HookFailed, func(events.Event) {
			res.AddStats(model.Stats{FailedHooks: 1})
		}),
		d.On(events.TestBefore, add),
		d.On(events.TestFailed, add),
		d.On(events.TestSkipped, add),
	})
}
