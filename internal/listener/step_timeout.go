package listener

import (
	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/scheduler"
	"github.com/msageha/stepflow/internal/timeout"
)

// StepTimeout gives every step a default timeout. With OverrideStepLimits
// it wins over limits set from test code; otherwise test code wins.
// Steps matching NoTimeoutSteps get an explicit "no timeout".
func StepTimeout(sc *scheduler.Context, cfg model.StepTimeoutConfig) func() {
	if !cfg.Enabled {
		return func() {}
	}
	order := timeout.OrderStepTimeoutSoft
	if cfg.OverrideStepLimits {
		order = timeout.OrderStepTimeoutHard
	}
	return sc.Events.On(events.StepBefore, func(e events.Event) {
		secs := cfg.Seconds
		if matchAny(e.Step.Name, cfg.NoTimeoutSteps) {
			secs = 0
		}
		e.Step.SetTimeout(timeout.Seconds(secs), order)
	})
}
