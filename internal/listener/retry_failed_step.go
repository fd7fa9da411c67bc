package listener

import (
	"sync/atomic"
	"time"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/recorder"
	"github.com/msageha/stepflow/internal/scheduler"
)

// DisableRetryFailedStep is the test meta key that opts a test out.
const DisableRetryFailedStep = "disableRetryFailedStep"

// RetryFailedStep retries every failing step of a test, except ignored
// steps, steps run in debug mode and steps inside tryTo.
func RetryFailedStep(sc *scheduler.Context, cfg model.RetryFailedStepConfig) func() {
	if !cfg.Enabled {
		return func() {}
	}
	var enabled atomic.Bool
	d := sc.Events

	return detachAll([]func(){
		d.On(events.StepStarted, func(e events.Event) {
			if matchAny(e.Step.Name, cfg.IgnoredSteps) {
				return
			}
			enabled.Store(true)
		}),
		d.On(events.StepFinished, func(events.Event) {
			enabled.Store(false)
		}),
		d.On(events.TestBefore, func(e events.Event) {
			if e.Test.Meta[DisableRetryFailedStep] == "true" {
				return
			}
			sc.Store.SetAutoRetries(true)
			sc.Recorder.Retry(recorder.RetryOptions{
				Retries:    cfg.Retries,
				MinTimeout: time.Duration(cfg.MinTimeoutMs) * time.Millisecond,
				MaxTimeout: time.Duration(cfg.MaxTimeoutMs) * time.Millisecond,
				Factor:     cfg.Factor,
				When: func(error) bool {
					return enabled.Load() && !sc.Store.DebugMode() && sc.Store.AutoRetries()
				},
			})
		}),
	})
}
