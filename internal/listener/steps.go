package listener

import (
	"sync"
	"time"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/scheduler"
)

// Steps appends every started step to the running hook or test, and cuts
// the list after the first failed step when a test fails.
func Steps(sc *scheduler.Context) func() {
	var (
		mu      sync.Mutex
		test    *model.Test
		hook    *model.Hook
		started = map[*model.Test]bool{}
	)
	d := sc.Events

	return detachAll([]func(){
		d.On(events.TestBefore, func(e events.Event) {
			e.Test.StartedAt = time.Now()
		}),
		d.On(events.TestStarted, func(e events.Event) {
			mu.Lock()
			defer mu.Unlock()
			test = e.Test
			test.Steps = nil
			if started[test] {
				test.RetryNum++
			}
			started[test] = true
		}),
		d.On(events.TestAfter, func(events.Event) {
			mu.Lock()
			defer mu.Unlock()
			test = nil
		}),
		d.On(events.HookStarted, func(e events.Event) {
			mu.Lock()
			defer mu.Unlock()
			hook = e.Hook
			if hook != nil {
				hook.Steps = nil
			}
		}),
		d.On(events.HookFinished, func(events.Event) {
			mu.Lock()
			defer mu.Unlock()
			hook = nil
		}),
		d.On(events.TestFailed, func(events.Event) {
			mu.Lock()
			defer mu.Unlock()
			if hook != nil && len(hook.Steps) > 0 {
				hook.Steps = cutSteps(hook.Steps)
				hook = nil
				return
			}
			if test == nil || len(test.Steps) == 0 {
				return
			}
			test.State = model.TestStateFailed
			test.Steps = cutSteps(test.Steps)
		}),
		d.On(events.TestPassed, func(events.Event) {
			mu.Lock()
			defer mu.Unlock()
			if test == nil {
				return
			}
			test.Err = nil
			test.State = model.TestStatePassed
		}),
		d.On(events.StepStarted, func(e events.Event) {
			sc.Store.SetCurrentStep(e.Step)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case hook != nil:
				hook.Steps = append(hook.Steps, e.Step)
			case test != nil:
				test.Steps = append(test.Steps, e.Step)
			}
		}),
		d.On(events.StepFinished, func(events.Event) {
			sc.Store.SetCurrentStep(nil)
			sc.Store.SetStepOptions(nil)
		}),
	})
}

// cutSteps keeps steps up to and including the first failed one.
func cutSteps(steps []*model.Step) []*model.Step {
	for i, s := range steps {
		if s.Status == model.StatusFailed {
			return steps[:i+1]
		}
	}
	return steps
}
