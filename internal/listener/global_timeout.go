package listener

import (
	"errors"
	"sync"
	"time"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/scheduler"
	"github.com/msageha/stepflow/internal/timeout"
)

// exhaustedStepTimeout is given to steps queued after the test budget ran out.
const exhaustedStepTimeout = 10 * time.Millisecond

// GlobalTimeout enforces the test and suite budgets from the config, the
// suite and the test itself. Every step gets the remaining budget as an
// ambient timeout; the budget shrinks by each finished step's duration.
// Timeout failures are reported as StepTimeoutError, or TestTimeoutError
// once the whole budget is spent.
func GlobalTimeout(sc *scheduler.Context) func() {
	if !sc.Store.Timeouts() {
		sc.Logger.Infof("timeouts were disabled")
		return func() {}
	}

	var (
		mu           sync.Mutex
		active       bool
		remaining    time.Duration
		budget       time.Duration
		suiteBudgets []float64
	)
	cfg := sc.Config.Timeout
	d := sc.Events
	log := sc.Logger.With("timeout")

	return detachAll([]func(){
		d.On(events.HookStarted, func(e events.Event) {
			if e.Hook == nil {
				return
			}
			if e.Hook.Kind == model.HookBeforeSuite || e.Hook.Kind == model.HookAfterSuite {
				mu.Lock()
				active = false
				suiteBudgets = nil
				mu.Unlock()
			}
		}),
		d.On(events.SuiteBefore, func(e events.Event) {
			if cfg.Default > 0 && timeout.LooksLikeMilliseconds(cfg.Default) {
				log.Warnf("timeout was set to %gs; global timeout should be specified in seconds", cfg.Default)
			}
			budgets := cfg.SuiteTimeouts(e.Suite.Title)
			if e.Suite.TotalTimeout > 0 {
				budgets = append(budgets, e.Suite.TotalTimeout)
			}
			if len(budgets) > 0 {
				log.Debugf("%s: suite timeouts %v", e.Suite.Title, budgets)
			}
			mu.Lock()
			suiteBudgets = budgets
			mu.Unlock()
		}),
		d.On(events.TestBefore, func(e events.Event) {
			mu.Lock()
			defer mu.Unlock()
			secs := e.Test.TotalTimeout
			if secs == 0 {
				secs = cfg.TestTimeout(e.Test.Title)
			}
			if secs == 0 && len(suiteBudgets) > 0 {
				secs = suiteBudgets[len(suiteBudgets)-1]
			}
			active = secs > 0
			if !active {
				return
			}
			budget = timeout.Seconds(secs)
			remaining = budget
			log.Debugf("%s: test timeout %gs", e.Test.Title, secs)
		}),
		d.On(events.TestFinished, func(events.Event) {
			mu.Lock()
			active = false
			mu.Unlock()
		}),
		d.On(events.StepBefore, func(e events.Event) {
			mu.Lock()
			defer mu.Unlock()
			if !active || !sc.Store.Timeouts() {
				return
			}
			if remaining < 0 {
				e.Step.SetTimeout(exhaustedStepTimeout, timeout.OrderTestOrSuite)
				return
			}
			e.Step.SetTimeout(remaining, timeout.OrderTestOrSuite)
		}),
		d.On(events.StepAfter, func(e events.Event) {
			mu.Lock()
			on := active
			mu.Unlock()
			if !on || !sc.Store.Timeouts() {
				return
			}
			s := e.Step
			sc.Recorder.CatchWithoutStop(func(err error) (any, error) {
				if !isBareTimeout(err) {
					return nil, err
				}
				mu.Lock()
				defer mu.Unlock()
				if !s.StartTime.IsZero() && time.Since(s.StartTime) >= remaining {
					return nil, timeout.NewTestTimeoutError(budget)
				}
				return nil, timeout.NewStepTimeoutError(budget, s.ToCode())
			})
		}),
		d.On(events.StepFinished, func(e events.Event) {
			if !sc.Store.Timeouts() {
				return
			}
			mu.Lock()
			if !active {
				mu.Unlock()
				return
			}
			remaining -= e.Step.Duration()
			spent := remaining <= 0
			mu.Unlock()
			if spent && e.Err == nil {
				log.Debugf("step %s used up the test timeout", e.Step.ToCode())
				sc.Store.FailStep(timeout.NewTestTimeoutError(budget))
			}
		}),
	})
}

// isBareTimeout reports a timeout that has not been classified yet.
func isBareTimeout(err error) bool {
	var testErr *timeout.TestTimeoutError
	var stepErr *timeout.StepTimeoutError
	if errors.As(err, &testErr) || errors.As(err, &stepErr) {
		return false
	}
	return timeout.IsTimeout(err)
}
