package actor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/helper"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/recorder"
	"github.com/msageha/stepflow/internal/scheduler"
	"github.com/msageha/stepflow/internal/step"
	"github.com/msageha/stepflow/internal/timeout"
)

// Actor is the "I" of a test: every call becomes a recorded step.
type Actor struct {
	sc  *scheduler.Context
	reg *Registry

	mu     sync.RWMutex
	custom map[string]model.Callable
}

func New(sc *scheduler.Context, reg *Registry) *Actor {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Actor{sc: sc, reg: reg, custom: make(map[string]model.Callable)}
}

func (a *Actor) Registry() *Registry { return a.reg }

// Define adds a custom step. Custom steps run as meta steps and take
// precedence over helper methods of the same name.
func (a *Actor) Define(name string, fn model.Callable) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.custom[name] = fn
}

// Has reports whether name is a custom step or a helper method.
func (a *Actor) Has(name string) bool {
	a.mu.RLock()
	_, ok := a.custom[name]
	a.mu.RUnlock()
	if ok {
		return true
	}
	_, _, err := a.reg.Resolve(name)
	return err == nil
}

// Do records the method of whichever helper provides it. An unknown method
// fails the queue at this point.
func (a *Actor) Do(name string, args ...any) *recorder.Promise {
	a.mu.RLock()
	fn, custom := a.custom[name]
	a.mu.RUnlock()
	if custom {
		return a.runCustom(name, fn, args)
	}

	helperName, method, err := a.reg.Resolve(name)
	if err != nil {
		return a.sc.Recorder.Throw(err)
	}
	return step.Record(a.sc, model.NewHelperStep(helperName, name, model.Callable(method)), args...)
}

// Call records method on a specific helper.
func (a *Actor) Call(helperName, name string, args ...any) *recorder.Promise {
	method, err := a.reg.ResolveOn(helperName, name)
	if err != nil {
		return a.sc.Recorder.Throw(err)
	}
	return step.Record(a.sc, model.NewHelperStep(helperName, name, model.Callable(method)), args...)
}

func (a *Actor) runCustom(name string, fn model.Callable, args []any) *recorder.Promise {
	ms := model.NewMetaStep("I", name, fn)
	v, err := step.Run(a.sc.Recorder.Context(), a.sc, ms, args...)
	if err != nil {
		return a.sc.Recorder.Throw(err)
	}
	if p, ok := v.(*recorder.Promise); ok {
		return p
	}
	return recorder.Resolved(v)
}

// Say records a comment line.
func (a *Actor) Say(msg string) *recorder.Promise {
	s := model.NewPlainStep("say")
	s.SetStatus(model.StatusPassed)
	step.Record(a.sc, s, msg)
	return a.sc.Recorder.Add("say", func(context.Context) (any, error) {
		a.sc.Events.Emit(events.Event{Type: events.StepComment, Step: s, Value: msg})
		a.sc.Logger.Infof("%s", msg)
		return nil, nil
	}, recorder.NoRetry())
}

// LimitTime sets the timeout of the next recorded step. It does nothing
// when timeouts are disabled.
func (a *Actor) LimitTime(seconds float64) *Actor {
	if !a.sc.Store.Timeouts() {
		return a
	}
	a.sc.Events.PrependOnce(events.StepBefore, func(e events.Event) {
		if e.Step == nil {
			return
		}
		a.sc.Logger.Debugf("timeout to %s: %gs", e.Step, seconds)
		e.Step.SetTimeout(timeout.Seconds(seconds), timeout.OrderCodeLimitTime)
	})
	return a
}

// Retry retries the next recorded step with opts.
func (a *Actor) Retry(opts recorder.RetryOptions) *Actor {
	step.RetryScopeWith(a.sc, opts)
	return a
}

// Methods lists custom steps and helper methods, sorted.
func (a *Actor) Methods() []string {
	seen := map[string]bool{}
	var out []string
	a.mu.RLock()
	for n := range a.custom {
		seen[n] = true
		out = append(out, n)
	}
	a.mu.RUnlock()
	for _, h := range a.reg.Helpers() {
		for _, m := range helper.MethodNames(h) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out
}

func (a *Actor) String() string {
	return fmt.Sprintf("I (%d helpers)", len(a.reg.Helpers()))
}
