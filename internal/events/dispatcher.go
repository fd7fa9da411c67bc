package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/msageha/stepflow/internal/logging"
	"github.com/msageha/stepflow/internal/model"
)

// EventType names a lifecycle notification.
type EventType string

const (
	StepBefore   EventType = "step.before"
	StepStarted  EventType = "step.started"
	StepAfter    EventType = "step.after"
	StepPassed   EventType = "step.passed"
	StepFailed   EventType = "step.failed"
	StepFinished EventType = "step.finished"
	StepComment  EventType = "step.comment"

	TestBefore   EventType = "test.before"
	TestStarted  EventType = "test.started"
	TestPassed   EventType = "test.passed"
	TestFailed   EventType = "test.failed"
	TestFinished EventType = "test.finished"
	TestAfter    EventType = "test.after"
	TestSkipped  EventType = "test.skipped"

	HookStarted  EventType = "hook.started"
	HookPassed   EventType = "hook.passed"
	HookFailed   EventType = "hook.failed"
	HookFinished EventType = "hook.finished"

	SuiteBefore EventType = "suite.before"
	SuiteAfter  EventType = "suite.after"

	AllBefore EventType = "all.before"
	AllResult EventType = "all.result"
	AllAfter  EventType = "all.after"

	WorkerResult EventType = "worker.result"
)

// Event is the payload handed to listeners. Only the fields relevant to the
// event type are set.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Step      *model.Step
	Test      *model.Test
	Hook      *model.Hook
	Suite     *model.Suite
	Result    *model.RunResult
	Value     any
	Err       error
	Data      map[string]any
}

// Listener receives events synchronously on the emitting goroutine.
type Listener func(Event)

type subscription struct {
	fn   Listener
	once bool
	done bool
}

// Dispatcher is a synchronous publish/subscribe component. Listeners run in
// registration order (prepended ones first); a panicking listener is logged
// and does not stop delivery to the rest.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[EventType][]*subscription
	logger    *logging.Logger
	now       func() time.Time
}

func NewDispatcher(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		listeners: make(map[EventType][]*subscription),
		logger:    logger.With("events"),
		now:       time.Now,
	}
}

// On registers fn and returns a func that removes it.
func (d *Dispatcher) On(t EventType, fn Listener) func() {
	return d.add(t, &subscription{fn: fn}, false)
}

// Prepend registers fn ahead of every existing listener of t.
func (d *Dispatcher) Prepend(t EventType, fn Listener) func() {
	return d.add(t, &subscription{fn: fn}, true)
}

// Once registers fn for a single delivery.
func (d *Dispatcher) Once(t EventType, fn Listener) func() {
	return d.add(t, &subscription{fn: fn, once: true}, false)
}

func (d *Dispatcher) PrependOnce(t EventType, fn Listener) func() {
	return d.add(t, &subscription{fn: fn, once: true}, true)
}

func (d *Dispatcher) add(t EventType, sub *subscription, front bool) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if front {
		d.listeners[t] = append([]*subscription{sub}, d.listeners[t]...)
	} else {
		d.listeners[t] = append(d.listeners[t], sub)
	}
	return func() { d.remove(t, sub) }
}

func (d *Dispatcher) remove(t EventType, sub *subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.listeners[t]
	for i, s := range subs {
		if s == sub {
			d.listeners[t] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(d.listeners[t]) == 0 {
		delete(d.listeners, t)
	}
}

// Emit delivers ev to the listeners registered for ev.Type at the time of
// the call. Listeners added during delivery see the next emit only.
func (d *Dispatcher) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now().UTC()
	}

	d.mu.Lock()
	subs := append([]*subscription(nil), d.listeners[ev.Type]...)
	var fire []*subscription
	for _, s := range subs {
		if s.done {
			continue
		}
		if s.once {
			s.done = true
		}
		fire = append(fire, s)
	}
	d.mu.Unlock()

	for _, s := range fire {
		if s.once {
			d.remove(ev.Type, s)
		}
		d.deliver(ev, s.fn)
	}
}

func (d *Dispatcher) deliver(ev Event, fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("listener for %s panicked: %v", ev.Type, r)
		}
	}()
	fn(ev)
}

func (d *Dispatcher) ListenerCount(t EventType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[t])
}

// RemoveAll drops every listener of the given types, or of all types when
// none are given.
func (d *Dispatcher) RemoveAll(types ...EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(types) == 0 {
		d.listeners = make(map[EventType][]*subscription)
		return
	}
	for _, t := range types {
		delete(d.listeners, t)
	}
}

// EmitStep is a shorthand for step events.
func (d *Dispatcher) EmitStep(t EventType, s *model.Step, value any, err error) {
	d.Emit(Event{Type: t, Step: s, Value: value, Err: err})
}

func (d *Dispatcher) EmitTest(t EventType, test *model.Test, err error) {
	d.Emit(Event{Type: t, Test: test, Err: err})
}

func (d *Dispatcher) EmitHook(t EventType, h *model.Hook, err error) {
	d.Emit(Event{Type: t, Hook: h, Err: err})
}

func (d *Dispatcher) EmitSuite(t EventType, s *model.Suite) {
	d.Emit(Event{Type: t, Suite: s})
}

func (e Event) String() string {
	switch {
	case e.Step != nil:
		return fmt.Sprintf("%s %q", e.Type, e.Step.String())
	case e.Test != nil:
		return fmt.Sprintf("%s %q", e.Type, e.Test.Title)
	case e.Hook != nil:
		return fmt.Sprintf("%s %q", e.Type, e.Hook.Title())
	case e.Suite != nil:
		return fmt.Sprintf("%s %q", e.Type, e.Suite.Title)
	}
	return string(e.Type)
}
