// Package step executes and records steps on a scheduler.
package step

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/scheduler"
)

var ErrNoCallable = errors.New("step has no callable")

// Run executes s according to its kind. Under dry-run, callables are not
// invoked: the step passes and a placeholder is returned. Meta steps still
// run their body so the steps inside them get recorded.
func Run(ctx context.Context, sc *scheduler.Context, s *model.Step, args ...any) (any, error) {
	begin(s, args)
	v, err := perform(ctx, sc, s, args)
	finish(s, err)
	return v, err
}

// begin marks s as started. It runs on the goroutine that drives the queue.
func begin(s *model.Step, args []any) {
	s.SetArguments(args)
	if s.StartTime.IsZero() {
		s.StartTime = time.Now()
	}
	if s.Kind == model.StepFunc || s.Kind == model.StepHelper {
		s.SetStatus(model.StatusRunning)
	}
}

// finish records the outcome of s. Like begin, it runs on the driving
// goroutine, never on one a timeout may have abandoned.
func finish(s *model.Step, err error) {
	s.EndTime = time.Now()
	if err != nil {
		s.SetStatus(model.StatusFailed)
		return
	}
	s.SetStatus(model.StatusPassed)
}

// perform runs the work of s without writing to s.
func perform(ctx context.Context, sc *scheduler.Context, s *model.Step, args []any) (any, error) {
	switch s.Kind {
	case model.StepPlain:
		return nil, nil
	case model.StepMeta:
		return runMeta(ctx, sc, s, args)
	}
	if sc.Store.DryRun() {
		if s.Kind == model.StepHelper {
			return model.DryRunValue{}, nil
		}
		return true, nil
	}
	if s.Fn == nil {
		return nil, fmt.Errorf("%s: %w", s.Name, ErrNoCallable)
	}
	return invoke(ctx, s.Fn, args)
}

// runMeta runs the body of a meta step. Every step recorded while the body
// runs is attached, through its root, under s.
func runMeta(ctx context.Context, sc *scheduler.Context, s *model.Step, args []any) (any, error) {
	if s.Fn == nil {
		return nil, fmt.Errorf("%s: %w", s.Name, ErrNoCallable)
	}
	off := sc.Events.Prepend(events.StepBefore, func(e events.Event) {
		if e.Step == nil || e.Step == s {
			return
		}
		if root := e.Step.Root(); root != s {
			root.SetMetaStep(s)
		}
	})
	defer off()
	return invoke(ctx, s.Fn, args)
}

func invoke(ctx context.Context, fn model.Callable, args []any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(error); ok {
				err = perr
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	return fn(ctx, args...)
}
