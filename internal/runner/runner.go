// Package runner drives suites, hooks and tests over a scheduler: every
// body only enqueues steps, and the runner drains the queue and turns the
// outcome into lifecycle events.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/logging"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/recorder"
	"github.com/msageha/stepflow/internal/scheduler"
)

const teardownSession = "teardown"

// ErrUnexpectedError is returned when a test declared an expected error and
// failed with a different one.
var ErrUnexpectedError = errors.New("test failed with an unexpected error")

type Runner struct {
	sc     *scheduler.Context
	res    *model.RunResult
	logger *logging.Logger
}

func New(sc *scheduler.Context, res *model.RunResult) *Runner {
	if res == nil {
		res = model.NewRunResult()
	}
	return &Runner{sc: sc, res: res, logger: sc.Logger.With("runner")}
}

func (r *Runner) Result() *model.RunResult { return r.res }

// Run executes every suite in order and returns the tallied result.
func (r *Runner) Run(ctx context.Context, suites []*model.Suite) *model.RunResult {
	d := r.sc.Events
	r.res.Start()
	d.Emit(events.Event{Type: events.AllBefore, Result: r.res})
	for _, s := range suites {
		if ctx.Err() != nil {
			break
		}
		if err := r.RunSuite(ctx, s); err != nil {
			r.logger.Warnf("suite %q: %v", s.Title, err)
		}
	}
	r.res.Tally()
	d.Emit(events.Event{Type: events.AllResult, Result: r.res})
	d.Emit(events.Event{Type: events.AllAfter, Result: r.res})
	return r.res
}

// RunSuite runs the suite hooks around every test. A failing suite-level
// or before hook fails the tests that have not run yet.
func (r *Runner) RunSuite(ctx context.Context, suite *model.Suite) error {
	rec := r.sc.Recorder
	rec.SetContext(ctx)
	rec.Reset()
	rec.Start()

	if err := r.inject(func() { r.sc.Events.EmitSuite(events.SuiteBefore, suite) }); err != nil {
		r.failTests(suite.Tests, err, "suiteBefore")
		return err
	}

	var suiteErr error
	for _, h := range suite.BeforeSuite {
		if err := r.RunHook(ctx, h); err != nil {
			r.failTests(suite.Tests, err, "BeforeSuite")
			suiteErr = err
			break
		}
	}

	if suiteErr == nil {
		for i, t := range suite.Tests {
			if ctx.Err() != nil {
				suiteErr = ctx.Err()
				break
			}
			if err := r.RunTest(ctx, t); errors.Is(err, errBeforeHook) {
				r.failTests(suite.Tests[i+1:], err, "Before")
				suiteErr = err
				break
			}
		}
	}

	for _, h := range suite.AfterSuite {
		if err := r.RunHook(ctx, h); err != nil && suiteErr == nil {
			suiteErr = err
		}
	}

	if err := r.inject(func() { r.sc.Events.EmitSuite(events.SuiteAfter, suite) }); err != nil && suiteErr == nil {
		suiteErr = err
	}
	return suiteErr
}

var errBeforeHook = errors.New("before hook failed")

// RunTest runs a test with its before and after hooks, retrying it up to
// test.Retries times.
func (r *Runner) RunTest(ctx context.Context, test *model.Test) error {
	if test.Skip {
		test.State = model.TestStateSkipped
		r.sc.Events.EmitTest(events.TestSkipped, test, nil)
		return nil
	}
	for attempt := 0; ; attempt++ {
		err := r.runTestOnce(ctx, test)
		if err == nil || errors.Is(err, errBeforeHook) || attempt >= test.Retries || ctx.Err() != nil {
			return err
		}
		r.logger.Infof("retrying %q (%d/%d): %v", test.Title, attempt+1, test.Retries, err)
	}
}

func (r *Runner) runTestOnce(ctx context.Context, test *model.Test) error {
	rec := r.sc.Recorder
	rec.SetContext(ctx)
	rec.Reset()
	rec.Start()
	test.State, test.Err = model.TestStatePending, nil
	test.StartedAt = time.Now()
	defer func() { test.Duration = time.Since(test.StartedAt) }()

	if err := r.inject(func() { r.sc.Events.EmitTest(events.TestBefore, test, nil) }); err != nil {
		r.failTests([]*model.Test{test}, err, "Before")
		return fmt.Errorf("%w: %w", errBeforeHook, err)
	}

	if test.Suite != nil {
		for _, h := range test.Suite.Before {
			h.Test = test
			if err := r.RunHook(ctx, h); err != nil {
				r.failTests([]*model.Test{test}, err, "Before")
				r.teardown(test)
				return fmt.Errorf("%w: %w", errBeforeHook, err)
			}
		}
	}

	err := r.runBody(ctx, test)

	if test.Suite != nil {
		for _, h := range test.Suite.After {
			h.Test = test
			if herr := r.RunHook(ctx, h); herr != nil && err == nil {
				err = herr
			}
		}
	}
	r.teardown(test)
	return err
}

// runBody runs the test function and drains its queue. A failure reaches
// the recorder's error handler, which reports it and opens a teardown
// session for whatever runs next.
func (r *Runner) runBody(ctx context.Context, test *model.Test) error {
	rec := r.sc.Recorder
	d := r.sc.Events
	var failure error

	rec.StartUnlessRunning()
	rec.ErrHandler(func(err error) (any, error) {
		rec.Session().Start(teardownSession)
		rec.CleanAsyncErr()
		if test.Throws != "" {
			if strings.Contains(err.Error(), test.Throws) {
				test.State = model.TestStatePassed
				d.EmitTest(events.TestPassed, test, nil)
				d.EmitTest(events.TestFinished, test, nil)
				return nil, nil
			}
			err = fmt.Errorf("%w: expected %q, got: %w", ErrUnexpectedError, test.Throws, err)
		}
		failure = err
		test.Err = err
		test.State = model.TestStateFailed
		d.EmitTest(events.TestFailed, test, err)
		d.EmitTest(events.TestFinished, test, err)
		return nil, nil
	})

	d.EmitTest(events.TestStarted, test, nil)
	if err := call(ctx, test.Fn); err != nil {
		rec.Throw(err)
	}
	rec.Add("fire test.passed", func(context.Context) (any, error) {
		test.State = model.TestStatePassed
		d.EmitTest(events.TestPassed, test, nil)
		d.EmitTest(events.TestFinished, test, nil)
		return nil, nil
	}, recorder.NoRetry())
	rec.Catch(nil)

	if _, err := rec.Promise().Await(); err != nil {
		return err
	}
	return failure
}

// RunHook runs a hook, retrying it up to hook.Retries times.
func (r *Runner) RunHook(ctx context.Context, h *model.Hook) error {
	rec := r.sc.Recorder
	d := r.sc.Events
	d.EmitHook(events.HookStarted, h, nil)

	var err error
	for attempt := 0; ; attempt++ {
		rec.StartUnlessRunning()
		err = r.runHookOnce(ctx, h)
		if err == nil || attempt >= h.Retries || ctx.Err() != nil {
			break
		}
		r.logger.Infof("retrying %s (%d/%d): %v", h.Title(), attempt+1, h.Retries, err)
	}

	if err != nil {
		if async := rec.AsyncErr(); async != nil {
			err = async
		}
		rec.CleanAsyncErr()
		h.Err = err
		d.EmitHook(events.HookFailed, h, err)
		d.EmitHook(events.HookFinished, h, err)
		return fmt.Errorf("%s: %w", h.Title(), err)
	}
	h.Err = nil
	d.EmitHook(events.HookPassed, h, nil)
	d.EmitHook(events.HookFinished, h, nil)
	return nil
}

func (r *Runner) runHookOnce(ctx context.Context, h *model.Hook) error {
	rec := r.sc.Recorder
	if err := call(ctx, h.Fn); err != nil {
		rec.Throw(err)
	}
	var failure error
	rec.CatchWithoutStop(func(err error) (any, error) {
		failure = err
		return nil, nil
	})
	if _, err := rec.Promise().Await(); err != nil {
		return err
	}
	return failure
}

func (r *Runner) teardown(test *model.Test) {
	if err := r.inject(func() { r.sc.Events.EmitTest(events.TestAfter, test, nil) }); err != nil {
		r.logger.Warnf("%s: after test: %v", test.Title, err)
	}
}

// inject emits a lifecycle event on a running queue and drains whatever
// listeners enqueued in response.
func (r *Runner) inject(emit func()) error {
	rec := r.sc.Recorder
	rec.StartUnlessRunning()
	emit()
	var failure error
	rec.CatchWithoutStop(func(err error) (any, error) {
		failure = err
		return nil, nil
	})
	if _, err := rec.Promise().Await(); err != nil {
		return err
	}
	return failure
}

func (r *Runner) failTests(tests []*model.Test, err error, hookName string) {
	for _, t := range tests {
		if t.State == model.TestStatePassed {
			continue
		}
		t.Err = err
		t.State = model.TestStateFailed
		r.sc.Events.Emit(events.Event{
			Type: events.TestFailed,
			Test: t,
			Err:  err,
			Data: map[string]any{"hook": hookName},
		})
		r.sc.Events.EmitTest(events.TestFinished, t, err)
	}
}

func call(ctx context.Context, fn model.TestFunc) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			if perr, ok := rec.(error); ok {
				err = fmt.Errorf("panic: %w", perr)
				return
			}
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}
