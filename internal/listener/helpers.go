package listener

import (
	"context"
	"fmt"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/helper"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/recorder"
	"github.com/msageha/stepflow/internal/scheduler"
)

// Helpers queues the test and suite hooks of every helper that has them.
// Hooks run in helper order; the first failing hook fails the event.
func Helpers(sc *scheduler.Context, helpers []helper.Helper) func() {
	d := sc.Events
	rec := sc.Recorder

	queue := func(name string, fn func(ctx context.Context, h helper.Helper) error) {
		rec.Add(name, func(ctx context.Context) (any, error) {
			for _, h := range helpers {
				if err := fn(ctx, h); err != nil {
					return nil, fmt.Errorf("%s %s: %w", h.Name(), name, err)
				}
			}
			return nil, nil
		}, recorder.NoRetry())
	}

	return detachAll([]func(){
		d.On(events.SuiteBefore, func(e events.Event) {
			queue("beforeSuite", func(ctx context.Context, h helper.Helper) error {
				if sh, ok := h.(helper.SuiteHooks); ok {
					return sh.BeforeSuite(ctx, e.Suite)
				}
				return nil
			})
		}),
		d.On(events.SuiteAfter, func(e events.Event) {
			queue("afterSuite", func(ctx context.Context, h helper.Helper) error {
				if sh, ok := h.(helper.SuiteHooks); ok {
					return sh.AfterSuite(ctx, e.Suite)
				}
				return nil
			})
		}),
		d.On(events.TestBefore, func(e events.Event) {
			queue("before", testHook(e.Test, helper.TestHooks.BeforeTest))
		}),
		d.On(events.TestAfter, func(e events.Event) {
			queue("after", testHook(e.Test, helper.TestHooks.AfterTest))
		}),
	})
}

func testHook(t *model.Test, hook func(helper.TestHooks, context.Context, *model.Test) error) func(context.Context, helper.Helper) error {
	return func(ctx context.Context, h helper.Helper) error {
		if th, ok := h.(helper.TestHooks); ok {
			return hook(th, ctx, t)
		}
		return nil
	}
}
