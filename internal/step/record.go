package step

import (
	"context"
	"fmt"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/recorder"
	"github.com/msageha/stepflow/internal/scheduler"
	"github.com/msageha/stepflow/internal/timeout"
)

// Record queues s on the scheduler and returns a promise of its result.
// A trailing *Config in args is applied to the step and not passed on.
//
// Listeners see step.before and step.after while the step is being
// queued; step.started, step.passed or step.failed, and step.finished
// fire when the queue reaches it. A step with a timeout runs on its own
// goroutine and is abandoned, not stopped, when the deadline passes; the
// step itself is only updated by the tasks around it.
func Record(sc *scheduler.Context, s *model.Step, args ...any) *recorder.Promise {
	rec := sc.Recorder
	s.SetStatus(model.StatusQueued)

	args, cfg := splitConfig(args)
	if cfg != nil {
		applyConfig(sc, s, cfg)
	}
	s.SetArguments(args)

	sc.Events.EmitStep(events.StepBefore, s, nil, nil)

	var opts []recorder.TaskOption
	if d, ok := s.Timeout(); ok && d > 0 && sc.Store.Timeouts() {
		opts = append(opts, recorder.WithTimeout(d))
	}

	var (
		val      any
		finished bool
	)
	rec.Add("step started", func(context.Context) (any, error) {
		sc.Store.SetCurrentStep(s)
		if s.StartTime.IsZero() {
			sc.Events.EmitStep(events.StepStarted, s, nil, nil)
		}
		begin(s, args)
		return nil, nil
	}, recorder.NoRetry())
	result := rec.Add(fmt.Sprintf("%s: %s", s.Name, s.HumanizeArgs()), func(ctx context.Context) (any, error) {
		return perform(ctx, sc, s, args)
	}, opts...)

	sc.Events.EmitStep(events.StepAfter, s, nil, nil)

	rec.Add("step passed", func(context.Context) (any, error) {
		val, _ = result.Result()
		finish(s, nil)
		finished = true
		sc.Events.EmitStep(events.StepPassed, s, val, nil)
		sc.Events.EmitStep(events.StepFinished, s, val, nil)
		return nil, sc.Store.TakeStepFailure()
	}, recorder.NoRetry())

	rec.CatchWithoutStop(func(err error) (any, error) {
		// Skipped after an earlier failure, or already reported as finished.
		if s.StartTime.IsZero() || finished {
			return nil, err
		}
		finish(s, err)
		sc.Events.EmitStep(events.StepFailed, s, nil, err)
		sc.Events.EmitStep(events.StepFinished, s, nil, err)
		return nil, err
	})

	rec.Add("return result", func(context.Context) (any, error) {
		return val, nil
	}, recorder.NoRetry())

	return rec.Promise()
}

func applyConfig(sc *scheduler.Context, s *model.Step, cfg *Config) {
	if opts := cfg.Options(); len(opts) > 0 {
		sc.Logger.Debugf("step %s: options applied %v", s.Name, opts)
		sc.Store.SetStepOptions(opts)
		s.Opts = opts
	}
	if secs := cfg.TimeoutSeconds(); secs > 0 {
		sc.Logger.Debugf("step %s: timeout %gs", s.Name, secs)
		s.SetTimeout(timeout.Seconds(secs), timeout.OrderCodeLimitTime)
	}
	if n, ok := cfg.Retries(); ok {
		RetryScope(sc, n)
	}
}
