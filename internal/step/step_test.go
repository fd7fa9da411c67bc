package step

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/scheduler"
	"github.com/msageha/stepflow/internal/timeout"
)

func newScheduler() *scheduler.Context {
	sc := scheduler.New(model.DefaultConfig(), nil)
	sc.Recorder.Start()
	return sc
}

func drain(t *testing.T, sc *scheduler.Context) {
	t.Helper()
	for sc.Recorder.Pending() > 0 {
		_ = sc.Recorder.Promise().Err()
	}
}

func trace(sc *scheduler.Context) *[]string {
	var seen []string
	for _, typ := range []events.EventType{
		events.StepBefore, events.StepStarted, events.StepAfter,
		events.StepPassed, events.StepFailed, events.StepFinished,
	} {
		sc.Events.On(typ, func(e events.Event) {
			seen = append(seen, string(e.Type)+" "+e.Step.Name)
		})
	}
	return &seen
}

func echo(_ context.Context, args ...any) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args[0], nil
}

func TestRecord_Passes(t *testing.T) {
	sc := newScheduler()
	seen := trace(sc)

	s := model.NewFuncStep("grab", echo)
	p := Record(sc, s, "value")
	assert.Equal(t, model.StatusQueued, s.Status)
	assert.Equal(t, []string{"step.before grab", "step.after grab"}, *seen)

	v, err := p.Await()
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, model.StatusPassed, s.Status)
	assert.False(t, s.StartTime.IsZero())
	assert.False(t, s.EndTime.Before(s.StartTime))
	assert.Same(t, s, sc.Store.CurrentStep())

	assert.Equal(t, []string{
		"step.before grab", "step.after grab",
		"step.started grab", "step.passed grab", "step.finished grab",
	}, *seen)
}

func TestRecord_Fails(t *testing.T) {
	sc := newScheduler()
	seen := trace(sc)
	boom := errors.New("element not found")

	var failedErr error
	sc.Events.On(events.StepFailed, func(e events.Event) { failedErr = e.Err })

	s := model.NewFuncStep("click", func(context.Context, ...any) (any, error) { return nil, boom })
	err := Record(sc, s, "#submit").Err()

	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, failedErr, boom)
	assert.Equal(t, model.StatusFailed, s.Status)
	assert.Equal(t, []string{
		"step.before click", "step.after click",
		"step.started click", "step.failed click", "step.finished click",
	}, *seen)
}

func TestRecord_ConfigTimeout(t *testing.T) {
	sc := newScheduler()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s := model.NewFuncStep("waitForever", func(ctx context.Context, _ ...any) (any, error) {
		<-release
		return nil, ctx.Err()
	})

	err := Record(sc, s, NewConfig().Timeout(0.02)).Err()
	require.Error(t, err)
	assert.True(t, timeout.IsTimeout(err))
	assert.Empty(t, s.Args, "config is not passed to the step")

	d, ok := s.Timeout()
	require.True(t, ok)
	assert.Equal(t, 20*time.Millisecond, d)
}

func TestRecord_AbandonedActionLeavesStepAlone(t *testing.T) {
	sc := newScheduler()
	returned := make(chan struct{})
	s := model.NewFuncStep("slowClick", func(context.Context, ...any) (any, error) {
		defer close(returned)
		time.Sleep(40 * time.Millisecond)
		return "late", nil
	})
	var failed []time.Time
	sc.Events.On(events.StepFailed, func(e events.Event) {
		failed = append(failed, e.Step.EndTime)
	})

	_, err := Record(sc, s, NewConfig().Timeout(0.01)).Await()
	require.Error(t, err)
	assert.True(t, timeout.IsTimeout(err))
	require.Len(t, failed, 1)
	endTime := s.EndTime

	<-returned
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, model.StatusFailed, s.Status)
	assert.Equal(t, endTime, s.EndTime, "end time is fixed once the failure is reported")
	assert.Equal(t, failed[0], s.EndTime)
	assert.Less(t, s.Duration(), 40*time.Millisecond)
}

func TestRecord_TimeoutsDisabled(t *testing.T) {
	sc := newScheduler()
	sc.Store.SetTimeouts(false)
	s := model.NewFuncStep("slow", func(context.Context, ...any) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return "done", nil
	})
	v, err := Record(sc, s, NewConfig().Timeout(0.001)).Await()
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestRecord_ConfigOptsAndRetry(t *testing.T) {
	sc := newScheduler()
	calls := 0
	s := model.NewFuncStep("flaky", func(context.Context, ...any) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("not yet")
		}
		return calls, nil
	})

	cfg := NewConfig().Opts(map[string]any{"exact": true}).Retry(2)
	v, err := Record(sc, s, cfg).Await()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, model.StatusPassed, s.Status)
	assert.Equal(t, true, s.Opts["exact"])
	assert.Equal(t, true, sc.Store.StepOptions()["exact"])

	drain(t, sc)
	assert.Empty(t, sc.Recorder.Retries(), "retry frame is popped when the step finishes")
}

func TestRun_Kinds(t *testing.T) {
	sc := newScheduler()
	ctx := context.Background()

	plain := model.NewPlainStep("say")
	v, err := Run(ctx, sc, plain, "hello")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, model.StatusPassed, plain.Status)

	helper := model.NewHelperStep("FileSystem", "seeFile", echo)
	v, err = Run(ctx, sc, helper, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", v)

	missing := model.NewFuncStep("nothing", nil)
	_, err = Run(ctx, sc, missing)
	assert.ErrorIs(t, err, ErrNoCallable)
	assert.Equal(t, model.StatusFailed, missing.Status)

	panics := model.NewFuncStep("panics", func(context.Context, ...any) (any, error) { panic("bad") })
	_, err = Run(ctx, sc, panics)
	assert.EqualError(t, err, "bad")
	assert.Equal(t, model.StatusFailed, panics.Status)
}

func TestRecord_MetaStepAdoptsInnerSteps(t *testing.T) {
	sc := newScheduler()
	var fill, click *model.Step

	meta := model.NewMetaStep("loginPage", "login", func(ctx context.Context, args ...any) (any, error) {
		fill = model.NewFuncStep("fill", echo)
		click = model.NewFuncStep("click", echo)
		Record(sc, fill, args[0])
		Record(sc, click, "Sign in")
		return nil, nil
	})

	require.NoError(t, Record(sc, meta, "admin").Err())
	drain(t, sc)

	assert.Same(t, meta, fill.MetaStep)
	assert.Same(t, meta, click.MetaStep)
	assert.Equal(t, model.StatusPassed, meta.Status)
	assert.Equal(t, 0, sc.Events.ListenerCount(events.StepBefore), "listener removed after the body")

	after := model.NewFuncStep("after", echo)
	require.NoError(t, Record(sc, after).Err())
	assert.Nil(t, after.MetaStep)
}

func TestRecord_FailingChildFailsMeta(t *testing.T) {
	sc := newScheduler()
	boom := errors.New("boom")
	var child *model.Step

	meta := model.NewMetaStep("I", "checkout", func(context.Context, ...any) (any, error) {
		child = model.NewFuncStep("pay", func(context.Context, ...any) (any, error) { return nil, boom })
		Record(sc, child)
		return nil, nil
	})
	require.NoError(t, Record(sc, meta).Err())
	assert.ErrorIs(t, sc.Recorder.Promise().Err(), boom)

	assert.Equal(t, model.StatusFailed, child.Status)
	assert.Equal(t, model.StatusFailed, meta.Status)
}

func TestRun_DryRunIsIdempotent(t *testing.T) {
	sc := newScheduler()
	sc.Store.SetDryRun(true)
	ctx := context.Background()

	calls := 0
	sideEffect := func(context.Context, ...any) (any, error) {
		calls++
		return nil, errors.New("must not run")
	}
	helper := model.NewHelperStep("FileSystem", "writeToFile", sideEffect)
	fn := model.NewFuncStep("cleanup", sideEffect)
	meta := model.NewMetaStep("I", "prepare", func(ctx context.Context, _ ...any) (any, error) {
		if _, err := Run(ctx, sc, helper, "a.txt", "data"); err != nil {
			return nil, err
		}
		return Run(ctx, sc, fn)
	})
	helper.SetMetaStep(meta)
	fn.SetMetaStep(meta)

	for i := 0; i < 2; i++ {
		v, err := Run(ctx, sc, meta)
		require.NoError(t, err)
		assert.Equal(t, true, v)

		hv, err := Run(ctx, sc, helper)
		require.NoError(t, err)
		assert.Equal(t, "<VALUE>", hv.(model.DryRunValue).String())

		for _, s := range []*model.Step{meta, helper, fn} {
			assert.Equalf(t, model.StatusPassed, s.Status, "run %d step %s", i, s.Name)
		}
	}
	assert.Zero(t, calls)
}

func TestSection(t *testing.T) {
	sc := newScheduler()

	sec := StartSection(sc, "Checkout").Hidden()
	inside := model.NewFuncStep("fill", echo)
	Record(sc, inside)
	EndSection(sc)
	outside := model.NewFuncStep("click", echo)
	Record(sc, outside)
	drain(t, sc)

	assert.Same(t, sec.Meta, inside.MetaStep)
	assert.Nil(t, outside.MetaStep)
	assert.True(t, sec.Meta.Collapsed)
	assert.Equal(t, "Checkout", sec.Meta.String())
	assert.Nil(t, sc.Store.CurrentSection())
}

func TestSection_StartEndsPrevious(t *testing.T) {
	sc := newScheduler()

	first := StartSection(sc, "first")
	second := StartSection(sc, "second")
	s := model.NewFuncStep("x", echo)
	Record(sc, s)
	drain(t, sc)

	assert.Same(t, second.Meta, s.MetaStep)
	assert.NotSame(t, first.Meta, s.MetaStep)

	sc.Events.Emit(events.Event{Type: events.TestFinished})
	assert.Nil(t, sc.Store.CurrentSection())
	assert.Equal(t, 0, sc.Events.ListenerCount(events.StepBefore))
}
