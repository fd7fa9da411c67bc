package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/stepflow/internal/effects"
	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/listener"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/recorder"
	"github.com/msageha/stepflow/internal/scheduler"
	"github.com/msageha/stepflow/internal/step"
	"github.com/msageha/stepflow/internal/timeout"
)

type fixture struct {
	sc     *scheduler.Context
	runner *Runner
	log    []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sc := scheduler.New(model.DefaultConfig(), nil)
	res := model.NewRunResult()
	t.Cleanup(listener.Defaults(sc, res))
	f := &fixture{sc: sc, runner: New(sc, res)}
	for _, typ := range []events.EventType{
		events.TestBefore, events.TestStarted, events.TestPassed, events.TestFailed,
		events.TestFinished, events.TestAfter, events.TestSkipped,
		events.HookStarted, events.HookPassed, events.HookFailed,
		events.SuiteBefore, events.SuiteAfter,
	} {
		sc.Events.On(typ, func(e events.Event) { f.log = append(f.log, string(e.Type)) })
	}
	return f
}

// do records a func step that appends its name to the fixture log.
func (f *fixture) do(name string, err error) {
	step.Record(f.sc, model.NewFuncStep(name, func(context.Context, ...any) (any, error) {
		f.log = append(f.log, name)
		return nil, err
	}))
}

func suiteOf(title string, tests ...*model.Test) *model.Suite {
	s := model.NewSuite(title)
	for _, t := range tests {
		s.AddTest(t)
	}
	return s
}

func TestRun_PassingTest(t *testing.T) {
	f := newFixture(t)
	test := model.NewTest("opens page", func(context.Context) error {
		f.do("amOnPage", nil)
		f.do("see", nil)
		return nil
	})

	res := f.runner.Run(context.Background(), []*model.Suite{suiteOf("Home", test)})

	assert.Equal(t, []string{
		"suite.before",
		"test.before", "test.started", "amOnPage", "see",
		"test.passed", "test.finished", "test.after",
		"suite.after",
	}, f.log)
	assert.Equal(t, model.TestStatePassed, test.State)
	assert.Len(t, test.Steps, 2)
	assert.Equal(t, 1, res.Stats().Passes)
	assert.Equal(t, 1, res.Stats().Tests)
	assert.False(t, res.HasFailed())
}

func TestRun_FailingStepSkipsRestButRunsAfterHook(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("element not found")
	test := model.NewTest("submits form", func(context.Context) error {
		f.do("fillField", nil)
		f.do("click", boom)
		f.do("see", nil)
		return nil
	})
	suite := suiteOf("Form", test)
	suite.AddHook(model.HookAfter, func(context.Context) error {
		f.do("cleanup", nil)
		return nil
	}, 0)

	res := f.runner.Run(context.Background(), []*model.Suite{suite})

	assert.Equal(t, []string{
		"suite.before",
		"test.before", "test.started", "fillField", "click",
		"test.failed", "test.finished",
		"hook.started", "cleanup", "hook.passed",
		"test.after",
		"suite.after",
	}, f.log)
	assert.ErrorIs(t, test.Err, boom)
	assert.Equal(t, model.TestStateFailed, test.State)
	require.Len(t, test.Steps, 2)
	assert.Equal(t, model.StatusFailed, test.Steps[1].Status)
	assert.Equal(t, 1, res.Stats().Failures)
	assert.Equal(t, []string{"Form: submits form: element not found"}, res.Failures())
}

func TestRun_BodyErrorAndPanic(t *testing.T) {
	tests := []struct {
		name string
		fn   model.TestFunc
		want string
	}{
		{
			name: "returned error",
			fn:   func(context.Context) error { return errors.New("bad fixture") },
			want: "bad fixture",
		},
		{
			name: "panic",
			fn:   func(context.Context) error { panic("nil page") },
			want: "panic: nil page",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			test := model.NewTest(tt.name, tt.fn)
			f.runner.Run(context.Background(), []*model.Suite{suiteOf("S", test)})
			require.Error(t, test.Err)
			assert.Contains(t, test.Err.Error(), tt.want)
		})
	}
}

func TestRun_ExpectedError(t *testing.T) {
	tests := []struct {
		name      string
		throws    string
		wantState model.TestState
	}{
		{name: "matching error passes", throws: "access denied", wantState: model.TestStatePassed},
		{name: "other error fails", throws: "timeout", wantState: model.TestStateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			test := model.NewTest("forbidden", func(context.Context) error {
				f.do("amOnPage", errors.New("access denied for guest"))
				return nil
			})
			test.Throws = tt.throws
			f.runner.Run(context.Background(), []*model.Suite{suiteOf("S", test)})
			assert.Equal(t, tt.wantState, test.State)
			if tt.wantState == model.TestStateFailed {
				assert.ErrorIs(t, test.Err, ErrUnexpectedError)
			}
		})
	}
}

func TestRun_TestTimeoutSpentByRetriedStep(t *testing.T) {
	f := newFixture(t)
	calls := 0
	test := model.NewTest("waits for banner", func(context.Context) error {
		step.Record(f.sc, model.NewFuncStep("seeBanner", func(context.Context, ...any) (any, error) {
			calls++
			if calls == 1 {
				time.Sleep(10 * time.Millisecond)
				return nil, errors.New("banner not visible")
			}
			return nil, nil
		}), step.NewConfig().Retry(1))
		f.do("click", nil)
		return nil
	})
	test.TotalTimeout = 0.1
	suite := suiteOf("Banner", test)
	suite.AddHook(model.HookAfter, func(context.Context) error {
		f.do("cleanup", nil)
		return nil
	}, 0)

	res := f.runner.Run(context.Background(), []*model.Suite{suite})

	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{
		"suite.before",
		"test.before", "test.started",
		"test.failed", "test.finished",
		"hook.started", "cleanup", "hook.passed",
		"test.after",
		"suite.after",
	}, f.log)
	var testErr *timeout.TestTimeoutError
	require.True(t, errors.As(test.Err, &testErr), "got %v", test.Err)
	assert.Equal(t, 100*time.Millisecond, testErr.Timeout)
	assert.Equal(t, model.TestStateFailed, test.State)
	require.Len(t, test.Steps, 1)
	assert.Equal(t, model.StatusPassed, test.Steps[0].Status, "the step itself passed")
	assert.Equal(t, 1, res.Stats().Failures)
	assert.Zero(t, res.Stats().FailedHooks)
}

func TestRun_TestRetries(t *testing.T) {
	f := newFixture(t)
	attempts := 0
	test := model.NewTest("flaky", func(context.Context) error {
		attempts++
		if attempts == 1 {
			f.do("click", errors.New("flaky"))
			return nil
		}
		f.do("click", nil)
		return nil
	})
	test.Retries = 1

	res := f.runner.Run(context.Background(), []*model.Suite{suiteOf("S", test)})
	assert.Equal(t, 2, attempts)
	assert.Equal(t, model.TestStatePassed, test.State)
	assert.NoError(t, test.Err)
	assert.Equal(t, 1, test.RetryNum)
	assert.Equal(t, 1, res.Stats().Passes)
	assert.Zero(t, res.Stats().Failures)
}

func TestRun_HookRetries(t *testing.T) {
	f := newFixture(t)
	calls := 0
	test := model.NewTest("t", func(context.Context) error { return nil })
	suite := suiteOf("S", test)
	suite.AddHook(model.HookBefore, func(context.Context) error {
		calls++
		if calls == 1 {
			f.do("login", errors.New("503"))
		}
		return nil
	}, 1)

	res := f.runner.Run(context.Background(), []*model.Suite{suite})
	assert.Equal(t, 2, calls)
	assert.Equal(t, model.TestStatePassed, test.State)
	assert.Zero(t, res.Stats().FailedHooks)
}

func TestRun_BeforeHookFailureFailsRemainingTests(t *testing.T) {
	f := newFixture(t)
	ran := 0
	body := func(context.Context) error { ran++; return nil }
	first, second := model.NewTest("first", body), model.NewTest("second", body)
	suite := suiteOf("S", first, second)
	hookErr := errors.New("db unavailable")
	suite.AddHook(model.HookBefore, func(context.Context) error {
		f.do("seed", hookErr)
		return nil
	}, 0)
	afterSuite := 0
	suite.AddHook(model.HookAfterSuite, func(context.Context) error { afterSuite++; return nil }, 0)

	res := f.runner.Run(context.Background(), []*model.Suite{suite})

	assert.Zero(t, ran)
	assert.Equal(t, 1, afterSuite)
	for _, test := range []*model.Test{first, second} {
		assert.Equal(t, model.TestStateFailed, test.State, test.Title)
		assert.ErrorIs(t, test.Err, hookErr, test.Title)
	}
	assert.Equal(t, 1, res.Stats().FailedHooks)
	assert.Equal(t, 2, res.Stats().Tests)
}

func TestRun_BeforeSuiteHookFailure(t *testing.T) {
	f := newFixture(t)
	test := model.NewTest("t", func(context.Context) error { return nil })
	suite := suiteOf("S", test)
	suite.AddHook(model.HookBeforeSuite, func(context.Context) error {
		return errors.New("no browser")
	}, 0)

	err := f.runner.RunSuite(context.Background(), suite)
	require.Error(t, err)
	assert.Equal(t, model.TestStateFailed, test.State)
	assert.NotContains(t, f.log, "test.started")
	assert.Contains(t, f.log, "suite.after")
}

func TestRun_SkippedTest(t *testing.T) {
	f := newFixture(t)
	test := model.NewTest("later", func(context.Context) error {
		t.Fatal("skipped test ran")
		return nil
	})
	test.Skip = true

	res := f.runner.Run(context.Background(), []*model.Suite{suiteOf("S", test)})
	assert.Equal(t, model.TestStateSkipped, test.State)
	assert.Equal(t, 1, res.Stats().Pending)
	assert.Contains(t, f.log, "test.skipped")
}

func TestRun_TryToInsideTest(t *testing.T) {
	f := newFixture(t)
	var optional *recorder.Promise
	test := model.NewTest("optional popup", func(context.Context) error {
		f.do("A", nil)
		optional = effects.TryTo(f.sc, func(context.Context) error {
			f.do("B", errors.New("no popup"))
			return nil
		})
		f.do("C", nil)
		return nil
	})

	f.runner.Run(context.Background(), []*model.Suite{suiteOf("S", test)})
	assert.Equal(t, model.TestStatePassed, test.State)
	ok, err := optional.Bool()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Subset(t, f.log, []string{"A", "B", "C"})
	assert.Len(t, test.Steps, 3)
}

func TestRun_HopeThatNote(t *testing.T) {
	f := newFixture(t)
	test := model.NewTest("soft", func(context.Context) error {
		effects.HopeThat(f.sc, func(context.Context) error {
			f.do("seeTitle", errors.New("title mismatch"))
			return nil
		})
		return nil
	})

	f.runner.Run(context.Background(), []*model.Suite{suiteOf("S", test)})
	assert.Equal(t, model.TestStatePassed, test.State)
	require.Len(t, test.Notes, 1)
	assert.Equal(t, model.NoteConditionalError, test.Notes[0].Type)
	assert.Contains(t, test.Notes[0].Text, "title mismatch")
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture(t)
	f.sc.Store.SetDryRun(true)
	executed := false
	test := model.NewTest("dry", func(context.Context) error {
		step.Record(f.sc, model.NewFuncStep("click", func(context.Context, ...any) (any, error) {
			executed = true
			return nil, errors.New("should not run")
		}))
		return nil
	})

	f.runner.Run(context.Background(), []*model.Suite{suiteOf("S", test)})
	assert.False(t, executed)
	assert.Equal(t, model.TestStatePassed, test.State)
	require.Len(t, test.Steps, 1)
	assert.Equal(t, model.StatusPassed, test.Steps[0].Status)
}

func TestRun_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test := model.NewTest("t", func(context.Context) error { return nil })

	res := f.runner.Run(ctx, []*model.Suite{suiteOf("S", test)})
	assert.Zero(t, res.Stats().Tests)
}
