package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/stepflow/internal/timeout"
)

func newRunning() *Recorder {
	r := New(nil)
	r.Start()
	return r
}

func record(log *[]string, name string) Action {
	return func(context.Context) (any, error) {
		*log = append(*log, name)
		return name, nil
	}
}

func fail(log *[]string, name string, err error) Action {
	return func(context.Context) (any, error) {
		*log = append(*log, name)
		return nil, err
	}
}

func TestRecorder_FIFO(t *testing.T) {
	r := newRunning()
	var log []string

	r.Add("a", func(context.Context) (any, error) {
		log = append(log, "a")
		r.Add("a1", record(&log, "a1"))
		r.Add("a2", func(context.Context) (any, error) {
			log = append(log, "a2")
			r.Add("a2.1", record(&log, "a2.1"))
			return nil, nil
		})
		return nil, nil
	})
	r.Add("b", record(&log, "b"))
	r.Add("c", record(&log, "c"))

	// Markers only cover what was queued before them, so drain until idle.
	for r.Pending() > 0 {
		require.NoError(t, r.Promise().Err())
	}

	assert.Equal(t, []string{"a", "b", "c", "a1", "a2", "a2.1"}, log)
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, []string{"a", "b", "c", "a1", "a2", "a2.1"}, r.Scheduled())
}

func TestRecorder_PromiseValues(t *testing.T) {
	r := newRunning()
	var log []string

	p := r.Add("a", record(&log, "a"))
	r.Add("b", record(&log, "b"))
	marker := r.Promise()

	assert.False(t, p.Settled())
	v, err := marker.Await()
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	v, err = p.Result()
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestRecorder_FailureSkipsUntilCatch(t *testing.T) {
	r := newRunning()
	var log []string
	boom := errors.New("boom")

	r.Add("a", record(&log, "a"))
	failed := r.Add("b", fail(&log, "b", boom))
	skipped := r.Add("c", record(&log, "c"))
	before := r.Promise()

	var caught error
	r.CatchWithoutStop(func(err error) (any, error) {
		caught = err
		return "recovered", nil
	})
	after := r.Add("d", record(&log, "d"))

	_, err := after.Await()
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "d"}, log)
	assert.ErrorIs(t, failed.Err(), boom)
	assert.ErrorIs(t, skipped.Err(), boom)
	assert.ErrorIs(t, before.Err(), boom)
	assert.ErrorIs(t, caught, boom)
	assert.True(t, r.IsRunning())
}

func TestRecorder_CatchHandlerCanRethrow(t *testing.T) {
	r := newRunning()
	boom := errors.New("boom")
	var seen []error

	r.Throw(boom)
	r.CatchWithoutStop(func(err error) (any, error) {
		seen = append(seen, err)
		return nil, err
	})
	r.CatchWithoutStop(func(err error) (any, error) {
		seen = append(seen, err)
		return nil, nil
	})

	require.NoError(t, r.Promise().Err())
	assert.Len(t, seen, 2)
}

func TestRecorder_CatchStops(t *testing.T) {
	r := newRunning()
	var log []string
	boom := errors.New("boom")

	r.Add("a", fail(&log, "a", boom))
	r.Catch(func(err error) (any, error) { return nil, nil })
	require.NoError(t, r.Promise().Err())
	assert.False(t, r.IsRunning())

	ignored := r.Add("ignored", record(&log, "ignored"))
	assert.True(t, ignored.Settled(), "adds are dropped while stopped")

	forced := r.Add("forced", record(&log, "forced"), Force())
	v, err := forced.Await()
	require.NoError(t, err)
	assert.Equal(t, "forced", v)
	assert.Equal(t, []string{"a", "forced"}, log)

	r.StartUnlessRunning()
	assert.True(t, r.IsRunning())
}

func TestRecorder_CatchUsesDefaultHandler(t *testing.T) {
	r := newRunning()
	var got error
	r.ErrHandler(func(err error) (any, error) {
		got = err
		return nil, nil
	})

	r.Throw(errors.New("x"))
	r.Catch(nil)
	require.NoError(t, r.Promise().Err())
	assert.EqualError(t, got, "x")
}

func TestRecorder_CatchWithoutHandlerKeepsError(t *testing.T) {
	r := newRunning()
	r.Throw(errors.New("x"))
	r.Catch(nil)
	assert.EqualError(t, r.Promise().Err(), "x")
	assert.True(t, r.IsRunning())
}

func TestRecorder_IgnoreError(t *testing.T) {
	r := newRunning()
	var log []string

	p := r.Add("note", fail(&log, "note", errors.New("ignored")), IgnoreError())
	r.Add("next", record(&log, "next"))

	require.NoError(t, r.Promise().Err())
	require.NoError(t, p.Err())
	assert.Equal(t, []string{"note", "next"}, log)
}

func TestRecorder_PanicIsFailure(t *testing.T) {
	r := newRunning()
	p := r.Add("panics", func(context.Context) (any, error) {
		panic("kaboom")
	})
	err := p.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	r.CatchWithoutStop(func(error) (any, error) { return nil, nil })

	perr := errors.New("typed")
	p = r.Add("panics with error", func(context.Context) (any, error) {
		panic(perr)
	})
	assert.ErrorIs(t, p.Err(), perr)
}

func TestRecorder_Timeout(t *testing.T) {
	r := newRunning()
	p := r.Add("slow", func(ctx context.Context) (any, error) {
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		return nil, nil
	}, WithTimeout(20*time.Millisecond))

	err := p.Err()
	require.Error(t, err)
	assert.True(t, timeout.IsTimeout(err))
	assert.Contains(t, err.Error(), "Action slow was interrupted on step timeout 20ms")
}

func TestRecorder_FastActionBeatsTimeout(t *testing.T) {
	r := newRunning()
	v, err := r.Add("fast", func(context.Context) (any, error) { return 1, nil }, WithTimeout(time.Second)).Await()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestRecorder_AwaitsReturnedPromise(t *testing.T) {
	r := newRunning()
	r.Session().Start("inner")
	inner := r.Add("inner", func(context.Context) (any, error) { return 42, nil })
	require.NoError(t, r.Session().Restore("inner"))

	// inner's session was restored before it ran.
	assert.ErrorIs(t, inner.Err(), ErrSessionRestored)

	var value *Promise
	outer := r.Add("outer", func(context.Context) (any, error) {
		r.Session().Start("nested")
		value = r.Add("value", func(context.Context) (any, error) { return 7, nil })
		r.Add("restore", func(context.Context) (any, error) {
			return "done", r.Session().Restore("nested")
		})
		return r.Promise(), nil
	})
	v, err := outer.Await()
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	v, _ = value.Result()
	assert.Equal(t, 7, v)
	assert.False(t, r.Session().Running())
}

func TestRecorder_StalledAwait(t *testing.T) {
	r := newRunning()
	var awaitErr error
	r.Add("waits on later task", func(context.Context) (any, error) {
		later := r.Add("later", func(context.Context) (any, error) { return nil, nil })
		_, awaitErr = later.Await()
		return nil, nil
	})
	require.NoError(t, r.Promise().Err())
	assert.ErrorIs(t, awaitErr, ErrStalled)
}

func TestRecorder_ResetRejectsPending(t *testing.T) {
	r := newRunning()
	id := r.QueueID()
	p := r.Add("pending", func(context.Context) (any, error) { return nil, nil })
	r.Session().Start("s")
	r.Retry(RetryOptions{Retries: 1})

	r.Reset()
	assert.ErrorIs(t, p.Err(), ErrQueueReset)
	assert.Equal(t, id+1, r.QueueID())
	assert.Empty(t, r.Scheduled())
	assert.Empty(t, r.Retries())
	assert.False(t, r.Session().Running())
}

func TestRecorder_AsyncErr(t *testing.T) {
	r := New(nil)
	first := errors.New("first")
	r.SaveFirstAsyncError(first)
	r.SaveFirstAsyncError(errors.New("second"))
	assert.Same(t, first, r.AsyncErr())
	r.CleanAsyncErr()
	assert.NoError(t, r.AsyncErr())
}

func TestRecorder_ContextCancel(t *testing.T) {
	r := newRunning()
	ctx, cancel := context.WithCancel(context.Background())
	r.SetContext(ctx)
	cancel()

	_, err := r.Add("never", func(context.Context) (any, error) { return nil, nil }).Await()
	assert.ErrorIs(t, err, context.Canceled)
}
