package recorder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolated runs body inside a named session the way the combinators do and
// returns whether it passed.
func isolated(r *Recorder, name string, body func()) *Promise {
	return r.Add(name, func(context.Context) (any, error) {
		s := r.Session()
		s.Start(name)
		body()
		r.Add(name+" passed", func(context.Context) (any, error) {
			return true, s.Restore(name)
		})
		s.Catch(func(error) (any, error) {
			return false, s.Restore(name)
		})
		return r.Promise(), nil
	})
}

func TestSession_IsolatesFailure(t *testing.T) {
	tests := []struct {
		name     string
		inner    error
		wantPass bool
	}{
		{"inner passes", nil, true},
		{"inner fails", errors.New("not visible"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRunning()
			var log []string

			r.Add("a", record(&log, "a"))
			got := isolated(r, "try", func() {
				if tt.inner != nil {
					r.Add("b", fail(&log, "b", tt.inner))
				} else {
					r.Add("b", record(&log, "b"))
				}
				r.Add("b2", record(&log, "b2"))
			})
			r.Add("c", record(&log, "c"))

			v, err := r.Promise().Await()
			require.NoError(t, err, "outer flow never sees the inner failure")
			assert.Equal(t, "c", v)

			passed, err := got.Bool()
			require.NoError(t, err)
			assert.Equal(t, tt.wantPass, passed)

			if tt.wantPass {
				assert.Equal(t, []string{"a", "b", "b2", "c"}, log)
			} else {
				assert.Equal(t, []string{"a", "b", "c"}, log)
			}
			assert.False(t, r.Session().Running())
		})
	}
}

func TestSession_RestoreDiscardsQueuedTasks(t *testing.T) {
	r := newRunning()
	s := r.Session()
	var log []string

	s.Start("s")
	r.Add("x", func(context.Context) (any, error) {
		log = append(log, "x")
		return "x", s.Restore("s")
	})
	y := r.Add("y", record(&log, "y"))
	marker := r.Promise()

	// Draining runs x, whose restore discards the rest of the session.
	require.NoError(t, r.Promise().Err())

	assert.Equal(t, []string{"x"}, log)
	assert.ErrorIs(t, y.Err(), ErrSessionRestored)
	v, err := marker.Await()
	require.NoError(t, err)
	assert.Equal(t, "x", v, "markers settle with the session's final value")
	assert.Equal(t, "", s.Current())
}

func TestSession_NestedHandlersOnlySeeOwnFailures(t *testing.T) {
	r := newRunning()
	s := r.Session()
	innerErr := errors.New("inner")
	var outerSaw, innerSaw []error

	outer := r.Add("outer", func(context.Context) (any, error) {
		s.Start("outer")
		inner := r.Add("inner", func(context.Context) (any, error) {
			s.Start("inner")
			r.Throw(innerErr)
			s.Catch(func(err error) (any, error) {
				innerSaw = append(innerSaw, err)
				return "handled", s.Restore("inner")
			})
			return r.Promise(), nil
		})
		r.Add("outer passed", func(context.Context) (any, error) {
			v, err := inner.Result()
			if err != nil {
				return nil, err
			}
			return v, s.Restore("outer")
		})
		s.Catch(func(err error) (any, error) {
			outerSaw = append(outerSaw, err)
			return nil, s.Restore("outer")
		})
		return r.Promise(), nil
	})

	v, err := outer.Await()
	require.NoError(t, err)
	assert.Equal(t, "handled", v)
	assert.Equal(t, []error{innerErr}, innerSaw)
	assert.Empty(t, outerSaw)
	assert.Equal(t, 0, s.Depth())
}

func TestSession_RestoreOuterClosesInner(t *testing.T) {
	r := newRunning()
	s := r.Session()

	s.Start("outer")
	s.Start("inner")
	assert.Equal(t, 2, s.Depth())
	assert.Equal(t, "inner", s.Current())
	p := r.Add("inner task", func(context.Context) (any, error) { return nil, nil })

	require.NoError(t, s.Restore("outer"))
	assert.ErrorIs(t, p.Err(), ErrSessionRestored)
	assert.False(t, s.Running())
}

func TestSession_RestoreUnknown(t *testing.T) {
	r := newRunning()
	err := r.Session().Restore("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestSession_FailureAfterRestoreGoesToParent(t *testing.T) {
	r := newRunning()
	s := r.Session()
	boom := errors.New("boom")

	r.Add("opens", func(context.Context) (any, error) {
		s.Start("s")
		r.Add("closes", func(context.Context) (any, error) {
			if err := s.Restore("s"); err != nil {
				return nil, err
			}
			r.Throw(boom)
			return nil, nil
		})
		return r.Promise(), nil
	})

	require.NoError(t, r.Promise().Err())
	assert.ErrorIs(t, r.Promise().Err(), boom, "the throw was queued in the parent session")
}
