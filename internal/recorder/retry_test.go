package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flaky(calls *int, failures int) Action {
	return func(ctx context.Context) (any, error) {
		*calls++
		if *calls <= failures {
			return nil, errors.New("flaky")
		}
		return Attempt(ctx), nil
	}
}

func TestRetry_ReplaysFailedTask(t *testing.T) {
	r := newRunning()
	r.Retry(RetryOptions{Retries: 2})

	calls := 0
	v, err := r.Add("flaky", flaky(&calls, 2)).Await()
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, v, "attempt number is visible to the action")
}

func TestRetry_BudgetExhausted(t *testing.T) {
	r := newRunning()
	r.Retry(RetryOptions{Retries: 1})

	calls := 0
	err := r.Add("flaky", flaky(&calls, 5)).Err()
	assert.EqualError(t, err, "flaky")
	assert.Equal(t, 2, calls)
}

func TestRetry_WhenFilter(t *testing.T) {
	r := newRunning()
	r.Retry(RetryOptions{Retries: 3, When: func(err error) bool { return false }})

	calls := 0
	require.Error(t, r.Add("flaky", flaky(&calls, 1)).Err())
	assert.Equal(t, 1, calls)
}

func TestRetry_NoRetryTask(t *testing.T) {
	r := newRunning()
	r.Retry(RetryOptions{Retries: 3})

	calls := 0
	require.Error(t, r.Add("once", flaky(&calls, 1), NoRetry()).Err())
	assert.Equal(t, 1, calls)
}

func TestRetry_PushTakesEffectInQueueOrder(t *testing.T) {
	r := newRunning()
	calls := 0
	first := r.Add("before retry", flaky(&calls, 1))
	r.Retry(RetryOptions{Retries: 1})

	require.Error(t, first.Err())
	assert.Equal(t, 1, calls)
	assert.Len(t, r.Retries(), 0, "the retry task is skipped once the chain has failed")
}

func TestRetry_PopAndClear(t *testing.T) {
	r := newRunning()
	r.Retry(RetryOptions{Retries: 1})
	r.Retry(RetryOptions{Retries: 2})
	require.NoError(t, r.Promise().Err())
	require.Len(t, r.Retries(), 2)

	r.PopRetry()
	assert.Equal(t, 1, r.Retries()[0].Retries)
	r.ClearRetries()
	assert.Empty(t, r.Retries())
	r.PopRetry()
}

func TestRetryOptions_Backoff(t *testing.T) {
	o := RetryOptions{MinTimeout: 100 * time.Millisecond, MaxTimeout: 300 * time.Millisecond, Factor: 2}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{10, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, o.Backoff(tt.retry), "retry %d", tt.retry)
	}
	assert.Zero(t, RetryOptions{}.Backoff(3))
	assert.Equal(t, 150*time.Millisecond, DefaultRetryOptions().Backoff(1))
}
