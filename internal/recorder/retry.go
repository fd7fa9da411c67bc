package recorder

import (
	"context"
	"math"
	"time"
)

// RetryOptions is one frame of the retry stack. A failing task is replayed
// up to Retries times while When (nil means always) accepts the error.
type RetryOptions struct {
	Retries    int
	MinTimeout time.Duration
	MaxTimeout time.Duration
	Factor     float64
	When       func(err error) bool
}

func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MinTimeout: 150 * time.Millisecond,
		MaxTimeout: 10 * time.Second,
		Factor:     2,
	}
}

// Backoff is the delay before the given retry (1-based).
func (o RetryOptions) Backoff(retry int) time.Duration {
	if o.MinTimeout <= 0 {
		return 0
	}
	factor := o.Factor
	if factor <= 0 {
		factor = 2
	}
	d := time.Duration(float64(o.MinTimeout) * math.Pow(factor, float64(retry-1)))
	if o.MaxTimeout > 0 && d > o.MaxTimeout {
		d = o.MaxTimeout
	}
	return d
}

type attemptKey struct{}

// Attempt reports which attempt of the current task an action is running
// in; the first run is 1.
func Attempt(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok {
		return n
	}
	return 1
}

func withAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptKey{}, n)
}

// Retry pushes opts on the retry stack once the queue reaches this point.
func (r *Recorder) Retry(opts RetryOptions) *Promise {
	return r.Add("retry", func(context.Context) (any, error) {
		r.mu.Lock()
		r.retries = append(r.retries, opts)
		r.mu.Unlock()
		return nil, nil
	}, NoRetry())
}

// PopRetry drops the top retry frame immediately.
func (r *Recorder) PopRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.retries); n > 0 {
		r.retries = r.retries[:n-1]
	}
}

func (r *Recorder) Retries() []RetryOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RetryOptions(nil), r.retries...)
}

func (r *Recorder) ClearRetries() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = nil
}

// retryPolicy returns the budget of the top frame when some frame accepts err.
func (r *Recorder) retryPolicy(err error) (RetryOptions, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.retries) == 0 {
		return RetryOptions{}, false
	}
	top := r.retries[len(r.retries)-1]
	for i := len(r.retries) - 1; i >= 0; i-- {
		if when := r.retries[i].When; when == nil || when(err) {
			return top, true
		}
	}
	return RetryOptions{}, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
