package step

import (
	"context"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/recorder"
	"github.com/msageha/stepflow/internal/scheduler"
)

// RetryScope retries the next recorded step up to n times. The retry
// frame is popped once that step finishes.
func RetryScope(sc *scheduler.Context, n int) {
	if n <= 0 {
		n = 1
	}
	opts := recorder.DefaultRetryOptions()
	opts.Retries = n
	RetryScopeWith(sc, opts)
}

func RetryScopeWith(sc *scheduler.Context, opts recorder.RetryOptions) {
	rec := sc.Recorder
	rec.Retry(opts)
	rec.Add("retry scope", func(context.Context) (any, error) {
		sc.Events.Once(events.StepFinished, func(events.Event) {
			rec.PopRetry()
		})
		return nil, nil
	}, recorder.NoRetry())
}
