package helper

import (
	"context"
	"time"
)

const TimerName = "Timer"

// Timer provides plain waits.
type Timer struct{}

func NewTimer() *Timer { return &Timer{} }

func (*Timer) Name() string { return TimerName }

func (t *Timer) Methods() map[string]Method {
	return map[string]Method{"wait": t.wait}
}

// wait sleeps for the given seconds or until ctx is done.
func (*Timer) wait(ctx context.Context, args ...any) (any, error) {
	d := time.Duration(floatArg(args, 0, 1) * float64(time.Second))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
