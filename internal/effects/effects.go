// Package effects provides control-flow combinators built on recorder
// sessions: optional blocks, retried blocks and soft assertions.
package effects

import (
	"context"
	"fmt"
	"time"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/recorder"
	"github.com/msageha/stepflow/internal/scheduler"
)

// DefaultPollInterval is the pause between RetryTo attempts.
const DefaultPollInterval = 200 * time.Millisecond

// Callback records the steps of a block. Returning an error fails the
// block the same way a failing step does.
type Callback func(ctx context.Context) error

// RetryCallback is a Callback that is told which attempt (1-based) it is.
type RetryCallback func(ctx context.Context, tries int) error

// TryTo runs cb in its own session and resolves to whether every step in it
// passed. A failure inside never reaches the enclosing flow. Automatic step
// retries are disabled inside the block.
func TryTo(sc *scheduler.Context, cb Callback) *recorder.Promise {
	if sc.Store.DryRun() {
		return recorder.Resolved(true)
	}
	return isolate(sc, "tryTo", cb, true, func(err error) {
		sc.Logger.Debugf("unsuccessful try > %v", err)
	})
}

// HopeThat is TryTo for soft assertions: a failure is attached to the
// current test as a conditionalError note once the test finishes.
func HopeThat(sc *scheduler.Context, cb Callback) *recorder.Promise {
	if sc.Store.DryRun() {
		return recorder.Resolved(true)
	}
	return isolate(sc, "hopeThat", cb, false, func(err error) {
		msg := err.Error()
		sc.Logger.Debugf("unsuccessful assertion > %s", msg)
		sc.Events.Once(events.TestFinished, func(e events.Event) {
			if e.Test != nil {
				e.Test.AddNote(model.NoteConditionalError, msg)
			}
		})
	})
}

func isolate(sc *scheduler.Context, name string, cb Callback, disableRetries bool, onFail func(error)) *recorder.Promise {
	rec := sc.Recorder
	sess := rec.Session()

	return rec.Add(name, func(ctx context.Context) (any, error) {
		sess.Start(name)

		autoRetries := sc.Store.AutoRetries()
		if disableRetries {
			if autoRetries {
				sc.Logger.Debugf("auto retries disabled inside %s", name)
			}
			sc.Store.SetAutoRetries(false)
		}
		restore := func() error {
			if disableRetries {
				sc.Store.SetAutoRetries(autoRetries)
			}
			return sess.Restore(name)
		}

		if err := run(ctx, cb); err != nil {
			rec.Throw(err)
		}
		rec.Add(name+" passed", func(context.Context) (any, error) {
			return true, restore()
		}, recorder.NoRetry())
		sess.Catch(func(err error) (any, error) {
			onFail(err)
			return false, restore()
		})
		return rec.Promise(), nil
	}, recorder.NoRetry())
}

// RetryTo runs cb in a fresh session until it passes. A failed attempt is
// followed by a pause of poll and a new attempt, up to maxTries retries;
// after that the last error propagates to the enclosing flow.
func RetryTo(sc *scheduler.Context, cb RetryCallback, maxTries int, poll time.Duration) *recorder.Promise {
	rec := sc.Recorder
	sess := rec.Session()

	return rec.Add("retryTo", func(ctx context.Context) (any, error) {
		for tries := 1; ; tries++ {
			name := fmt.Sprintf("retryTo %d", tries)
			sess.Start(name)

			if err := run(ctx, func(ctx context.Context) error { return cb(ctx, tries) }); err != nil {
				rec.Throw(err)
			}
			rec.Add(name+" passed", func(context.Context) (any, error) {
				return nil, sess.Restore(name)
			}, recorder.NoRetry())
			sess.Catch(func(err error) (any, error) {
				if rerr := sess.Restore(name); rerr != nil {
					return nil, rerr
				}
				return nil, err
			})

			_, err := rec.Promise().Await()
			if err == nil {
				return nil, nil
			}
			if tries > maxTries {
				return nil, err
			}
			sc.Logger.Debugf("%v... retrying", err)
			if !wait(ctx, poll) {
				return nil, err
			}
		}
	}, recorder.NoRetry())
}

func run(ctx context.Context, cb Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(error); ok {
				err = perr
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	return cb(ctx)
}

func wait(ctx context.Context, d time.Duration) bool {
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
