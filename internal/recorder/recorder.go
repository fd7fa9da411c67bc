// Package recorder implements the serialized task queue every step runs
// through. Tasks execute strictly in the order they were added, one at a
// time, on the goroutine that awaits a promise. Sessions push isolated
// frames on top of the queue so that a failing sub-flow can be caught and
// unwound without failing the surrounding flow.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/msageha/stepflow/internal/logging"
	"github.com/msageha/stepflow/internal/timeout"
)

var (
	ErrSessionRestored = errors.New("task discarded by session restore")
	ErrStalled         = errors.New("awaited promise cannot settle: queue is blocked by a running task")
	ErrUnknownSession  = errors.New("unknown session")
	ErrQueueReset      = errors.New("queue was reset")
)

// Action is the body of a task. Returning a *Promise makes the task wait
// for that promise.
type Action func(ctx context.Context) (any, error)

// ErrorHandler receives a propagating failure. Its return value replaces
// the failure; returning an error keeps it propagating.
type ErrorHandler func(err error) (any, error)

type TaskOption func(*entry)

// Force accepts the task even while the recorder is stopped.
func Force() TaskOption {
	return func(e *entry) { e.force = true }
}

// IgnoreError swallows the task's own failure.
func IgnoreError() TaskOption {
	return func(e *entry) { e.ignoreError = true }
}

// WithTimeout races the action against d; zero disables the deadline.
func WithTimeout(d time.Duration) TaskOption {
	return func(e *entry) { e.timeout = d }
}

// NoRetry excludes the task from the retry stack.
func NoRetry() TaskOption {
	return func(e *entry) { e.noRetry = true }
}

type entryKind int

const (
	kindTask entryKind = iota
	kindCatch
	kindMarker
)

type entry struct {
	kind        entryKind
	name        string
	action      Action
	handler     ErrorHandler
	force       bool
	ignoreError bool
	noRetry     bool
	stop        bool
	timeout     time.Duration
	promise     *Promise
}

// frame is one level of the session stack. val and err hold the state of
// the chain at the last settled entry; a non-nil err skips tasks until a
// catch entry handles it.
type frame struct {
	name    string
	entries []*entry
	val     any
	err     error
	busy    bool
	closing bool
}

type Recorder struct {
	mu         sync.Mutex
	frames     []*frame
	running    bool
	errHandler ErrorHandler
	retries    []RetryOptions
	asyncErr   error
	tasks      []string
	queueID    int
	ctx        context.Context
	logger     *logging.Logger
}

func New(logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{
		frames: []*frame{{}},
		ctx:    context.Background(),
		logger: logger.With("recorder"),
	}
}

// SetContext sets the parent context of every action. Cancelling it makes
// pending awaits return the context error.
func (r *Recorder) SetContext(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctx = ctx
}

// Context is the parent context set with SetContext.
func (r *Recorder) Context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}

func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
}

// Stop makes the recorder ignore new non-force tasks. Queued work stays.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.logger.Debugf("%sstopped", r.prefixLocked())
}

func (r *Recorder) StartUnlessRunning() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		r.running = true
	}
}

func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Reset drops all queued work, sessions and retry frames. Pending promises
// reject with ErrQueueReset.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.frames {
		for _, e := range f.entries {
			if e.promise != nil {
				e.promise.settle(nil, ErrQueueReset)
			}
		}
	}
	r.frames = []*frame{{}}
	r.retries = nil
	r.tasks = nil
	r.asyncErr = nil
	r.queueID++
	r.logger.Debugf("queue %d started", r.queueID)
}

func (r *Recorder) QueueID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queueID
}

// ErrHandler installs the handler used by Catch(nil).
func (r *Recorder) ErrHandler(fn ErrorHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errHandler = fn
}

// Add appends a task to the current session and returns its promise. While
// the recorder is stopped, non-force tasks are dropped and the returned
// promise is already resolved.
func (r *Recorder) Add(name string, action Action, opts ...TaskOption) *Promise {
	e := &entry{kind: kindTask, name: name, action: action}
	for _, o := range opts {
		o(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running && !e.force {
		r.logger.Debugf("%signored (stopped): %s", r.prefixLocked(), name)
		return Resolved(nil)
	}
	e.promise = newPromise(r)
	r.tasks = append(r.tasks, name)
	r.target().entries = append(r.target().entries, e)
	r.logger.Debugf("%squeued: %s", r.prefixLocked(), name)
	return e.promise
}

// Throw queues a task that fails with err.
func (r *Recorder) Throw(err error) *Promise {
	return r.Add(fmt.Sprintf("throw error %v", err), func(context.Context) (any, error) {
		return nil, err
	}, NoRetry())
}

// Catch handles the next failure reaching this point and stops the
// recorder afterwards. A nil handler uses the one set by ErrHandler.
func (r *Recorder) Catch(handler ErrorHandler) {
	r.addCatch(handler, true)
}

// CatchWithoutStop handles the next failure reaching this point and keeps
// the recorder running.
func (r *Recorder) CatchWithoutStop(handler ErrorHandler) {
	r.addCatch(handler, false)
}

func (r *Recorder) addCatch(handler ErrorHandler, stop bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.target()
	f.entries = append(f.entries, &entry{kind: kindCatch, name: "catch", handler: handler, stop: stop})
}

// Promise returns a marker that settles with the chain state once every
// entry queued before it in the current session has settled.
func (r *Recorder) Promise() *Promise {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &entry{kind: kindMarker, name: "promise", promise: newPromise(r)}
	f := r.target()
	f.entries = append(f.entries, e)
	return e.promise
}

// SaveFirstAsyncError keeps err unless an earlier one is already saved.
func (r *Recorder) SaveFirstAsyncError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.asyncErr == nil {
		r.asyncErr = err
	}
}

func (r *Recorder) AsyncErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.asyncErr
}

func (r *Recorder) CleanAsyncErr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asyncErr = nil
}

// Scheduled lists the names of the tasks added since the last reset.
func (r *Recorder) Scheduled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tasks...)
}

// Pending counts the entries still queued across all sessions.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames {
		n += len(f.entries)
	}
	return n
}

// target is the top-most session that has not been restored.
func (r *Recorder) target() *frame {
	for i := len(r.frames) - 1; i > 0; i-- {
		if !r.frames[i].closing {
			return r.frames[i]
		}
	}
	return r.frames[0]
}

func (r *Recorder) prefixLocked() string {
	if f := r.target(); f.name != "" {
		return fmt.Sprintf("[%d.%s] ", r.queueID, f.name)
	}
	return fmt.Sprintf("[%d] ", r.queueID)
}

// runUntil executes queued entries until p settles.
func (r *Recorder) runUntil(p *Promise) (any, error) {
	for !p.Settled() {
		if err := r.Context().Err(); err != nil {
			return nil, err
		}
		f, e, err := r.next()
		if err != nil {
			if p.Settled() {
				break
			}
			return nil, err
		}
		r.run(f, e)
	}
	return p.val, p.err
}

// next takes the first entry of the top-most runnable session. A busy
// session blocks every session below it.
func (r *Recorder) next() (*frame, *entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.frames) - 1; i >= 0; i-- {
		f := r.frames[i]
		if f.busy {
			return nil, nil, ErrStalled
		}
		if f.closing || len(f.entries) == 0 {
			continue
		}
		e := f.entries[0]
		f.entries = f.entries[1:]
		f.busy = true
		return f, e, nil
	}
	return nil, nil, ErrStalled
}

func (r *Recorder) run(f *frame, e *entry) {
	defer r.finish(f)

	r.mu.Lock()
	val, chainErr := f.val, f.err
	r.mu.Unlock()

	switch e.kind {
	case kindMarker:
		e.promise.settle(val, chainErr)

	case kindCatch:
		if chainErr == nil {
			return
		}
		handler := e.handler
		if handler == nil {
			r.mu.Lock()
			handler = r.errHandler
			r.mu.Unlock()
		}
		if handler == nil {
			return
		}
		v, err := callHandler(handler, chainErr)
		r.mu.Lock()
		f.val, f.err = v, err
		if e.stop {
			r.running = false
		}
		r.mu.Unlock()

	case kindTask:
		if chainErr != nil {
			e.promise.settle(nil, chainErr)
			return
		}
		v, err := r.execute(e)
		if err != nil && e.ignoreError {
			r.logger.Debugf("%s: ignored error: %v", e.name, err)
			v, err = nil, nil
		}
		r.mu.Lock()
		if err != nil {
			f.err = err
		} else {
			f.val = v
		}
		r.mu.Unlock()
		e.promise.settle(v, err)
	}
}

func (r *Recorder) finish(f *frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f.busy = false
	r.closeFramesLocked()
}

// closeFramesLocked pops restored sessions from the top of the stack once
// they are idle. Their unexecuted tasks are discarded and their markers
// settle with the session's final state.
func (r *Recorder) closeFramesLocked() {
	for len(r.frames) > 1 {
		top := r.frames[len(r.frames)-1]
		if !top.closing || top.busy {
			return
		}
		for _, e := range top.entries {
			switch e.kind {
			case kindTask:
				e.promise.settle(nil, ErrSessionRestored)
			case kindMarker:
				e.promise.settle(top.val, top.err)
			}
		}
		top.entries = nil
		r.frames = r.frames[:len(r.frames)-1]
		r.logger.Debugf("%s< session %s restored", r.prefixLocked(), top.name)
	}
}

// execute runs a task, replaying it while the retry stack allows.
func (r *Recorder) execute(e *entry) (any, error) {
	ctx := r.Context()
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			r.logger.Debugf("%s: retrying, attempt #%d", e.name, attempt)
		}
		v, err := r.attempt(ctx, e, attempt)
		if err == nil {
			return v, nil
		}
		if e.noRetry || e.ignoreError {
			return nil, err
		}
		opts, ok := r.retryPolicy(err)
		if !ok || attempt > opts.Retries {
			return nil, err
		}
		if !sleep(ctx, opts.Backoff(attempt)) {
			return nil, err
		}
	}
}

func (r *Recorder) attempt(parent context.Context, e *entry, n int) (any, error) {
	ctx := withAttempt(parent, n)
	var v any
	var err error
	if e.timeout <= 0 {
		v, err = call(ctx, e.name, e.action)
	} else {
		v, err = callWithTimeout(ctx, e)
	}
	if err != nil {
		return nil, err
	}
	if p, ok := v.(*Promise); ok {
		return r.runUntil(p)
	}
	return v, nil
}

func callWithTimeout(parent context.Context, e *entry) (any, error) {
	ctx, cancel := context.WithTimeout(parent, e.timeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call(ctx, e.name, e.action)
		ch <- result{v, err}
	}()

	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timeout.NewTimeoutError("Action %s was interrupted on step timeout %dms", e.name, e.timeout.Milliseconds())
		}
		return nil, ctx.Err()
	}
}

func call(ctx context.Context, name string, action Action) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if perr, ok := rec.(error); ok {
				err = fmt.Errorf("%s: panic: %w", name, perr)
				return
			}
			err = fmt.Errorf("%s: panic: %v", name, rec)
		}
	}()
	if action == nil {
		return nil, nil
	}
	return action(ctx)
}

func callHandler(h ErrorHandler, in error) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("error handler panic: %v", rec)
		}
	}()
	return h(in)
}
