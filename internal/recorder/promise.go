package recorder

import "sync"

// Promise is the outcome of a queued task or queue marker. Await drives the
// owning recorder on the calling goroutine until the promise settles.
type Promise struct {
	rec  *Recorder
	once sync.Once
	done chan struct{}
	val  any
	err  error
}

func newPromise(r *Recorder) *Promise {
	return &Promise{rec: r, done: make(chan struct{})}
}

// Resolved returns a promise already settled with v.
func Resolved(v any) *Promise {
	p := newPromise(nil)
	p.settle(v, nil)
	return p
}

// Rejected returns a promise already settled with err.
func Rejected(err error) *Promise {
	p := newPromise(nil)
	p.settle(nil, err)
	return p
}

func (p *Promise) settle(v any, err error) {
	p.once.Do(func() {
		p.val, p.err = v, err
		close(p.done)
	})
}

func (p *Promise) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Done is closed once the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Result returns the settled outcome without driving the queue; a pending
// promise yields nil, nil.
func (p *Promise) Result() (any, error) {
	if !p.Settled() {
		return nil, nil
	}
	return p.val, p.err
}

// Await drives the queue until p settles and returns its outcome.
func (p *Promise) Await() (any, error) {
	if p.rec == nil {
		<-p.done
		return p.val, p.err
	}
	return p.rec.runUntil(p)
}

// Err awaits p and returns only its error.
func (p *Promise) Err() error {
	_, err := p.Await()
	return err
}

// Bool awaits p and reports its value as a boolean; a non-bool value is false.
func (p *Promise) Bool() (bool, error) {
	v, err := p.Await()
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}
