package recorder

import "fmt"

// Sessions manages the named frames of a recorder.
type Sessions struct {
	r *Recorder
}

func (r *Recorder) Session() *Sessions {
	return &Sessions{r: r}
}

// Start pushes a new session; tasks added afterwards belong to it until it
// is restored.
func (s *Sessions) Start(name string) {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, &frame{name: name})
	r.logger.Debugf("%s> session %s started", r.prefixLocked(), name)
}

// Catch handles the next failure of the current session. The handler's
// result becomes the session's value.
func (s *Sessions) Catch(handler ErrorHandler) {
	s.r.addCatch(handler, false)
}

// Restore closes the named session and every session above it. The close
// happens once the running entry of those sessions settles: tasks still
// queued in them are discarded with ErrSessionRestored and new tasks go to
// the parent session.
func (s *Sessions) Restore(name string) error {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i := len(r.frames) - 1; i > 0; i-- {
		if r.frames[i].name == name && !r.frames[i].closing {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("restore %q: %w", name, ErrUnknownSession)
	}
	for _, f := range r.frames[idx:] {
		f.closing = true
	}
	r.closeFramesLocked()
	return nil
}

// Running reports whether any session is open.
func (s *Sessions) Running() bool {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target() != r.frames[0]
}

// Current is the name of the innermost open session, or "".
func (s *Sessions) Current() string {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target().name
}

// Depth counts open sessions.
func (s *Sessions) Depth() int {
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.frames[1:] {
		if !f.closing {
			n++
		}
	}
	return n
}
