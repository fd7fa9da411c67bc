// Package lock serializes access to run output: an in-process lock per
// file path and an flock on the output directory shared across processes.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// ErrLocked is returned by TryLock when another process holds the lock.
var ErrLocked = errors.New("output directory is used by another run")

// PathLocks hands out one mutex per key, typically a file path.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPathLocks() *PathLocks {
	return &PathLocks{locks: make(map[string]*sync.Mutex)}
}

// Do runs fn while holding the lock for key.
func (p *PathLocks) Do(key string, fn func() error) error {
	mu := p.get(key)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func (p *PathLocks) get(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if mu, ok := p.locks[key]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	p.locks[key] = mu
	return mu
}

// RunLock is an exclusive flock holding the owner's PID.
type RunLock struct {
	path string
	file *os.File
}

func NewRunLock(path string) *RunLock {
	return &RunLock{path: path}
}

func (l *RunLock) Path() string { return l.path }

func (l *RunLock) TryLock() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return fmt.Errorf("%w (lock %s)", ErrLocked, l.path)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}
	if err := writePID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return err
	}
	l.file = f
	return nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	return f.Sync()
}

// Owner reads the PID recorded in the lock file.
func (l *RunLock) Owner() (int, error) {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

// Unlock is safe to call more than once.
func (l *RunLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	_ = os.Remove(l.path)
	return nil
}
