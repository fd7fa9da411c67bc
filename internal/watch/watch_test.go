package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_CollapsesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	w := New(nil, nil, 0, func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Trigger(context.Background())
	}()
	<-started

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.Trigger(context.Background())
		}()
	}
	// Give the joiners time to reach the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), w.Runs())
}

func TestRelevant(t *testing.T) {
	w := New(nil, []string{".yaml", ".yml"}, 0, nil, nil)
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write yaml", fsnotify.Event{Name: "s/login.yaml", Op: fsnotify.Write}, true},
		{"create yml", fsnotify.Event{Name: "s/login.yml", Op: fsnotify.Create}, true},
		{"remove", fsnotify.Event{Name: "s/login.yaml", Op: fsnotify.Remove}, true},
		{"chmod only", fsnotify.Event{Name: "s/login.yaml", Op: fsnotify.Chmod}, false},
		{"other ext", fsnotify.Event{Name: "s/notes.txt", Op: fsnotify.Write}, false},
		{"atomic write temp", fsnotify.Event{Name: "s/.stepflow-tmp-1.yaml", Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.relevant(tt.event))
		})
	}
}

func TestWatch_RerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	runs := make(chan struct{}, 10)
	w := New([]string{dir}, []string{".yaml"}, 20*time.Millisecond, func(context.Context) error {
		runs <- struct{}{}
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	waitRun := func() {
		t.Helper()
		select {
		case <-runs:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for run")
		}
	}
	waitRun()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("feature: A\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("feature: B\n"), 0644))
	waitRun()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop")
	}
	assert.GreaterOrEqual(t, w.Runs(), int64(2))
}

func TestWatch_MissingPath(t *testing.T) {
	w := New([]string{filepath.Join(t.TempDir(), "missing")}, nil, 0, func(context.Context) error { return nil }, nil)
	assert.Error(t, w.Watch(context.Background()))
}
