package helper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/msageha/stepflow/internal/model"
)

const FileSystemName = "FileSystem"

// AssertionError is returned by see*/dontSee* methods.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string { return e.Msg }

// FileSystem checks and writes files relative to a working directory.
type FileSystem struct {
	mu      sync.Mutex
	dir     string
	file    string
	content string
}

func NewFileSystem(dir string) *FileSystem {
	return &FileSystem{dir: dir}
}

func (fs *FileSystem) Name() string { return FileSystemName }

func (fs *FileSystem) Configure(cfg model.HelperConfig) error {
	if p, ok := cfg["path"].(string); ok && p != "" {
		fs.mu.Lock()
		fs.dir = p
		fs.mu.Unlock()
	}
	return nil
}

// BeforeTest resets the opened file.
func (fs *FileSystem) BeforeTest(context.Context, *model.Test) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.file, fs.content = "", ""
	return nil
}

func (fs *FileSystem) AfterTest(context.Context, *model.Test) error { return nil }

func (fs *FileSystem) Methods() map[string]Method {
	return map[string]Method{
		"amInPath":             fs.amInPath,
		"writeToFile":          fs.writeToFile,
		"seeFile":              fs.seeFile,
		"dontSeeFile":          fs.dontSeeFile,
		"seeInThisFile":        fs.seeInThisFile,
		"dontSeeInThisFile":    fs.dontSeeInThisFile,
		"seeFileContentsEqual": fs.seeFileContentsEqual,
		"waitForFile":          fs.waitForFile,
		"grabFileNames":        fs.grabFileNames,
	}
}

func (fs *FileSystem) path(name string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(fs.dir, name)
}

func (fs *FileSystem) amInPath(_ context.Context, args ...any) (any, error) {
	dir, err := stringArg(args, 0, "amInPath")
	if err != nil {
		return nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(fs.dir, dir)
	}
	fs.dir = dir
	return nil, nil
}

func (fs *FileSystem) writeToFile(_ context.Context, args ...any) (any, error) {
	name, err := stringArg(args, 0, "writeToFile")
	if err != nil {
		return nil, err
	}
	text, err := stringArg(args, 1, "writeToFile")
	if err != nil {
		return nil, err
	}
	p := fs.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, fmt.Errorf("writeToFile: %w", err)
	}
	if err := os.WriteFile(p, []byte(text), 0644); err != nil {
		return nil, fmt.Errorf("writeToFile: %w", err)
	}
	return nil, nil
}

func (fs *FileSystem) seeFile(_ context.Context, args ...any) (any, error) {
	name, err := stringArg(args, 0, "seeFile")
	if err != nil {
		return nil, err
	}
	return nil, fs.open(name)
}

func (fs *FileSystem) open(name string) error {
	p := fs.path(name)
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &AssertionError{Msg: fmt.Sprintf("expected file %q to exist", p)}
		}
		return fmt.Errorf("read %s: %w", p, err)
	}
	fs.mu.Lock()
	fs.file, fs.content = p, string(data)
	fs.mu.Unlock()
	return nil
}

func (fs *FileSystem) dontSeeFile(_ context.Context, args ...any) (any, error) {
	name, err := stringArg(args, 0, "dontSeeFile")
	if err != nil {
		return nil, err
	}
	p := fs.path(name)
	if _, err := os.Stat(p); err == nil {
		return nil, &AssertionError{Msg: fmt.Sprintf("expected file %q not to exist", p)}
	}
	return nil, nil
}

func (fs *FileSystem) opened(method string) (string, string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.file == "" {
		return "", "", fmt.Errorf("%s: no file opened, call seeFile first", method)
	}
	return fs.file, fs.content, nil
}

func (fs *FileSystem) seeInThisFile(_ context.Context, args ...any) (any, error) {
	text, err := stringArg(args, 0, "seeInThisFile")
	if err != nil {
		return nil, err
	}
	file, content, err := fs.opened("seeInThisFile")
	if err != nil {
		return nil, err
	}
	if !strings.Contains(content, text) {
		return nil, &AssertionError{Msg: fmt.Sprintf("expected %s to include %q", file, text)}
	}
	return nil, nil
}

func (fs *FileSystem) dontSeeInThisFile(_ context.Context, args ...any) (any, error) {
	text, err := stringArg(args, 0, "dontSeeInThisFile")
	if err != nil {
		return nil, err
	}
	file, content, err := fs.opened("dontSeeInThisFile")
	if err != nil {
		return nil, err
	}
	if strings.Contains(content, text) {
		return nil, &AssertionError{Msg: fmt.Sprintf("expected %s not to include %q", file, text)}
	}
	return nil, nil
}

func (fs *FileSystem) seeFileContentsEqual(_ context.Context, args ...any) (any, error) {
	text, err := stringArg(args, 0, "seeFileContentsEqual")
	if err != nil {
		return nil, err
	}
	file, content, err := fs.opened("seeFileContentsEqual")
	if err != nil {
		return nil, err
	}
	if content != text {
		return nil, &AssertionError{Msg: fmt.Sprintf("expected contents of %s to equal %q, got %q", file, text, content)}
	}
	return nil, nil
}

// waitForFile polls for a file for up to the given seconds (default 1).
func (fs *FileSystem) waitForFile(ctx context.Context, args ...any) (any, error) {
	name, err := stringArg(args, 0, "waitForFile")
	if err != nil {
		return nil, err
	}
	p := fs.path(name)
	deadline := time.Now().Add(time.Duration(floatArg(args, 1, 1) * float64(time.Second)))
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(p); err == nil {
			return nil, fs.open(name)
		}
		if time.Now().After(deadline) {
			return nil, &AssertionError{Msg: fmt.Sprintf("file %q did not appear in time", p)}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (fs *FileSystem) grabFileNames(context.Context, ...any) (any, error) {
	fs.mu.Lock()
	dir := fs.dir
	fs.mu.Unlock()
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("grabFileNames: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
