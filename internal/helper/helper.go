// Package helper defines the capability sets steps are dispatched to.
package helper

import (
	"context"
	"fmt"
	"sort"

	"github.com/msageha/stepflow/internal/model"
)

// Method is one capability of a helper.
type Method func(ctx context.Context, args ...any) (any, error)

// Helper exposes a named set of methods.
type Helper interface {
	Name() string
	Methods() map[string]Method
}

// Configurable helpers receive their block of the config file at setup.
type Configurable interface {
	Configure(cfg model.HelperConfig) error
}

// TestHooks are called around every test by the runner.
type TestHooks interface {
	BeforeTest(ctx context.Context, t *model.Test) error
	AfterTest(ctx context.Context, t *model.Test) error
}

// SuiteHooks are called around every suite by the runner.
type SuiteHooks interface {
	BeforeSuite(ctx context.Context, s *model.Suite) error
	AfterSuite(ctx context.Context, s *model.Suite) error
}

// Factory builds a helper by name for the config loader.
type Factory func() Helper

var builtins = map[string]Factory{
	FileSystemName: func() Helper { return NewFileSystem("") },
	TimerName:      func() Helper { return NewTimer() },
}

// Builtin returns a fresh instance of a built-in helper.
func Builtin(name string) (Helper, error) {
	f, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown helper %q (available: %v)", name, BuiltinNames())
	}
	return f(), nil
}

func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MethodNames lists a helper's methods in sorted order.
func MethodNames(h Helper) []string {
	methods := h.Methods()
	names := make([]string, 0, len(methods))
	for n := range methods {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func stringArg(args []any, i int, method string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s: missing argument %d", method, i+1)
	}
	switch v := args[i].(type) {
	case string:
		return v, nil
	case model.Secret:
		return v.Value(), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return fmt.Sprint(args[i]), nil
}

func floatArg(args []any, i int, def float64) float64 {
	if i >= len(args) {
		return def
	}
	switch v := args[i].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}
