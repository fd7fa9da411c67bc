// Package actor binds helper methods to recorded steps.
package actor

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/msageha/stepflow/internal/helper"
	"github.com/msageha/stepflow/internal/model"
)

var ErrUnknownHelper = errors.New("no helper provides this method")

// Registry maps helper names to their methods. When two helpers provide the
// same method the one registered first wins.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	helpers map[string]helper.Helper
	methods map[string]binding
}

type binding struct {
	helper string
	method helper.Method
}

func NewRegistry() *Registry {
	return &Registry{
		helpers: make(map[string]helper.Helper),
		methods: make(map[string]binding),
	}
}

func (r *Registry) Register(h helper.Helper) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.Name()
	if _, ok := r.helpers[name]; ok {
		return fmt.Errorf("helper %q already registered", name)
	}
	r.helpers[name] = h
	r.order = append(r.order, name)
	for method, fn := range h.Methods() {
		if _, taken := r.methods[method]; taken {
			continue
		}
		r.methods[method] = binding{helper: name, method: fn}
	}
	return nil
}

// Lookup returns a helper by name.
func (r *Registry) Lookup(name string) (helper.Helper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.helpers[name]
	return h, ok
}

// Helpers returns the registered helpers in registration order.
func (r *Registry) Helpers() []helper.Helper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]helper.Helper, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.helpers[n])
	}
	return out
}

// Resolve finds the helper that serves method.
func (r *Registry) Resolve(method string) (string, helper.Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.methods[method]
	if !ok {
		return "", nil, fmt.Errorf("%s: %w", method, ErrUnknownHelper)
	}
	return b.helper, b.method, nil
}

// ResolveOn finds method on a specific helper.
func (r *Registry) ResolveOn(helperName, method string) (helper.Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.helpers[helperName]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", helperName, method, ErrUnknownHelper)
	}
	fn, ok := h.Methods()[method]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", helperName, method, ErrUnknownHelper)
	}
	return fn, nil
}

// FromConfig builds a registry of built-in helpers, configured from their
// blocks and registered in name order.
func FromConfig(cfg map[string]model.HelperConfig) (*Registry, error) {
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := NewRegistry()
	for _, name := range names {
		h, err := helper.Builtin(name)
		if err != nil {
			return nil, err
		}
		if c, ok := h.(helper.Configurable); ok {
			if err := c.Configure(cfg[name]); err != nil {
				return nil, fmt.Errorf("configure %s: %w", name, err)
			}
		}
		if err := reg.Register(h); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
