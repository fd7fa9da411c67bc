package model

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/msageha/stepflow/internal/timeout"
)

// StepKind selects how a step executes.
type StepKind int

const (
	// StepPlain carries no callable: comments and `say` lines.
	StepPlain StepKind = iota
	// StepFunc runs a bare function.
	StepFunc
	// StepHelper runs a method of a registered helper.
	StepHelper
	// StepMeta wraps a nested callable and adopts the steps raised inside it.
	StepMeta
)

func (k StepKind) String() string {
	switch k {
	case StepFunc:
		return "func"
	case StepHelper:
		return "helper"
	case StepMeta:
		return "meta"
	default:
		return "plain"
	}
}

// Callable is the body of a func, helper or meta step.
type Callable func(ctx context.Context, args ...any) (any, error)

var bddActor = regexp.MustCompile(`^(Given|When|Then|And)`)

// Step models one user-visible action. MetaStep is a non-owning link to the
// enclosing step; the links always form a tree.
type Step struct {
	Kind   StepKind
	Name   string
	Actor  string
	Args   []any
	Opts   map[string]any
	Status Status

	Prefix  string
	Suffix  string
	Comment string

	// Helper and HelperMethod identify the capability behind a helper step.
	Helper       string
	HelperMethod string
	Fn           Callable

	// Collapsed hides the children of a meta step from console output.
	Collapsed bool

	MetaStep  *Step
	StartTime time.Time
	EndTime   time.Time
	Timeouts  map[timeout.Order]time.Duration
}

func newStep(kind StepKind, name string) *Step {
	return &Step{
		Kind:     kind,
		Name:     name,
		Actor:    "I",
		Status:   StatusPending,
		Opts:     map[string]any{},
		Timeouts: map[timeout.Order]time.Duration{},
	}
}

func NewPlainStep(name string) *Step {
	return newStep(StepPlain, name)
}

func NewFuncStep(name string, fn Callable) *Step {
	s := newStep(StepFunc, name)
	s.Fn = fn
	return s
}

func NewHelperStep(helper, method string, fn Callable) *Step {
	s := newStep(StepHelper, method)
	s.Helper = helper
	s.HelperMethod = method
	s.Fn = fn
	return s
}

// NewMetaStep creates a grouping step. An empty actor renders the name alone.
func NewMetaStep(actor, name string, fn Callable) *Step {
	s := newStep(StepMeta, name)
	s.Actor = actor
	s.Fn = fn
	return s
}

func (s *Step) IsMeta() bool { return s.Kind == StepMeta }

func (s *Step) IsBDD() bool {
	return s.IsMeta() && bddActor.MatchString(s.Actor)
}

// SetStatus updates the step and every ancestor. Each step only accepts
// transitions allowed by ValidateStepTransition, so an ancestor that already
// failed stays failed when a later child passes.
func (s *Step) SetStatus(status Status) {
	for cur := s; cur != nil; cur = cur.MetaStep {
		if ValidateStepTransition(cur.Status, status) == nil {
			cur.Status = status
		}
	}
}

// SetMetaStep links s under parent. Links that would close a cycle are refused.
func (s *Step) SetMetaStep(parent *Step) bool {
	for p := parent; p != nil; p = p.MetaStep {
		if p == s {
			return false
		}
	}
	s.MetaStep = parent
	return true
}

// Root returns the top-most ancestor (s itself when it has no parent).
func (s *Step) Root() *Step {
	cur := s
	for cur.MetaStep != nil {
		cur = cur.MetaStep
	}
	return cur
}

// SetTimeout declares a timeout with the given precedence order.
// Zero means "no timeout".
func (s *Step) SetTimeout(d time.Duration, order timeout.Order) {
	if s.Timeouts == nil {
		s.Timeouts = map[timeout.Order]time.Duration{}
	}
	s.Timeouts[order] = d
}

// Timeout is the effective timeout; ok is false when none was declared.
func (s *Step) Timeout() (time.Duration, bool) {
	return timeout.Resolve(s.Timeouts)
}

func (s *Step) SetArguments(args []any) {
	s.Args = args
}

func (s *Step) SetActor(actor string) {
	s.Actor = actor
}

func (s *Step) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

func (s *Step) Humanize() string {
	return HumanizeString(s.Name)
}

func (s *Step) HumanizeArgs() string {
	return HumanizeArgs(s.Args)
}

func (s *Step) String() string {
	if s.IsMeta() {
		return s.metaString()
	}
	return strings.TrimSpace(UcFirst(s.Prefix + s.Actor + " " + s.Humanize() + " " + s.HumanizeArgs() + s.Suffix))
}

func (s *Step) metaString() string {
	switch {
	case s.IsBDD():
		return s.Prefix + s.Actor + " " + s.Name + ` "` + s.HumanizeArgs() + s.Suffix + `"`
	case s.Actor == "I":
		return s.Prefix + s.Actor + " " + s.Humanize() + " " + s.HumanizeArgs() + s.Suffix
	case s.Actor == "":
		return strings.TrimSpace(s.Name + " " + s.HumanizeArgs() + s.Suffix)
	default:
		return strings.TrimSpace("On " + s.Prefix + s.Actor + ": " + s.Humanize() + " " + s.HumanizeArgs() + s.Suffix)
	}
}

// ToCode renders the step the way it would be written in a test.
func (s *Step) ToCode() string {
	return s.Prefix + s.Actor + "." + s.Name + "(" + s.HumanizeArgs() + ")" + s.Suffix
}

// HasBDDAncestor reports whether any enclosing meta step is a Given/When/Then.
func (s *Step) HasBDDAncestor() bool {
	for p := s.MetaStep; p != nil; p = p.MetaStep {
		if bddActor.MatchString(p.Actor) {
			return true
		}
	}
	return false
}

// SimpleStep is the serializable view of a step used in reports.
type SimpleStep struct {
	Title     string         `yaml:"title" json:"title"`
	Args      []string       `yaml:"args,omitempty" json:"args,omitempty"`
	Opts      map[string]any `yaml:"opts,omitempty" json:"opts,omitempty"`
	Status    Status         `yaml:"status" json:"status"`
	StartTime time.Time      `yaml:"start_time" json:"start_time"`
	EndTime   time.Time      `yaml:"end_time" json:"end_time"`
	Parent    string         `yaml:"parent,omitempty" json:"parent,omitempty"`
}

func (s *Step) Simplify() SimpleStep {
	out := SimpleStep{
		Title:     s.Name,
		Status:    s.Status,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
	}
	if s.MetaStep != nil {
		out.Parent = s.MetaStep.Actor
	}
	if len(s.Opts) > 0 {
		out.Opts = make(map[string]any, len(s.Opts))
		for k, v := range s.Opts {
			if isScalar(v) {
				out.Opts[k] = v
			}
		}
	}
	for _, a := range s.Args {
		if a == nil {
			continue
		}
		out.Args = append(out.Args, truncate(HumanizeArg(a), 300))
	}
	return out
}

// DryRunValue is returned by helper steps under dry-run.
type DryRunValue struct{}

func (DryRunValue) String() string { return "<VALUE>" }
