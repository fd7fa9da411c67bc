package model

import (
	"context"
	"regexp"
	"time"
)

var tagRegex = regexp.MustCompile(`@[a-zA-Z0-9_-]+`)

// Note is metadata attached to a test by plugins or soft assertions.
type Note struct {
	Type string `yaml:"type" json:"type"`
	Text string `yaml:"text" json:"text"`
}

const NoteConditionalError = "conditionalError"

// TestFunc is a test or hook body. It enqueues steps; returning an error is
// the same as throwing inside the body.
type TestFunc func(ctx context.Context) error

type Test struct {
	UID       string
	Title     string
	Tags      []string
	Meta      map[string]string
	Notes     []Note
	Artifacts map[string]string
	Steps     []*Step

	State    TestState
	Err      error
	Retries  int
	RetryNum int
	// Throws makes the test pass only when it fails with an error
	// containing this text.
	Throws string
	// TotalTimeout is the test budget in seconds (0 = inherit).
	TotalTimeout float64
	// Skip reports the test as skipped without running it.
	Skip bool

	StartedAt time.Time
	Duration  time.Duration

	Suite *Suite
	Fn    TestFunc
}

func NewTest(title string, fn TestFunc) *Test {
	return &Test{
		Title:     title,
		Tags:      tagRegex.FindAllString(title, -1),
		Meta:      map[string]string{},
		Artifacts: map[string]string{},
		Fn:        fn,
	}
}

func (t *Test) AddNote(typ, text string) {
	t.Notes = append(t.Notes, Note{Type: typ, Text: text})
}

func (t *Test) FullTitle() string {
	if t.Suite == nil {
		return t.Title
	}
	return t.Suite.Title + ": " + t.Title
}

// HookKind names the place a hook runs at.
type HookKind string

const (
	HookBefore      HookKind = "before"
	HookAfter       HookKind = "after"
	HookBeforeSuite HookKind = "beforeSuite"
	HookAfterSuite  HookKind = "afterSuite"
)

type Hook struct {
	Kind    HookKind
	Suite   *Suite
	Test    *Test
	Retries int
	Steps   []*Step
	Err     error
	Fn      TestFunc
}

func (h *Hook) Title() string {
	return string(h.Kind) + " hook"
}

type Suite struct {
	UID   string
	Title string
	File  string
	Tags  []string
	Tests []*Test

	Before      []*Hook
	After       []*Hook
	BeforeSuite []*Hook
	AfterSuite  []*Hook

	// TotalTimeout is the suite budget in seconds (0 = inherit).
	TotalTimeout float64
	Retries      int
}

func NewSuite(title string) *Suite {
	return &Suite{
		UID:   StableID(IDTypeSuite, title),
		Title: title,
		Tags:  tagRegex.FindAllString(title, -1),
	}
}

// AddTest attaches a test, inheriting suite tags, and gives it a stable uid.
func (s *Suite) AddTest(t *Test) {
	t.Suite = s
	t.Tags = append(t.Tags, s.Tags...)
	t.UID = StableID(IDTypeTest, s.File+":"+t.FullTitle())
	if t.Retries == 0 {
		t.Retries = s.Retries
	}
	s.Tests = append(s.Tests, t)
}

func (s *Suite) AddHook(kind HookKind, fn TestFunc, retries int) *Hook {
	h := &Hook{Kind: kind, Suite: s, Fn: fn, Retries: retries}
	switch kind {
	case HookBefore:
		s.Before = append(s.Before, h)
	case HookAfter:
		s.After = append(s.After, h)
	case HookBeforeSuite:
		s.BeforeSuite = append(s.BeforeSuite, h)
	case HookAfterSuite:
		s.AfterSuite = append(s.AfterSuite, h)
	}
	return h
}
