package step

import (
	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/scheduler"
)

// Section groups the steps recorded between Start and End under one meta
// step.
type Section struct {
	Name string
	Meta *model.Step

	sc   *scheduler.Context
	offs []func()
}

func NewSection(sc *scheduler.Context, name string) *Section {
	return &Section{
		Name: name,
		Meta: model.NewMetaStep("", name, nil),
		sc:   sc,
	}
}

// Hidden collapses the section's children in console output.
func (s *Section) Hidden() *Section {
	s.Meta.Collapsed = true
	return s
}

// Start makes s the current section, ending the previous one.
func (s *Section) Start() *Section {
	store := s.sc.Store
	if cur := store.CurrentSection(); cur != nil {
		cur.End()
	}
	store.SetCurrentSection(s)

	s.offs = append(s.offs,
		s.sc.Events.Prepend(events.StepBefore, s.attach),
		s.sc.Events.Once(events.TestFinished, func(events.Event) { s.End() }),
	)
	return s
}

func (s *Section) attach(e events.Event) {
	if e.Step == nil || s.sc.Store.CurrentSection() != scheduler.Section(s) {
		return
	}
	if root := e.Step.Root(); root != s.Meta {
		root.SetMetaStep(s.Meta)
	}
}

func (s *Section) End() {
	if s.sc.Store.CurrentSection() == scheduler.Section(s) {
		s.sc.Store.SetCurrentSection(nil)
	}
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
}

// StartSection opens a named section on sc.
func StartSection(sc *scheduler.Context, name string) *Section {
	return NewSection(sc, name).Start()
}

// EndSection closes the current section, if any.
func EndSection(sc *scheduler.Context) {
	if cur := sc.Store.CurrentSection(); cur != nil {
		cur.End()
	}
}
