// Package scheduler bundles the per-run state that every step, combinator
// and listener works against.
package scheduler

import (
	"sync"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/logging"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/recorder"
)

// Context is one scheduler instance. Nothing in it is shared between
// instances, so workers each build their own.
type Context struct {
	Recorder *recorder.Recorder
	Events   *events.Dispatcher
	Store    *Store
	Logger   *logging.Logger
	Config   model.Config
}

func New(cfg model.Config, logger *logging.Logger) *Context {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Context{
		Recorder: recorder.New(logger),
		Events:   events.NewDispatcher(logger),
		Store:    NewStore(),
		Logger:   logger,
		Config:   cfg,
	}
}

// Section is an open group of steps; starting a new one ends the previous.
type Section interface {
	End()
}

// Store holds the run flags and the objects currently executing.
type Store struct {
	mu           sync.RWMutex
	debugMode    bool
	timeouts     bool
	autoRetries  bool
	dryRun       bool
	onPause      bool
	currentTest  *model.Test
	currentHook  *model.Hook
	currentSuite *model.Suite
	currentStep  *model.Step
	section      Section
	stepOptions  map[string]any
	stepFailure  error
}

func NewStore() *Store {
	return &Store{timeouts: true}
}

func (s *Store) DebugMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.debugMode
}

func (s *Store) SetDebugMode(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debugMode = v
}

// Timeouts reports whether step and test timeouts are enforced.
func (s *Store) Timeouts() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeouts
}

func (s *Store) SetTimeouts(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts = v
}

// AutoRetries is set by the retry-failed-step listener and cleared inside
// tryTo blocks.
func (s *Store) AutoRetries() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoRetries
}

func (s *Store) SetAutoRetries(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoRetries = v
}

func (s *Store) DryRun() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dryRun
}

func (s *Store) SetDryRun(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dryRun = v
}

func (s *Store) OnPause() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onPause
}

func (s *Store) SetOnPause(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPause = v
}

func (s *Store) CurrentTest() *model.Test {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTest
}

func (s *Store) SetCurrentTest(t *model.Test) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTest = t
}

func (s *Store) CurrentHook() *model.Hook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentHook
}

func (s *Store) SetCurrentHook(h *model.Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentHook = h
}

func (s *Store) CurrentSuite() *model.Suite {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSuite
}

func (s *Store) SetCurrentSuite(suite *model.Suite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentSuite = suite
}

func (s *Store) CurrentStep() *model.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentStep
}

func (s *Store) SetCurrentStep(st *model.Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentStep = st
}

// StepOptions are the options of the step being recorded, if any.
func (s *Store) StepOptions() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepOptions
}

func (s *Store) SetStepOptions(opts map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepOptions = opts
}

func (s *Store) CurrentSection() Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.section
}

func (s *Store) SetCurrentSection(sec Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.section = sec
}

// FailStep makes the step that is finishing fail with err although its
// action passed. Listeners call it from step.finished.
func (s *Store) FailStep(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stepFailure == nil {
		s.stepFailure = err
	}
}

// TakeStepFailure returns the error set by FailStep and clears it.
func (s *Store) TakeStepFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.stepFailure
	s.stepFailure = nil
	return err
}
