// Package workers runs scenarios on one or more independent scheduler
// instances and merges their results.
package workers

import (
	"context"
	"fmt"

	"github.com/msageha/stepflow/internal/actor"
	"github.com/msageha/stepflow/internal/listener"
	"github.com/msageha/stepflow/internal/logging"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/runner"
	"github.com/msageha/stepflow/internal/scenario"
	"github.com/msageha/stepflow/internal/scheduler"
)

// Filter selects the tests an instance runs.
type Filter struct {
	Grep   string
	Invert bool
	// UIDs restricts the run to these tests when non-nil.
	UIDs []string
}

// Instance is one fully wired scheduler: helpers, actor, listeners and
// runner. Instances share nothing.
type Instance struct {
	Name     string
	SC       *scheduler.Context
	Registry *actor.Registry
	I        *actor.Actor
	Builder  *scenario.Builder
	Runner   *runner.Runner
	Result   *model.RunResult

	detach []func()
}

func NewInstance(name string, cfg model.Config, logger *logging.Logger) (*Instance, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	reg, err := actor.FromConfig(cfg.Helpers)
	if err != nil {
		return nil, fmt.Errorf("%s: helpers: %w", name, err)
	}
	sc := scheduler.New(cfg, logger.With(name))
	res := model.NewRunResult()
	a := actor.New(sc, reg)
	return &Instance{
		Name:     name,
		SC:       sc,
		Registry: reg,
		I:        a,
		Builder:  scenario.NewBuilder(sc, a),
		Runner:   runner.New(sc, res),
		Result:   res,
		detach: []func(){
			listener.Defaults(sc, res),
			listener.Helpers(sc, reg.Helpers()),
		},
	}, nil
}

// OnClose registers a detach func run by Close.
func (i *Instance) OnClose(off func()) {
	i.detach = append(i.detach, off)
}

func (i *Instance) Close() {
	for j := len(i.detach) - 1; j >= 0; j-- {
		i.detach[j]()
	}
	i.detach = nil
}

// Suites builds the suites of files bound to this instance and applies f.
func (i *Instance) Suites(files []*scenario.File, f Filter) ([]*model.Suite, error) {
	suites, err := scenario.Grep(i.Builder.Suites(files), f.Grep, f.Invert)
	if err != nil {
		return nil, err
	}
	if f.UIDs != nil {
		suites = scenario.OnlyUIDs(suites, f.UIDs)
	}
	return suites, nil
}

// Run executes files on this instance. The result of a previous run is
// discarded.
func (i *Instance) Run(ctx context.Context, files []*scenario.File, f Filter) (*model.RunResult, error) {
	suites, err := i.Suites(files, f)
	if err != nil {
		return nil, err
	}
	i.Result.Reset()
	return i.Runner.Run(ctx, suites), nil
}
