package workers

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/logging"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/scenario"
)

// Pool splits the selected tests across Count instances.
type Pool struct {
	Count  int
	Config model.Config
	Logger *logging.Logger
	DryRun bool
	// Events receives worker.result per finished worker and all.result
	// with the merged result.
	Events *events.Dispatcher
	// Setup is called for every instance before it runs; the returned
	// func, if any, is called when the instance is closed.
	Setup func(*Instance) func()
}

// Groups distributes uids round-robin over at most n groups, dropping
// empty ones.
func Groups(uids []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	if n > len(uids) {
		n = len(uids)
	}
	groups := make([][]string, n)
	for i, uid := range uids {
		groups[i%n] = append(groups[i%n], uid)
	}
	return groups
}

func (p *Pool) logger() *logging.Logger {
	if p.Logger == nil {
		return logging.Discard()
	}
	return p.Logger.With("workers")
}

// Run plans the test split and runs every group on its own instance.
// Failing tests do not fail Run; only setup errors do.
func (p *Pool) Run(ctx context.Context, files []*scenario.File, f Filter) (*model.RunResult, error) {
	log := p.logger()

	planner, err := NewInstance("planner", p.Config, p.Logger)
	if err != nil {
		return nil, err
	}
	suites, err := planner.Suites(files, f)
	planner.Close()
	if err != nil {
		return nil, err
	}
	var uids []string
	for _, s := range suites {
		for _, t := range s.Tests {
			uids = append(uids, t.UID)
		}
	}
	groups := Groups(uids, p.Count)
	log.Infof("running %d tests on %d workers", len(uids), len(groups))

	merged := model.NewRunResult()
	merged.Start()
	results := make([]*model.RunResult, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	for i, group := range groups {
		i, group := i, group
		name :=fmt.Sprintf("worker%d", i+1)
		g.Go(func() error {
			inst, err := NewInstance(name, p.Config, p.Logger)
			if err != nil {
				return err
			}
			defer inst.Close()
			inst.SC.Store.SetDryRun(p.DryRun)
			if p.Setup != nil {
				if off := p.Setup(inst); off != nil {
					inst.OnClose(off)
				}
			}
			res, err := inst.Run(gctx, files, Filter{Grep: f.Grep, Invert: f.Invert, UIDs: group})
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			results[i] = res
			log.Debugf("%s finished: %d tests, %d failures", name, res.Stats().Tests, res.Stats().Failures)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, res := range results {
		merged.Merge(res)
		if p.Events != nil {
			p.Events.Emit(events.Event{
				Type:   events.WorkerResult,
				Result: res,
				Data:   map[string]any{"worker": fmt.Sprintf("worker%d", i+1)},
			})
		}
	}
	merged.Tally()
	if p.Events != nil {
		p.Events.Emit(events.Event{Type: events.AllResult, Result: merged})
	}
	return merged, nil
}
