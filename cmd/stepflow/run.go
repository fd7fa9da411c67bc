package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/msageha/stepflow/internal/events"
	"github.com/msageha/stepflow/internal/lock"
	"github.com/msageha/stepflow/internal/logging"
	"github.com/msageha/stepflow/internal/metrics"
	"github.com/msageha/stepflow/internal/model"
	"github.com/msageha/stepflow/internal/report"
	"github.com/msageha/stepflow/internal/scenario"
	"github.com/msageha/stepflow/internal/watch"
	"github.com/msageha/stepflow/internal/workers"
)

const lockFileName = ".stepflow.lock"

type runOptions struct {
	tests   string
	grep    string
	invert  bool
	steps   bool
	failed  bool
	watch   bool
	workers int
	dryRun  bool
	save    bool
}

func addFilterFlags(cmd *cobra.Command, o *runOptions) {
	cmd.Flags().StringVarP(&o.grep, "grep", "g", "", "Only run tests whose title or tags match this regexp")
	cmd.Flags().BoolVarP(&o.invert, "invert", "i", false, "Invert --grep")
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{save: true}
	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "Run scenarios",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				o.tests = args[0]
			}
			return execute(cmd, g, o)
		},
	}
	addFilterFlags(cmd, o)
	cmd.Flags().BoolVar(&o.steps, "steps", false, "Print every step")
	cmd.Flags().BoolVar(&o.failed, "failed", false, "Only run the tests that failed in the last run")
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "Run again when scenarios or the config change")
	cmd.Flags().IntVar(&o.workers, "workers", 0, "Number of parallel workers (default: workers.count)")
	return cmd
}

func newRunWorkersCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{save: true}
	cmd := &cobra.Command{
		Use:   "run-workers N [path]",
		Short: "Run scenarios on N parallel workers",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid number of workers %q", args[0])
			}
			o.workers = n
			if len(args) == 2 {
				o.tests = args[1]
			}
			return execute(cmd, g, o)
		},
	}
	addFilterFlags(cmd, o)
	cmd.Flags().BoolVar(&o.failed, "failed", false, "Only run the tests that failed in the last run")
	return cmd
}

func newDryRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{dryRun: true, steps: true, workers: 1}
	cmd := &cobra.Command{
		Use:   "dry-run [path]",
		Short: "Print scenarios and their steps without executing them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				o.tests = args[0]
			}
			return execute(cmd, g, o)
		},
	}
	addFilterFlags(cmd, o)
	return cmd
}

// execute runs once, or keeps running on changes with --watch. The output
// directory is locked for the whole time.
func execute(cmd *cobra.Command, g *globalOptions, o *runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := g.load(cmd)
	if err != nil {
		return err
	}
	logger := g.logger(cfg, cmd.ErrOrStderr())

	if o.save {
		if err := os.MkdirAll(cfg.Output, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		runLock := lock.NewRunLock(filepath.Join(cfg.Output, lockFileName))
		if err := runLock.TryLock(); err != nil {
			return err
		}
		defer func() { _ = runLock.Unlock() }()
	}

	r := &run{g: g, o: o, cmd: cmd, logger: logger}
	if cfg.Metrics.Enabled {
		r.collector = metrics.New()
		go func() {
			if err := r.collector.Serve(ctx, cfg.Metrics.Addr, logger.With("metrics")); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	if !o.watch {
		res, err := r.once(ctx)
		if err != nil {
			return err
		}
		if res.HasFailed() {
			return errTestsFailed
		}
		return nil
	}

	paths := []string{r.testsPath(cfg)}
	if _, err := os.Stat(g.configPath); err == nil {
		paths = append(paths, g.configPath)
	}
	w := watch.New(paths, scenario.Extensions, 0, func(ctx context.Context) error {
		_, err := r.once(ctx)
		return err
	}, logger)
	return w.Watch(ctx)
}

type run struct {
	g         *globalOptions
	o         *runOptions
	cmd       *cobra.Command
	logger    *logging.Logger
	collector *metrics.Collector
}

func (r *run) testsPath(cfg model.Config) string {
	if r.o.tests != "" {
		return r.o.tests
	}
	return cfg.Tests
}

// once reloads the config and scenarios and runs them.
func (r *run) once(ctx context.Context) (*model.RunResult, error) {
	cfg, err := r.g.load(r.cmd)
	if err != nil {
		return nil, err
	}
	files, err := scenario.LoadDir(r.testsPath(cfg))
	if err != nil {
		return nil, err
	}

	store := report.NewStore(cfg.Output, r.logger)
	filter := workers.Filter{Grep: r.o.grep, Invert: r.o.invert}
	if r.o.failed {
		uids, err := store.FailedUIDs()
		if err != nil {
			return nil, err
		}
		if len(uids) == 0 {
			fmt.Fprintln(r.cmd.OutOrStdout(), "No failed tests in the last run")
			return model.NewRunResult(), nil
		}
		filter.UIDs = uids
	}

	var audit *events.AuditLogger
	if cfg.Audit.Enabled && r.o.save {
		audit, err = events.NewAuditLogger(filepath.Join(cfg.Output, cfg.Audit.Path), 0)
		if err != nil {
			return nil, err
		}
		defer func() { _ = audit.Close() }()
		if id, err := model.GenerateID(model.IDTypeRun); err == nil {
			audit.SetRunID(id)
		}
	}

	out := r.cmd.OutOrStdout()
	attach := func(inst *workers.Instance, worker string) func() {
		inst.SC.Store.SetDebugMode(r.g.debug)
		offs := []func(){
			report.NewConsole(out, report.ConsoleOptions{Steps: r.o.steps || r.g.verbose, Worker: worker}).Attach(inst.SC.Events),
		}
		if r.collector != nil {
			offs = append(offs, r.collector.Attach(inst.SC.Events))
		}
		if audit != nil {
			offs = append(offs, audit.Attach(inst.SC.Events))
		}
		return func() {
			for _, off := range offs {
				off()
			}
		}
	}

	count := r.o.workers
	if count == 0 {
		count = cfg.Workers.Count
	}

	var res *model.RunResult
	if count > 1 {
		d := events.NewDispatcher(r.logger)
		report.NewConsole(out, report.ConsoleOptions{}).Attach(d)
		if audit != nil {
			audit.Attach(d)
		}
		pool := &workers.Pool{
			Count:  count,
			Config: cfg,
			Logger: r.logger,
			DryRun: r.o.dryRun,
			Events: d,
			Setup:  func(inst *workers.Instance) func() { return attach(inst, inst.Name) },
		}
		if res, err = pool.Run(ctx, files, filter); err != nil {
			return nil, err
		}
	} else {
		inst, err := workers.NewInstance("main", cfg, r.logger)
		if err != nil {
			return nil, err
		}
		defer inst.Close()
		inst.SC.Store.SetDryRun(r.o.dryRun)
		inst.OnClose(attach(inst, ""))
		if res, err = inst.Run(ctx, files, filter); err != nil {
			return nil, err
		}
	}

	if r.o.save {
		path, err := store.Save(report.ResultFileName, res)
		if err != nil {
			return nil, err
		}
		r.logger.Infof("results saved to %s", path)
	}
	return res, nil
}
