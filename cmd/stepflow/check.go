package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msageha/stepflow/internal/scenario"
	"github.com/msageha/stepflow/internal/workers"
)

func newCheckCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [path]",
		Short: "Validate the config, helpers and scenarios, then dry-run them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✔ config %s\n", g.configPath)

			logger := g.logger(cfg, cmd.ErrOrStderr())
			inst, err := workers.NewInstance("check", cfg, logger)
			if err != nil {
				return err
			}
			defer inst.Close()
			var names []string
			for _, h := range inst.Registry.Helpers() {
				names = append(names, h.Name())
			}
			fmt.Fprintf(out, "✔ helpers: %s\n", strings.Join(names, ", "))

			path := cfg.Tests
			if len(args) == 1 {
				path = args[0]
			}
			files, err := scenario.LoadDir(path)
			if err != nil {
				return err
			}
			var errs []error
			scenarios := 0
			for _, f := range files {
				scenarios += len(f.Scenario)
				if err := f.CheckMethods(inst.I); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			fmt.Fprintf(out, "✔ %d scenarios in %d files\n", scenarios, len(files))

			inst.SC.Store.SetDryRun(true)
			res, err := inst.Run(cmd.Context(), files, workers.Filter{})
			if err != nil {
				return err
			}
			if res.HasFailed() {
				return fmt.Errorf("dry run failed: %s", strings.Join(res.Failures(), "; "))
			}
			fmt.Fprintf(out, "✔ dry run: %d tests\n", res.Stats().Tests)
			return nil
		},
	}
}
