// stepflow runs YAML scenarios through the step scheduler.
//
// Usage:
//
//	stepflow [--config FILE] [--debug] [--verbose] <command> [flags]
//
// Commands:
//
//	run          Run scenarios
//	run-workers  Run scenarios on N parallel workers
//	dry-run      Print scenarios and steps without executing them
//	check        Validate config, helpers and scenarios
//	init         Create stepflow.yaml and an example scenario
//	version      Print the version
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/stepflow/internal/logging"
	"github.com/msageha/stepflow/internal/model"
)

// version is set through ldflags at build time.
var version = "dev"

var errTestsFailed = errors.New("tests failed")

type globalOptions struct {
	configPath string
	debug      bool
	verbose    bool
}

func (g *globalOptions) load(cmd *cobra.Command) (model.Config, error) {
	return loadConfig(g.configPath, cmd.Flags().Changed("config"))
}

func (g *globalOptions) logger(cfg model.Config, w io.Writer) *logging.Logger {
	level := logging.ParseLevel(cfg.Logging.Level)
	if g.debug || g.verbose {
		level = logging.LevelDebug
	}
	return logging.New(w, level, "stepflow")
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "stepflow",
		Short:         "Serialized step scheduler for UI test scenarios",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigFile, "Config file")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "Debug logging; disables automatic step retries")
	root.PersistentFlags().BoolVar(&g.verbose, "verbose", false, "Debug logging and step output")

	root.AddCommand(
		newRunCmd(g),
		newRunWorkersCmd(g),
		newDryRunCmd(g),
		newCheckCmd(g),
		newInitCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "stepflow", version)
			},
		},
	)
	return root
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		if !errors.Is(err, errTestsFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
