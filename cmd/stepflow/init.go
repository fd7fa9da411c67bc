package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/stepflow/internal/setup"
)

func newInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create stepflow.yaml and an example scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := setup.Run(dir, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✔ initialized %s\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Project name (defaults to the directory name)")
	return cmd
}
