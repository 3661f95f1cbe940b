package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Each call returns fresh flag state so
// tests can execute commands independently.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "missionsim",
		Short:         "Mission simulation engine for satellite operator training",
		Long:          "missionsim runs training sessions against a propagated satellite, a set of ground stations and a simulated command uplink.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to the engine configuration YAML (MISSIONSIM_* variables override it)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newVisibilityCmd())
	root.AddCommand(newPassesCmd())
	root.AddCommand(newInspectCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
