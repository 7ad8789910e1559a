// Package cli implements the converge command line interface.
package cli

import "github.com/spf13/cobra"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := newRootCmd().Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "converge",
		Short:         "Converge warehouse relations with their defining queries",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newRunCmd())
	return cmd
}
