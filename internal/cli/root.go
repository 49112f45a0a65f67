// Package cli implements the bidload command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X .../internal/cli.version=...".
var version = "0.1.0"

// ErrThresholdsFailed is returned by run when at least one threshold is
// breached. The summary has already been printed at that point.
var ErrThresholdsFailed = errors.New("thresholds failed")

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "bidload",
		Short:   "Load generator for auction bid endpoints",
		Version: version,
		Long: `bidload drives virtual bidders against an auction service and checks
the observed latencies and error rates against pass/fail thresholds.

Scenarios ramp virtual users (ramping-vus, fixed-vus) or start iterations
at a target rate (ramping-arrival-rate). Built-in profiles reproduce common
load, spike, stress and realistic auction traffic.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newProfilesCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command with the process arguments.
// This is called by main.main().
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil && !errors.Is(err, ErrThresholdsFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the bidload version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bidload version %s\n", version)
		},
	}
}
