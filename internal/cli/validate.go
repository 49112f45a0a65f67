package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dedenruslan19/bidload/internal/loadtest/config"
	"github.com/Dedenruslan19/bidload/internal/loadtest/engine"
	"github.com/Dedenruslan19/bidload/internal/loadtest/executor"
	"github.com/Dedenruslan19/bidload/internal/profiles"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a configuration file without generating load",
		Long: `Validate runs every start-time check of a test: the document schema,
scenario settings, workload names and thresholds. No request is sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(args[0])
			if err != nil {
				return err
			}
			overrides, err := config.NewOverrides(nil)
			if err != nil {
				return err
			}
			if err := cfg.ApplyOverrides(overrides); err != nil {
				return err
			}

			eng, err := engine.NewEngine(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			info := eng.Info()
			fmt.Fprintf(out, "%s is valid\n\n", args[0])
			fmt.Fprintf(out, "Name:       %s\n", info.Name)
			fmt.Fprintf(out, "Target:     %s\n", info.Endpoint)
			fmt.Fprintf(out, "Max VUs:    %d\n", info.MaxVUs)
			fmt.Fprintf(out, "Duration:   %s\n", info.TotalDuration)
			fmt.Fprintf(out, "Thresholds: %d\n\n", len(eng.Thresholds()))

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCENARIO\tEXECUTOR\tWORKLOAD\tSTART\tDURATION\tMAX VUS")
			for _, name := range cfg.ScenarioNames() {
				sc := cfg.Scenarios[name]
				execCfg := sc.ToExecutorConfig(name)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					name, sc.Executor, sc.Workload,
					time.Duration(sc.StartTime), execCfg.TotalDuration(),
					executor.CalculateMaxVUs(execCfg))
			}
			return w.Flush()
		},
	}
}

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the built-in test profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, name := range profiles.Names() {
				desc, err := profiles.Describe(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", name, desc)
			}
			return w.Flush()
		},
	}
}
