package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dedenruslan19/bidload/internal/loadtest/config"
	"github.com/Dedenruslan19/bidload/internal/loadtest/engine"
	"github.com/Dedenruslan19/bidload/internal/loadtest/output"
	"github.com/Dedenruslan19/bidload/internal/profiles"
)

type runOptions struct {
	configFile string
	profile    string
	jsonOutput bool
	outputPath string
	noColor    bool
	quiet      bool
	logLevel   string
	logFormat  string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a bid load test",
		Long: `Run a bid load test from a configuration file or a built-in profile.

  bidload run --profile realistic --base-url http://auction.local:8000
  bidload run --config test.yaml --session-id 7 --item-id 42

Target settings come from the flags, then the BASE_URL, SESSION_ID, ITEM_ID,
AUTH_TOKEN and REQUEST_TIMEOUT environment variables, then the file.

The exit status is 0 when every threshold passes and 1 otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	flags.StringVarP(&opts.profile, "profile", "p", "", "Built-in profile (see `bidload profiles`)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON instead of the summary")
	flags.StringVarP(&opts.outputPath, "output", "o", "", "Also write the result to this file (.html for an HTML report, JSON otherwise)")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Disable live progress output, print only PASSED or FAILED")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "console", "Log format: console or json")
	config.RegisterOverrideFlags(flags)
	cmd.MarkFlagsMutuallyExclusive("config", "profile")

	return cmd
}

// loadTestConfig reads the file or the built-in profile named by the flags.
func loadTestConfig(configFile, profile string) (*config.TestConfig, error) {
	switch {
	case configFile != "":
		return config.LoadConfig(configFile)
	case profile != "":
		return profiles.Load(profile)
	default:
		return nil, errors.New("either --config or --profile is required")
	}
}

func runTest(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadTestConfig(opts.configFile, opts.profile)
	if err != nil {
		return err
	}

	overrides, err := config.NewOverrides(cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		return err
	}

	logger, err := newLogger(opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	eng, err := engine.NewEngine(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	console := output.NewConsole(output.Config{
		Writer:        stdout,
		TotalDuration: eng.TotalDuration(),
		Quiet:         opts.quiet || opts.jsonOutput,
		NoColor:       opts.noColor,
	})
	console.PrintHeader(eng.Info())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Watch(watchCtx, eng)
	}()

	result, runErr := eng.Run(ctx)
	stopWatch()
	wg.Wait()

	if ctx.Err() != nil {
		logger.Warn("test interrupted, reporting partial results")
	}
	if result == nil {
		return runErr
	}
	if runErr != nil {
		logger.Error("test run reported an error", zap.Error(runErr))
	}

	if opts.jsonOutput {
		if err := output.WriteJSON(stdout, result); err != nil {
			return err
		}
	} else {
		console.PrintSummary(result)
	}

	if opts.outputPath != "" {
		if err := writeResultFile(opts.outputPath, result); err != nil {
			return err
		}
		logger.Info("result written", zap.String("path", opts.outputPath))
	}

	if runErr != nil {
		return runErr
	}
	if !result.Passed {
		return fmt.Errorf("%w: %v", ErrThresholdsFailed, result.BreachedMetrics)
	}
	return nil
}

// writeResultFile picks the report format from the file extension.
func writeResultFile(path string, result *engine.TestResult) error {
	if strings.EqualFold(filepath.Ext(path), ".html") {
		return output.GenerateHTML(result, path)
	}
	return output.WriteJSONFile(path, result)
}
