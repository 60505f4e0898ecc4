package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/chainscout/internal/config"
	"github.com/harun/chainscout/pkg/cron"
	"github.com/harun/chainscout/pkg/queryset"
	"github.com/harun/chainscout/pkg/runner"
)

type watchOptions struct {
	runOptions
	schedule  string
	immediate bool
	maxRuns   int
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run a query set on a schedule",
		Long: `Run the selected queries every time the schedule fires. Each run starts
its own MCP server. A run still in progress when the next tick arrives makes
that tick skip. Schedules are five-field cron expressions or descriptors such
as @hourly and "@every 30m".`,
		Example: `  chainscout watch --schedule "@every 1h" --set p2p-lending
  chainscout watch --schedule "0 9 * * *" --queries daily.yaml --report reports/daily.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.schedule, "schedule", "", "cron expression or descriptor (required)")
	cmd.Flags().BoolVar(&opts.immediate, "now", false, "run once immediately before the first tick")
	cmd.Flags().IntVar(&opts.maxRuns, "max-runs", 0, "stop after this many runs, 0 runs until interrupted")
	cmd.Flags().StringVar(&opts.singleQuery, "single-query", "", "run one ad-hoc query instead of a query set")
	cmd.Flags().StringVar(&opts.queriesFile, "queries", "", "YAML query set file")
	cmd.Flags().StringVar(&opts.setName, "set", queryset.LatestBlock, fmt.Sprintf("built-in query set %v", queryset.BuiltinNames()))
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "write each run's results as JSON; the run number is added to the file name")
	cmd.Flags().DurationVar(&opts.pacing, "pacing", runner.DefaultPacing, "pause between queries, 0 disables")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print query progress")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "print tool outputs")
	cmd.MarkFlagsMutuallyExclusive("single-query", "queries", "set")
	_ = cmd.MarkFlagRequired("schedule")

	return cmd
}

func runWatch(cmd *cobra.Command, root *rootOptions, opts *watchOptions) error {
	if _, err := cron.ParseSchedule(opts.schedule); err != nil {
		return invalidInput(err)
	}

	var extra []config.Option
	if cmd.Flags().Changed("pacing") {
		extra = append(extra, config.WithOverride("runner.pacing", opts.pacing))
	}

	a, err := root.start(cmd, extra...)
	if err != nil {
		return err
	}
	defer a.close()

	specs, err := selectSpecs(a.cfg, &opts.runOptions)
	if err != nil {
		return err
	}

	// Fail on configuration problems now rather than on the first tick.
	if err := a.cfg.Session().Validate(); err != nil {
		return err
	}

	scheduler, err := cron.New(opts.schedule, cron.Options{
		RunNow:  opts.immediate,
		MaxRuns: opts.maxRuns,
		Logger:  a.logger,
	})
	if err != nil {
		return invalidInput(err)
	}

	var lastErr error
	err = scheduler.Run(cmd.Context(), func(ctx context.Context, run int) error {
		lastErr = runSpecs(ctx, a, specs, sessionOutput{
			out:        cmd.OutOrStdout(),
			quiet:      opts.quiet,
			verbose:    opts.verbose,
			reportPath: numberedPath(opts.reportPath, run, time.Now()),
		})
		return lastErr
	})
	if err != nil {
		return err
	}
	if cmd.Context().Err() != nil {
		return cmd.Context().Err()
	}
	return lastErr
}

// numberedPath turns out.json into out-0003-20240101T090000Z.json.
func numberedPath(path string, run int, at time.Time) string {
	if path == "" {
		return ""
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s-%04d-%s%s", base, run, at.UTC().Format("20060102T150405Z"), ext)
}
