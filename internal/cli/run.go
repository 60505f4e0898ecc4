package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/chainscout/internal/config"
	"github.com/harun/chainscout/internal/report"
	"github.com/harun/chainscout/pkg/queryset"
	"github.com/harun/chainscout/pkg/runner"
	"github.com/harun/chainscout/pkg/session"
)

type runOptions struct {
	singleQuery string
	queriesFile string
	setName     string
	reportPath  string
	pacing      time.Duration
	quiet       bool
	verbose     bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a list of queries against the explorer",
		Long: `Run queries in order through the agent. Each query is answered by calling
tools on a freshly started Blockscout MCP server. Query files are YAML and may
reference configured addresses as {{.Contracts.Name}} and {{.Addresses.Name}}.`,
		Example: `  chainscout run
  chainscout run --single-query "What is the latest block?"
  chainscout run --queries queries.yaml --report out.json
  chainscout run --set p2p-lending --pacing 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.singleQuery, "single-query", "", "run one ad-hoc query instead of a query set")
	cmd.Flags().StringVar(&opts.queriesFile, "queries", "", "YAML query set file")
	cmd.Flags().StringVar(&opts.setName, "set", queryset.LatestBlock, fmt.Sprintf("built-in query set %v", queryset.BuiltinNames()))
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "write results as JSON to this file")
	cmd.Flags().DurationVar(&opts.pacing, "pacing", runner.DefaultPacing, "pause between queries, 0 disables")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print query progress")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "print tool outputs")
	cmd.MarkFlagsMutuallyExclusive("single-query", "queries", "set")

	return cmd
}

func runRun(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	var extra []config.Option
	if cmd.Flags().Changed("pacing") {
		extra = append(extra, config.WithOverride("runner.pacing", opts.pacing))
	}

	a, err := root.start(cmd, extra...)
	if err != nil {
		return err
	}
	defer a.close()

	specs, err := selectSpecs(a.cfg, opts)
	if err != nil {
		return err
	}

	return runSpecs(cmd.Context(), a, specs, sessionOutput{
		out:        cmd.OutOrStdout(),
		quiet:      opts.quiet,
		verbose:    opts.verbose,
		reportPath: opts.reportPath,
	})
}

// selectSpecs resolves the queries to run from the flags and renders them
// against the configured addresses.
func selectSpecs(cfg *config.Config, opts *runOptions) ([]queryset.QuerySpec, error) {
	if opts.singleQuery != "" {
		spec, err := queryset.Single(opts.singleQuery)
		if err != nil {
			return nil, invalidInput(err)
		}
		return []queryset.QuerySpec{spec}, nil
	}

	var (
		set *queryset.Set
		err error
	)
	if opts.queriesFile != "" {
		set, err = queryset.LoadFile(opts.queriesFile)
	} else {
		set, err = queryset.Builtin(opts.setName)
	}
	if err != nil {
		return nil, invalidInput(err)
	}

	specs, err := set.Render(cfg.TemplateData())
	if err != nil {
		return nil, invalidInput(err)
	}
	return specs, nil
}

func invalidInput(err error) error {
	return &session.ConfigurationError{Invalid: []string{err.Error()}}
}

type sessionOutput struct {
	out        io.Writer
	quiet      bool
	verbose    bool
	reportPath string
}

// runSpecs runs one session and reports it to the terminal and, when asked,
// to a JSON file.
func runSpecs(ctx context.Context, a *app, specs []queryset.QuerySpec, o sessionOutput) error {
	var observer runner.Observer
	if !o.quiet {
		observer = report.NewConsole(o.out, o.verbose)
	}

	results, err := a.session(observer).Run(ctx, a.cfg.Session(), specs)

	if results != nil {
		if !o.quiet {
			report.PrintSummary(o.out, results)
		}
		if o.reportPath != "" {
			rep := report.NewReport(results)
			rep.Endpoint = a.cfg.Explorer.EndpointURL
			rep.Model = a.cfg.Model()
			if werr := report.WriteFile(o.reportPath, rep); werr != nil {
				a.logger.Error().Err(werr).Str("path", o.reportPath).Msg("Failed to write report")
				if err == nil {
					err = werr
				}
			} else {
				a.logger.Info().Str("path", o.reportPath).Msg("Report written")
			}
		}
	}

	return resultError(results, err)
}
