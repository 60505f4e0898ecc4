package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/chainscout/pkg/runner"
	"github.com/harun/chainscout/pkg/session"
)

const version = "0.1.0"

// Collaborators swapped out by tests.
var (
	openTools session.OpenToolsFunc = session.OpenToolServer
	newAgent  session.NewAgentFunc  = session.NewAgent
	sleep     runner.SleepFunc      = runner.Sleep
)

type rootOptions struct {
	configFile string
	logLevel   string
	envFile    string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "chainscout",
		Short: "chainscout - natural-language queries over a Blockscout explorer",
		Long: `chainscout runs natural-language blockchain questions through an LLM agent
that answers them by calling tools on a Blockscout MCP server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is ./chainscout.yaml or $HOME/.chainscout/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default is ./.env when present)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(
		newRunCmd(opts),
		newToolsCmd(opts),
		newActivityCmd(opts),
		newWatchCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	cmd := NewRootCmd()
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
