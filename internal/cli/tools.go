package cli

import (
	"github.com/spf13/cobra"

	"github.com/harun/chainscout/internal/report"
)

func newToolsCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered by the Blockscout MCP server",
		Long: `Start the MCP server, list its tools with their descriptions and input
schemas, and stop it again. Only the explorer endpoint needs to be configured.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationEndpointOnly: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.start(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			tools, err := a.session(nil).ListTools(cmd.Context(), a.cfg.Session())
			if err != nil {
				return err
			}

			report.PrintTools(cmd.OutOrStdout(), tools)
			if output == "" {
				return nil
			}
			if err := report.WriteFile(output, report.NewToolListing(a.cfg.Explorer.EndpointURL, tools)); err != nil {
				return err
			}
			a.logger.Info().Str("path", output).Int("tools", len(tools)).Msg("Tool list written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "also write the tool list as JSON to this file")
	return cmd
}
