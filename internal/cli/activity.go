package cli

import (
	"github.com/spf13/cobra"

	"github.com/harun/chainscout/internal/config"
	"github.com/harun/chainscout/pkg/queryset"
)

func newActivityCmd(root *rootOptions) *cobra.Command {
	var (
		user       string
		reportPath string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Summarize a user's interactions with the configured contracts",
		Long: `Build one query that walks the user's transactions, decodes the logs of
those touching the configured contracts and summarizes the user's activity.`,
		Example: `  chainscout activity --user 0x90F79bf6EB2c4f870365E785982E1f101E93b906`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.NewValidator().ValidateAddress(user); err != nil {
				return invalidInput(err)
			}

			a, err := root.start(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			spec, err := queryset.Activity(user, a.cfg.ContractMap())
			if err != nil {
				return invalidInput(err)
			}

			return runSpecs(cmd.Context(), a, []queryset.QuerySpec{spec}, sessionOutput{
				out:        cmd.OutOrStdout(),
				verbose:    verbose,
				reportPath: reportPath,
			})
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user address to analyze (required)")
	cmd.Flags().StringVar(&reportPath, "report", "", "write the result as JSON to this file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print tool outputs")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
