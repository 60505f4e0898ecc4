package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/chainscout/internal/config"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "init",
		Aliases: []string{"configure"},
		Short:   "Run interactive configuration wizard",
		Long: `Run an interactive configuration wizard to set up chainscout.
The wizard asks for the explorer endpoint, the LLM provider and key, and the
contracts your queries refer to. Settings go to the config file; the API key
goes to the dotenv file and is never written to the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(root.configFile)
			if existing := loader.GetConfigPath(); existing != "" && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", existing)
			}

			wizard := config.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout())
			cfg, err := wizard.Run()
			if err != nil {
				return fmt.Errorf("configuration failed: %w", err)
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := loader.Save(cfg); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			envFile := root.envFile
			if envFile == "" {
				envFile = config.DefaultEnvFile
			}
			if err := config.SaveEnvFile(envFile, map[string]string{
				config.CredentialEnv(cfg.Agent.Provider): cfg.Agent.Credential,
			}); err != nil {
				return fmt.Errorf("failed to save credential: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
			fmt.Fprintf(out, "API key saved to: %s\n", envFile)
			if _, err := os.Stat(".gitignore"); err == nil {
				fmt.Fprintf(out, "Make sure %s is listed in .gitignore.\n", envFile)
			}
			fmt.Fprintln(out, "\nYou can now run: chainscout run")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
