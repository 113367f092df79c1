package main

import (
	"github.com/spf13/cobra"

	"github.com/statecast-project/statecast/internal/config"
)

func initCmd() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or update the configuration interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			return config.RunSetupWizard(cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&configDir, "config", config.DefaultConfigDir, "configuration directory")
	return cmd
}
