package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "stencil",
		Short:         "Synthetic overlay dataset and classifier workbench",
		Long:          "Stencil generates image datasets with synthetic square overlays and trains small classifiers to detect them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	ctx := newCommandContext(&configPath, &logLevel)

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if shouldSkipConfig(cmd) {
			return nil
		}
		_, err := ctx.ensureConfig()
		return err
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}

	cmd.AddCommand(
		newGenerateCommand(ctx),
		newFetchCommand(ctx),
		newBuildDatasetCommand(ctx),
		newTrainCommand(ctx),
		newDatasetCommand(ctx),
		newRunsCommand(ctx),
		newConfigCommand(ctx),
		newTestNotifyCommand(ctx),
	)

	return cmd
}
