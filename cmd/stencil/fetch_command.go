package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"stencil/internal/services"
	"stencil/internal/services/flickr"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <query> <maxCount> <outputDir>",
		Short: "Download tagged photos from Flickr",
		Long:  "Fetch searches Flickr for photos matching the comma-separated tag query and downloads up to <maxCount> of them into <outputDir>/raw.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxCount, err := parsePositiveInt(args[1], "max count")
			if err != nil {
				return err
			}
			outputDir := args[2]

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			client := flickr.NewClient(flickr.Config{
				APIKey:            cfg.Flickr.APIKey,
				BaseURL:           cfg.Flickr.BaseURL,
				UserAgent:         cfg.Flickr.UserAgent,
				RequestsPerMinute: cfg.Flickr.RequestsPerMinute,
				TimeoutSeconds:    cfg.Flickr.RequestTimeout,
			}, flickr.WithLogger(ctx.loggerValue()))
			if !client.Configured() {
				return fmt.Errorf("%w: flickr api key not configured (set flickr.api_key in the config file)", services.ErrConfiguration)
			}

			result, err := client.FetchImages(cmd.Context(), args[0], maxCount, outputDir)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d images into %s (%d downloaded, %d cached, %d skipped)\n",
				len(result.Paths), filepath.Join(outputDir, "raw"), result.Downloaded, result.Cached, result.Skipped)
			return nil
		},
	}

	return cmd
}
