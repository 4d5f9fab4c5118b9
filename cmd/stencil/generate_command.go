package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"stencil/internal/synth"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var (
		seed int64
		size int
	)

	cmd := &cobra.Command{
		Use:   "generate <kind> <count> <outputDir>",
		Short: "Generate synthetic source images",
		Long:  "Generate writes deterministic synthetic images (kind black or solid) into <outputDir>/raw for dataset construction.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := synth.ParseKind(args[0])
			if err != nil {
				return err
			}
			count, err := parsePositiveInt(args[1], "count")
			if err != nil {
				return err
			}
			outputDir := args[2]

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if size > 0 {
				resized := *cfg
				resized.Dataset.ImageSize = size
				cfg = &resized
			}

			bar := newProgressBar(count, "generating")
			defer finishBar(bar)

			generator, err := synth.New(cfg,
				synth.WithLogger(ctx.loggerValue()),
				synth.WithProgress(func(done, total int) {
					setBar(bar, done)
				}),
			)
			if err != nil {
				return err
			}

			paths, err := generator.Generate(cmd.Context(), kind, count, outputDir, seed)
			if err != nil {
				return err
			}
			finishBar(bar)

			fmt.Fprintf(cmd.OutOrStdout(), "Generated %d %s images in %s\n",
				len(paths), kind, filepath.Join(outputDir, "raw"))
			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for image content")
	cmd.Flags().IntVar(&size, "size", 0, "edge length in pixels (default: configured image size)")

	return cmd
}
