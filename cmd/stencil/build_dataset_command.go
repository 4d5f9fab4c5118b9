package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"stencil/internal/augment"
	"stencil/internal/dataset"
	"stencil/internal/imagestore"
	"stencil/internal/logging"
	"stencil/internal/notifications"
	"stencil/internal/staging"
)

// Staging directories older than this are orphans from interrupted builds.
const staleStagingAge = 24 * time.Hour

func newBuildDatasetCommand(ctx *commandContext) *cobra.Command {
	var (
		seed        int64
		probability float64
		fractions   string
		noCache     bool
		overwrite   bool
	)

	cmd := &cobra.Command{
		Use:   "build-dataset <rawDir> <augmentedDir> <outputDataset>",
		Short: "Build a partitioned dataset from raw images",
		Long: "Build-dataset decodes the images under <rawDir>, stamps white square markers on a " +
			"random subset, writes the marked copies as BMP into <augmentedDir>, and persists the " +
			"partitioned train/validation/test arrays to <outputDataset>.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawDir, augmentedDir, outputDataset := args[0], args[1], args[2]

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if noCache || probability >= 0 {
				tuned := *cfg
				if noCache {
					tuned.Dataset.DecodeCache = false
				}
				if probability >= 0 {
					tuned.Augment.Probability = probability
				}
				cfg = &tuned
			}

			split := dataset.FractionsFromConfig(cfg)
			if fractions != "" {
				split, err = parseFractions(fractions)
				if err != nil {
					return err
				}
			}

			logger := ctx.loggerValue()

			// The lock lives beside the dataset directory because Write
			// replaces the directory itself on promote.
			buildLock := flock.New(outputDataset + ".lock")
			locked, err := buildLock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire dataset build lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("dataset %s is being built by another process", outputDataset)
			}
			defer func() { _ = buildLock.Unlock() }()

			staging.CleanStale(filepath.Dir(outputDataset), staleStagingAge, logger)

			refs, err := imagestore.List(rawDir)
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				return fmt.Errorf("no images found in %s", rawDir)
			}

			store, err := imagestore.NewStore(cfg, logger)
			if err != nil {
				return err
			}
			decoded, err := store.DecodeAll(cmd.Context(), refs)
			if err != nil {
				return err
			}
			if len(decoded.Images) == 0 {
				return fmt.Errorf("none of the %d images in %s could be decoded", len(refs), rawDir)
			}

			augmenter, err := augment.FromConfig(cfg)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(augmentedDir, 0o755); err != nil {
				return fmt.Errorf("create augmented directory: %w", err)
			}

			bar := newProgressBar(len(decoded.Images), "augmenting")
			defer finishBar(bar)

			examples := make([]augment.LabeledExample, 0, len(decoded.Images))
			for i, img := range decoded.Images {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				example := augmenter.Apply(img, seed)
				if example.Label == 1 {
					target := filepath.Join(augmentedDir, example.Image.ID+".bmp")
					if err := augment.ExportBMP(example.Image, target); err != nil {
						return err
					}
				}
				examples = append(examples, example)
				setBar(bar, i+1)
			}
			finishBar(bar)

			builder := dataset.Builder{Fractions: split, Seed: seed}
			ds, err := builder.Build(examples)
			if err != nil {
				return err
			}
			ds.SourceDirs = []string{rawDir}

			if err := ds.Write(outputDataset, overwrite); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Built dataset %s with %d examples", outputDataset, ds.Len())
			if skipped := len(decoded.Skipped); skipped > 0 {
				fmt.Fprintf(out, " (%d undecodable files skipped)", skipped)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, partitionTable(ds.Partitions()))
			fmt.Fprintf(out, "Marked copies written to %s\n", augmentedDir)

			notifier := notifications.NewService(cfg)
			if err := notifier.NotifyDatasetBuilt(cmd.Context(), filepath.Base(outputDataset), ds.Len()); err != nil {
				logger.Warn("dataset notification not delivered", logging.Error(err))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 42, "seed for marker placement and partition shuffle")
	cmd.Flags().Float64Var(&probability, "probability", -1, "marker probability override (default: configured value)")
	cmd.Flags().StringVar(&fractions, "fractions", "", "train,validation,test split such as 0.8,0.1,0.1 (default: configured split)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the decode cache")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing dataset artifact")

	return cmd
}

func partitionTable(partitions []*dataset.Partition) string {
	rows := make([][]string, 0, len(partitions))
	for _, p := range partitions {
		balance := p.Balance()
		rows = append(rows, []string{
			displayLabel(p.Name),
			strconv.Itoa(p.Len()),
			strconv.Itoa(balance.Unmarked),
			strconv.Itoa(balance.Marked),
		})
	}
	return renderTable([]column{
		{title: "Partition"},
		{title: "Examples", right: true},
		{title: "Unmarked", right: true},
		{title: "Marked", right: true},
	}, rows)
}
