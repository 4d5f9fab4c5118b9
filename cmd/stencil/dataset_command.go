package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"stencil/internal/dataset"
)

func newDatasetCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Inspect dataset artifacts",
	}
	cmd.AddCommand(newDatasetInfoCommand(ctx))
	return cmd
}

func newDatasetInfoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info <datasetDir>",
		Short: "Show dataset metadata and partition balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			meta, err := dataset.ReadMetadata(dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dataset: %s\n", dir)
			fmt.Fprintf(out, "Shape: %dx%dx%d (%d values per example)\n",
				meta.Shape.Channels, meta.Shape.Height, meta.Shape.Width, meta.Shape.Elements())
			fmt.Fprintf(out, "Seed: %d\n", meta.Seed)
			fmt.Fprintf(out, "Fractions: train %.2f, validation %.2f, test %.2f\n",
				meta.Fractions.Train, meta.Fractions.Validation, meta.Fractions.Test)
			fmt.Fprintf(out, "Created: %s (%s)\n",
				meta.CreatedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(meta.CreatedAt))
			for _, src := range meta.SourceDirs {
				fmt.Fprintf(out, "Source: %s\n", src)
			}

			rows := make([][]string, 0, 3)
			total := 0
			for _, part := range []struct {
				name string
				meta dataset.PartitionMeta
			}{
				{"train", meta.Train},
				{"validation", meta.Validation},
				{"test", meta.Test},
			} {
				total += part.meta.Count
				rows = append(rows, []string{
					displayLabel(part.name),
					strconv.Itoa(part.meta.Count),
					strconv.Itoa(part.meta.Balance.Unmarked),
					strconv.Itoa(part.meta.Balance.Marked),
				})
			}
			fmt.Fprintf(out, "Examples: %d\n", total)
			fmt.Fprintln(out, renderTable([]column{
				{title: "Partition"},
				{title: "Examples", right: true},
				{title: "Unmarked", right: true},
				{title: "Marked", right: true},
			}, rows))

			fileRows := make([][]string, 0, 7)
			var totalBytes uint64
			for _, name := range dataset.ArtifactFileNames() {
				info, err := os.Stat(filepath.Join(dir, name))
				if err != nil {
					fileRows = append(fileRows, []string{name, "missing"})
					continue
				}
				totalBytes += uint64(info.Size())
				fileRows = append(fileRows, []string{name, humanize.IBytes(uint64(info.Size()))})
			}
			fmt.Fprintln(out, renderTable([]column{
				{title: "File"},
				{title: "Size", right: true},
			}, fileRows))
			fmt.Fprintf(out, "Total size: %s\n", humanize.IBytes(totalBytes))
			return nil
		},
	}
}
