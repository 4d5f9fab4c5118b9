package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"stencil/internal/runs"
	"stencil/internal/services"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the training run history",
	}
	cmd.AddCommand(newRunsListCommand(ctx), newRunsShowCommand(ctx))
	return cmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *runs.Store) error {
				entries, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No runs recorded yet.")
					return nil
				}

				rows := make([][]string, 0, len(entries))
				for _, run := range entries {
					rows = append(rows, []string{
						shortUUID(run.UUID),
						displayLabel(string(run.Status)),
						displayLabel(run.Outcome),
						strconv.Itoa(run.EpochsRun),
						formatLoss(run.BestValLoss, run.BestEpoch > 0),
						filepath.Base(run.DatasetPath),
						humanize.Time(run.CreatedAt),
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					{title: "Run"},
					{title: "Status"},
					{title: "Outcome"},
					{title: "Epochs", right: true},
					{title: "Best Val Loss", right: true},
					{title: "Dataset"},
					{title: "Created"},
				}, rows))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <uuid>",
		Short: "Show one run in detail",
		Long:  "Show prints the stored settings, outcome, and per-epoch metrics of a run. The UUID may be abbreviated to a unique prefix.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *runs.Store) error {
				run, err := store.GetByUUID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("%w: run %q", services.ErrNotFound, args[0])
				}
				records, err := store.EpochRecords(cmd.Context(), run.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run %s\n", run.UUID)
				if run.Outcome != "" {
					fmt.Fprintf(out, "Status: %s (%s)\n", displayLabel(string(run.Status)), displayLabel(run.Outcome))
				} else {
					fmt.Fprintf(out, "Status: %s\n", displayLabel(string(run.Status)))
				}
				fmt.Fprintf(out, "Dataset: %s\n", run.DatasetPath)
				fmt.Fprintf(out, "Output: %s\n", run.OutputDir)
				fmt.Fprintf(out, "Arch: %s\n", run.ArchJSON)
				fmt.Fprintf(out, "Seed: %d (shuffle %d)\n", run.Seed, run.ShuffleSeed)
				fmt.Fprintf(out, "Batch size: %d, learning rate: %g, momentum: %g\n",
					run.BatchSize, run.LearningRate, run.Momentum)
				fmt.Fprintf(out, "Epochs: %d of %d\n", run.EpochsRun, run.MaxEpochs)
				if run.BestEpoch > 0 {
					fmt.Fprintf(out, "Best: epoch %d, validation loss %.4f\n", run.BestEpoch, run.BestValLoss)
				}
				if run.Status == runs.StatusCompleted && run.TestAccuracy > 0 {
					fmt.Fprintf(out, "Test: accuracy %.1f%%, loss %.4f\n", run.TestAccuracy*100, run.TestLoss)
				}
				fmt.Fprintf(out, "Created: %s\n", formatTimestamp(run.CreatedAt))
				if run.StartedAt != nil {
					fmt.Fprintf(out, "Started: %s\n", formatTimestamp(*run.StartedAt))
				}
				if run.FinishedAt != nil {
					fmt.Fprintf(out, "Finished: %s\n", formatTimestamp(*run.FinishedAt))
				}
				if run.ErrorMessage != "" {
					fmt.Fprintf(out, "Error: %s\n", run.ErrorMessage)
				}

				if len(records) == 0 {
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						strconv.Itoa(r.Epoch),
						fmt.Sprintf("%.4f", r.TrainLoss),
						fmt.Sprintf("%.1f%%", r.TrainAccuracy*100),
						fmt.Sprintf("%.4f", r.ValLoss),
						fmt.Sprintf("%.1f%%", r.ValAccuracy*100),
						(time.Duration(r.DurationMS) * time.Millisecond).String(),
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					{title: "Epoch", right: true},
					{title: "Train Loss", right: true},
					{title: "Train Acc", right: true},
					{title: "Val Loss", right: true},
					{title: "Val Acc", right: true},
					{title: "Duration", right: true},
				}, rows))
				return nil
			})
		},
	}
}

func shortUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

func formatLoss(loss float64, recorded bool) string {
	if !recorded {
		return ""
	}
	return fmt.Sprintf("%.4f", loss)
}

func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05") + " (" + humanize.Time(t) + ")"
}
