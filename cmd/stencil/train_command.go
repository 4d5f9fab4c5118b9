package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stencil/internal/experiment"
	"stencil/internal/model"
	"stencil/internal/runs"
	"stencil/internal/trainer"
)

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var (
		hidden             string
		batchSize          int
		learningRate       float64
		momentum           float64
		patience           int
		tolerance          float64
		checkpointInterval int
		targetAccuracy     float64
		seed               int64
		shuffleSeed        int64
	)

	cmd := &cobra.Command{
		Use:   "train <dataset> <outputDir> <maxEpochs>",
		Short: "Train a classifier on a dataset artifact",
		Long: "Train runs the training loop against the dataset at <dataset>, writing checkpoints, " +
			"history, and the final report into <outputDir>. The run is recorded in the run history " +
			"store and can be inspected later with `stencil runs show`.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxEpochs, err := parsePositiveInt(args[2], "max epochs")
			if err != nil {
				return err
			}
			layers, err := parseHidden(hidden)
			if err != nil {
				return err
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			opts := experiment.DefaultOptions(cfg)
			opts.DatasetDir = args[0]
			opts.OutputDir = args[1]
			opts.MaxEpochs = maxEpochs
			opts.Arch = model.Arch{Hidden: layers}
			opts.Seed = seed
			opts.ShuffleSeed = shuffleSeed

			flags := cmd.Flags()
			if flags.Changed("batch-size") {
				opts.BatchSize = batchSize
			}
			if flags.Changed("learning-rate") {
				opts.Hyperparams.LearningRate = learningRate
			}
			if flags.Changed("momentum") {
				opts.Hyperparams.Momentum = momentum
			}
			if flags.Changed("patience") {
				opts.Patience = patience
			}
			if flags.Changed("tolerance") {
				opts.Tolerance = tolerance
			}
			if flags.Changed("checkpoint-interval") {
				opts.CheckpointInterval = checkpointInterval
			}
			if flags.Changed("target-accuracy") {
				opts.TargetAccuracy = targetAccuracy
			}

			bar := newProgressBar(maxEpochs, "training")
			defer finishBar(bar)

			return ctx.withStore(func(store *runs.Store) error {
				runner, err := experiment.NewRunner(cfg, store,
					experiment.WithLogger(ctx.loggerValue()),
					experiment.WithProgress(func(record trainer.Record, maxEpochs int) {
						describeBar(bar, fmt.Sprintf("epoch %d val_loss %.4f", record.Epoch, record.ValLoss))
						setBar(bar, record.Epoch)
					}),
				)
				if err != nil {
					return err
				}

				summary, err := runner.Run(cmd.Context(), opts)
				finishBar(bar)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run %s: %s after %d epochs\n", summary.RunUUID, summary.Outcome, summary.EpochsRun)
				if summary.BestEpoch > 0 {
					fmt.Fprintf(out, "Best epoch %d, validation loss %.4f\n", summary.BestEpoch, summary.BestValLoss)
				}
				if summary.TestEvaluated {
					fmt.Fprintf(out, "Test accuracy %.1f%%, loss %.4f\n", summary.TestAccuracy*100, summary.TestLoss)
				}
				fmt.Fprintf(out, "Artifacts in %s\n", summary.OutputDir)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&hidden, "hidden", "", "comma-separated hidden layer widths such as 128,64 (default: none)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "examples per batch (default: configured value)")
	cmd.Flags().Float64Var(&learningRate, "learning-rate", 0, "SGD learning rate (default: configured value)")
	cmd.Flags().Float64Var(&momentum, "momentum", 0, "SGD momentum (default: configured value)")
	cmd.Flags().IntVar(&patience, "patience", 0, "early-stop patience in epochs, 0 disables (default: configured value)")
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "minimum validation loss improvement (default: configured value)")
	cmd.Flags().IntVar(&checkpointInterval, "checkpoint-interval", 0, "epochs between checkpoints, 0 disables (default: configured value)")
	cmd.Flags().Float64Var(&targetAccuracy, "target-accuracy", 0, "validation accuracy that declares convergence, 0 disables (default: configured value)")
	cmd.Flags().Int64Var(&seed, "seed", 1, "seed for parameter initialization")
	cmd.Flags().Int64Var(&shuffleSeed, "shuffle-seed", 0, "seed for training batch order")

	return cmd
}
