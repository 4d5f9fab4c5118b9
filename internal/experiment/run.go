package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"stencil/internal/dataset"
	"stencil/internal/fileutil"
	"stencil/internal/logging"
	"stencil/internal/model"
	"stencil/internal/preflight"
	"stencil/internal/runs"
	"stencil/internal/services"
	"stencil/internal/trainer"
)

const (
	lockFileName       = ".stencil.lock"
	checkpointsDirName = "checkpoints"
	bestDirName        = "best"
	currentLogFileName = "stencil.log"
)

// Run executes one training run to a terminal state. The returned
// summary is non-nil whenever the run was registered, including failed
// and cancelled runs.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if failed := preflight.Failed(preflight.RunAll(ctx, r.cfg)); len(failed) > 0 {
		return nil, services.Wrap(services.ErrValidation, "experiment", "preflight", formatPreflight(failed), nil)
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	lock := flock.New(filepath.Join(opts.OutputDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire output directory lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrOutputDirBusy, opts.OutputDir)
	}
	defer func() { _ = lock.Unlock() }()

	ds, err := dataset.Load(opts.DatasetDir)
	if err != nil {
		return nil, err
	}
	meta, err := dataset.ReadMetadata(opts.DatasetDir)
	if err != nil {
		return nil, err
	}
	if ds.Train.Len() == 0 || ds.Validation.Len() == 0 {
		return nil, fmt.Errorf("dataset %s: train and validation partitions must be non-empty (train %d, validation %d)",
			opts.DatasetDir, ds.Train.Len(), ds.Validation.Len())
	}

	archJSON, err := json.Marshal(opts.Arch)
	if err != nil {
		return nil, fmt.Errorf("encode arch: %w", err)
	}
	runUUID := uuid.NewString()
	run, err := r.store.Create(ctx, &runs.Run{
		UUID:         runUUID,
		DatasetPath:  opts.DatasetDir,
		OutputDir:    opts.OutputDir,
		ArchJSON:     string(archJSON),
		Seed:         opts.Seed,
		ShuffleSeed:  opts.ShuffleSeed,
		MaxEpochs:    opts.MaxEpochs,
		BatchSize:    opts.BatchSize,
		LearningRate: opts.Hyperparams.LearningRate,
		Momentum:     opts.Hyperparams.Momentum,
	})
	if err != nil {
		return nil, fmt.Errorf("register run: %w", err)
	}
	if err := r.store.Start(ctx, run.ID); err != nil {
		return nil, err
	}

	shortID := shortUUID(runUUID)
	ctx = services.WithRunID(ctx, shortID)
	logger := logging.WithContext(ctx, r.logger)

	datasetName := filepath.Base(filepath.Clean(opts.DatasetDir))
	logger.Info("run started",
		"dataset", opts.DatasetDir,
		"output", opts.OutputDir,
		"arch", opts.Arch.String(),
		"batch_size", opts.BatchSize,
		"max_epochs", opts.MaxEpochs)
	if err := r.notifier.NotifyRunStarted(ctx, shortID, datasetName); err != nil {
		logger.Warn("start notification not delivered", "error", err)
	}

	trainIt, err := dataset.NewIterator(&ds.Train, opts.BatchSize, true, opts.ShuffleSeed)
	if err != nil {
		return nil, r.failRun(ctx, run.ID, shortID, err)
	}
	valIt, err := dataset.NewIterator(&ds.Validation, opts.BatchSize, false, 0)
	if err != nil {
		return nil, r.failRun(ctx, run.ID, shortID, err)
	}
	handle, err := r.builder.Build(ds.Shape, opts.Arch, opts.Hyperparams, opts.Seed)
	if err != nil {
		return nil, r.failRun(ctx, run.ID, shortID, err)
	}

	checkpointDir := filepath.Join(opts.OutputDir, checkpointsDirName)
	observer := func(record trainer.Record) {
		if err := r.store.AppendEpoch(ctx, run.ID, runs.EpochRecord{
			Epoch:         record.Epoch,
			TrainLoss:     record.TrainLoss,
			TrainAccuracy: record.TrainAccuracy,
			ValLoss:       record.ValLoss,
			ValAccuracy:   record.ValAccuracy,
			DurationMS:    record.Duration.Milliseconds(),
		}); err != nil {
			logger.Warn("epoch record not persisted", "epoch", record.Epoch, "error", err)
		}
		if r.progress != nil {
			r.progress(record, opts.MaxEpochs)
		}
	}
	loop, err := trainer.New(handle, trainIt, valIt, trainer.Config{
		MaxEpochs:          opts.MaxEpochs,
		Patience:           opts.Patience,
		Tolerance:          opts.Tolerance,
		TargetAccuracy:     opts.TargetAccuracy,
		CheckpointInterval: opts.CheckpointInterval,
		CheckpointDir:      checkpointDir,
	}, trainer.WithLogger(logger), trainer.WithObserver(observer))
	if err != nil {
		return nil, r.failRun(ctx, run.ID, shortID, err)
	}

	result, runErr := loop.Run(ctx)

	summary := &Summary{
		RunUUID:     runUUID,
		RunID:       run.ID,
		Outcome:     result.Outcome,
		EpochsRun:   len(result.Records),
		BestEpoch:   result.BestEpoch,
		BestValLoss: result.BestValLoss,
		OutputDir:   opts.OutputDir,
	}

	eval, evaluated := r.evaluateBest(result, checkpointDir, opts, &ds.Test)
	summary.TestLoss = eval.Loss
	summary.TestAccuracy = eval.Accuracy
	summary.TestEvaluated = evaluated

	historyPath, reportPath, persistErr := r.writeArtifacts(opts, meta, runUUID, result, eval, evaluated)
	summary.HistoryPath = historyPath
	summary.ReportPath = reportPath
	if persistErr != nil {
		if runErr == nil {
			return summary, r.failRun(ctx, run.ID, shortID, persistErr)
		}
		logger.Warn("run artifacts incomplete", "error", persistErr)
	}

	switch {
	case runErr == nil:
		if err := r.promoteBest(checkpointDir, opts.OutputDir, result.BestEpoch); err != nil {
			return summary, r.failRun(ctx, run.ID, shortID, err)
		}
		completion := runs.Completion{
			Status:       runs.StatusCompleted,
			Outcome:      string(result.Outcome),
			BestEpoch:    result.BestEpoch,
			BestValLoss:  result.BestValLoss,
			TestLoss:     eval.Loss,
			TestAccuracy: eval.Accuracy,
		}
		if err := r.store.Finish(ctx, run.ID, completion); err != nil {
			return summary, err
		}
		logger.Info("run complete",
			"outcome", string(result.Outcome),
			"epochs", len(result.Records),
			"best_epoch", result.BestEpoch,
			"test_accuracy", eval.Accuracy)
		lastAccuracy := 0.0
		if n := len(result.Records); n > 0 {
			lastAccuracy = result.Records[n-1].ValAccuracy
		}
		if err := r.notifier.NotifyRunCompleted(ctx, shortID, string(result.Outcome), len(result.Records), lastAccuracy); err != nil {
			logger.Warn("completion notification not delivered", "error", err)
		}
		r.sweepLogs()
		return summary, nil

	case result.Outcome == trainer.StateCancelled:
		completion := runs.Completion{
			Status:       runs.StatusCancelled,
			BestEpoch:    result.BestEpoch,
			BestValLoss:  result.BestValLoss,
			TestLoss:     eval.Loss,
			TestAccuracy: eval.Accuracy,
		}
		// The run context is already cancelled here; the terminal store
		// update must not inherit that cancellation.
		if err := r.store.Finish(context.WithoutCancel(ctx), run.ID, completion); err != nil {
			logger.Warn("cancelled run not recorded", "error", err)
		}
		logger.Info("run cancelled", "epochs", len(result.Records))
		return summary, runErr

	default:
		return summary, r.failRun(ctx, run.ID, shortID, runErr)
	}
}

// failRun records the abnormal end, notifies, and returns the cause
// wrapped with the run identity. Causes that carry a context
// cancellation mark the run cancelled rather than failed.
func (r *Runner) failRun(ctx context.Context, runID int64, shortID string, cause error) error {
	opCtx := context.WithoutCancel(ctx)
	logger := logging.WithContext(ctx, r.logger)

	if services.FailureStatus(cause) == runs.StatusCancelled {
		if err := r.store.Finish(opCtx, runID, runs.Completion{Status: runs.StatusCancelled}); err != nil {
			logger.Warn("cancelled run not recorded", "error", err)
		}
		logger.Info("run cancelled", "error", cause)
		return fmt.Errorf("run %s: %w", shortID, cause)
	}

	if err := r.store.Fail(opCtx, runID, cause.Error()); err != nil {
		logger.Warn("failed run not recorded", "error", err)
	}
	logger.Error("run failed", "error", cause)
	if err := r.notifier.NotifyRunFailed(opCtx, shortID, cause); err != nil {
		logger.Warn("failure notification not delivered", "error", err)
	}
	return fmt.Errorf("run %s: %w", shortID, cause)
}

// evaluateBest loads the best checkpoint and measures it against the
// held-out test partition. Skipped when no best checkpoint was produced
// or the test partition is empty.
func (r *Runner) evaluateBest(result *trainer.Result, checkpointDir string, opts Options, test *dataset.Partition) (model.Eval, bool) {
	if result.BestEpoch == 0 || test.Len() == 0 {
		return model.Eval{}, false
	}
	bestDir := filepath.Join(checkpointDir, trainer.BestDirName)
	if _, err := os.Stat(bestDir); err != nil {
		return model.Eval{}, false
	}
	handle, _, err := model.LoadCheckpoint(bestDir, opts.Hyperparams)
	if err != nil {
		r.logger.Warn("best checkpoint unreadable, skipping test evaluation", "dir", bestDir, "error", err)
		return model.Eval{}, false
	}
	it, err := dataset.NewIterator(test, opts.BatchSize, false, 0)
	if err != nil {
		r.logger.Warn("test iterator construction failed", "error", err)
		return model.Eval{}, false
	}

	var lossSum, accSum float64
	examples := 0
	for {
		batch, ok := it.Next()
		if !ok {
			break
		}
		eval, err := handle.Evaluate(batch)
		if err != nil {
			r.logger.Warn("test evaluation failed", "error", err)
			return model.Eval{}, false
		}
		lossSum += eval.Loss * float64(batch.N)
		accSum += eval.Accuracy * float64(batch.N)
		examples += batch.N
	}
	return model.Eval{
		Loss:     lossSum / float64(examples),
		Accuracy: accSum / float64(examples),
	}, true
}

// promoteBest copies the trainer's best snapshot into OutputDir/best.
func (r *Runner) promoteBest(checkpointDir, outputDir string, bestEpoch int) error {
	if bestEpoch == 0 {
		return nil
	}
	src := filepath.Join(checkpointDir, trainer.BestDirName)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("best checkpoint missing: %w", err)
	}
	dst := filepath.Join(outputDir, bestDirName)
	if err := fileutil.CopyTree(src, dst); err != nil {
		return fmt.Errorf("promote best checkpoint: %w", err)
	}
	return nil
}

func (r *Runner) sweepLogs() {
	logging.PruneOldLogs(r.logger, r.cfg.Logging.RetentionDays, r.cfg.Paths.LogDir, "*.log",
		filepath.Join(r.cfg.Paths.LogDir, currentLogFileName))
}

func formatPreflight(failed []preflight.Result) string {
	parts := make([]string, 0, len(failed))
	for _, result := range failed {
		if result.Detail != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", result.Name, result.Detail))
			continue
		}
		parts = append(parts, result.Name)
	}
	return strings.Join(parts, "; ")
}

func shortUUID(value string) string {
	if len(value) > 8 {
		return value[:8]
	}
	return value
}
