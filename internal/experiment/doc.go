// Package experiment orchestrates training runs end to end. The Runner
// ties together preflight checks, the run history store, the training
// loop, and the artifacts a run leaves behind.
//
// # Run Lifecycle
//
// Run acquires an advisory lock on the output directory, loads the
// dataset artifact, registers the run in the history store, and drives
// the training loop with an observer that persists every epoch record
// as it completes. Two runs pointed at the same output directory are
// refused; runs against different directories may proceed in parallel,
// sharing the SQLite store.
//
// # Artifacts
//
// A run's output directory ends up with:
//
//	checkpoints/epoch_NNNN/  interval checkpoints
//	checkpoints/best/        lowest-validation-loss snapshot
//	best/                    copy of the best checkpoint
//	history.csv              per-epoch metrics
//	report.json              run summary with dataset echo and test metrics
//
// history.csv and report.json are written atomically and are present
// for failed and cancelled runs too, covering the epochs that
// completed. The test partition is evaluated once, against the best
// checkpoint, never during training.
package experiment
