// Package trainer drives repeated optimization passes over a training
// partition until a terminal outcome is reached.
//
// # Lifecycle
//
// A Loop moves through initialized -> running -> one of converged,
// max_epochs, early_stopped, failed, cancelled. Each epoch is a full
// traversal of the training iterator (one Step per batch) followed by
// no-update evaluation passes over the training and validation
// partitions. Parameter mutation is single-threaded: a batch's update
// completes before the next batch starts, and nothing else touches the
// handle while Run is active.
//
// # Termination
//
// Converged fires when validation accuracy reaches the configured
// target. Early stop fires after the configured number of consecutive
// epochs without the validation loss improving beyond the tolerance.
// A non-finite loss fails the run immediately: the divergent epoch is
// not recorded and no new checkpoint is written, so the last good
// checkpoint survives. Cancellation is observed between epochs only and
// persists a final checkpoint before returning the context error.
package trainer
