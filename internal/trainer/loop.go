package trainer

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"stencil/internal/dataset"
	"stencil/internal/model"
)

// Run drives the loop to a terminal state. The returned result is
// non-nil even when an error is returned, so callers can persist the
// records of a failed or cancelled run.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	if l.state != StateInitialized {
		return l.result(), fmt.Errorf("training loop already ran (state %s)", l.state)
	}
	l.state = StateRunning

	for epoch := 1; epoch <= l.cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			l.cancel(epoch - 1)
			return l.result(), err
		}

		record, err := l.runEpoch(epoch)
		if err != nil {
			l.state = StateFailed
			return l.result(), err
		}
		l.records = append(l.records, record)
		l.track(record)
		l.logger.Debug("epoch complete",
			"epoch", record.Epoch,
			"train_loss", record.TrainLoss,
			"val_loss", record.ValLoss,
			"val_accuracy", record.ValAccuracy)
		if l.observer != nil {
			l.observer(record)
		}

		terminal := l.decide(record)
		checkpointDue := l.cfg.CheckpointInterval > 0 && epoch%l.cfg.CheckpointInterval == 0
		if checkpointDue || terminal != StateRunning {
			if err := l.checkpoint(record); err != nil {
				l.state = StateFailed
				return l.result(), err
			}
		}
		if terminal != StateRunning {
			l.state = terminal
			if err := l.writeBest(); err != nil {
				l.state = StateFailed
				return l.result(), err
			}
			l.logger.Info("training finished",
				"outcome", string(terminal),
				"epochs", len(l.records),
				"best_epoch", l.bestEpoch,
				"best_val_loss", l.bestValLoss)
			return l.result(), nil
		}
	}

	// MaxEpochs >= 1 guarantees the loop body decides before this point
	return l.result(), nil
}

// runEpoch performs the train pass and both evaluation passes for one
// epoch. A non-finite loss anywhere aborts with ErrDivergence before
// anything about the epoch is recorded.
func (l *Loop) runEpoch(epoch int) (Record, error) {
	start := time.Now()

	l.train.Reset()
	stepTotal := 0.0
	examples := 0
	for {
		batch, ok := l.train.Next()
		if !ok {
			break
		}
		loss, err := l.handle.Step(batch)
		if err != nil {
			return Record{}, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if !isFinite(loss) {
			return Record{}, fmt.Errorf("epoch %d: %w", epoch, ErrDivergence)
		}
		stepTotal += loss * float64(batch.N)
		examples += batch.N
	}

	l.train.Reset()
	_, trainAcc, err := l.evaluatePass(l.train)
	if err != nil {
		return Record{}, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	l.val.Reset()
	valLoss, valAcc, err := l.evaluatePass(l.val)
	if err != nil {
		return Record{}, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	if !isFinite(valLoss) {
		return Record{}, fmt.Errorf("epoch %d: %w", epoch, ErrDivergence)
	}

	return Record{
		Epoch:         epoch,
		TrainLoss:     stepTotal / float64(examples),
		TrainAccuracy: trainAcc,
		ValLoss:       valLoss,
		ValAccuracy:   valAcc,
		Duration:      time.Since(start),
	}, nil
}

func (l *Loop) evaluatePass(it *dataset.Iterator) (loss, accuracy float64, err error) {
	total := 0.0
	correct := 0.0
	examples := 0
	for {
		batch, ok := it.Next()
		if !ok {
			break
		}
		eval, err := l.handle.Evaluate(batch)
		if err != nil {
			return 0, 0, err
		}
		total += eval.Loss * float64(batch.N)
		correct += eval.Accuracy * float64(batch.N)
		examples += batch.N
	}
	n := float64(examples)
	return total / n, correct / n, nil
}

// track updates best-so-far and early-stop accounting for a completed
// epoch.
func (l *Loop) track(record Record) {
	if record.ValLoss < l.bestValLoss {
		l.bestValLoss = record.ValLoss
		l.bestValAcc = record.ValAccuracy
		l.bestEpoch = record.Epoch
		l.best = l.handle.Snapshot()
	}
	if record.ValLoss < l.stallRef-l.cfg.Tolerance {
		l.stallRef = record.ValLoss
		l.stalled = 0
	} else {
		l.stalled++
	}
}

// decide returns the terminal state the completed epoch triggers, or
// StateRunning to continue. Convergence outranks early stop and the
// epoch budget.
func (l *Loop) decide(record Record) State {
	if l.cfg.TargetAccuracy > 0 && record.ValAccuracy >= l.cfg.TargetAccuracy {
		return StateConverged
	}
	if l.cfg.Patience > 0 && l.stalled >= l.cfg.Patience {
		return StateEarlyStopped
	}
	if record.Epoch == l.cfg.MaxEpochs {
		return StateMaxEpochs
	}
	return StateRunning
}

// cancel persists what the run has so far. Checkpoint failures are
// logged rather than returned: the caller is owed the context error.
func (l *Loop) cancel(completedEpochs int) {
	l.state = StateCancelled
	record := Record{Epoch: completedEpochs}
	if n := len(l.records); n > 0 {
		record = l.records[n-1]
	}
	if err := l.checkpoint(record); err != nil {
		l.logger.Warn("checkpoint on cancel failed", "error", err)
	}
	if err := l.writeBest(); err != nil {
		l.logger.Warn("best checkpoint on cancel failed", "error", err)
	}
}

// checkpoint snapshots the current parameters tagged with the given
// epoch's metrics. Repeat calls for the same epoch are no-ops.
func (l *Loop) checkpoint(record Record) error {
	if l.cfg.CheckpointDir == "" {
		return nil
	}
	if len(l.checkpoints) > 0 && l.lastCheckpoint == record.Epoch {
		return nil
	}
	dir := filepath.Join(l.cfg.CheckpointDir, fmt.Sprintf("epoch_%04d", record.Epoch))
	meta := model.CheckpointMeta{
		Epoch:       record.Epoch,
		ValLoss:     record.ValLoss,
		ValAccuracy: record.ValAccuracy,
	}
	if err := model.WriteCheckpoint(dir, l.handle.Snapshot(), meta, true); err != nil {
		return err
	}
	l.checkpoints = append(l.checkpoints, dir)
	l.lastCheckpoint = record.Epoch
	return nil
}

// writeBest persists the minimum-validation-loss snapshot under
// BestDirName. No-op before the first completed epoch.
func (l *Loop) writeBest() error {
	if l.cfg.CheckpointDir == "" || l.best == nil {
		return nil
	}
	dir := filepath.Join(l.cfg.CheckpointDir, BestDirName)
	meta := model.CheckpointMeta{
		Epoch:       l.bestEpoch,
		ValLoss:     l.bestValLoss,
		ValAccuracy: l.bestValAcc,
	}
	return model.WriteCheckpoint(dir, l.best, meta, true)
}

func (l *Loop) result() *Result {
	res := &Result{
		Outcome:        l.state,
		Records:        append([]Record(nil), l.records...),
		BestEpoch:      l.bestEpoch,
		CheckpointDirs: append([]string(nil), l.checkpoints...),
	}
	if l.bestEpoch > 0 {
		res.BestValLoss = l.bestValLoss
	}
	return res
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
