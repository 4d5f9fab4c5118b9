package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Create inserts a new run in the created state. UUID and dataset path
// are required.
func (s *Store) Create(ctx context.Context, run *Run) (*Run, error) {
	if run == nil {
		return nil, errors.New("run is nil")
	}
	if strings.TrimSpace(run.UUID) == "" {
		return nil, errors.New("run uuid is required")
	}
	if strings.TrimSpace(run.DatasetPath) == "" {
		return nil, errors.New("dataset path is required")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.exec(
		ctx,
		`INSERT INTO runs (
            uuid, dataset_path, output_dir, arch_json, seed, shuffle_seed,
            max_epochs, batch_size, learning_rate, momentum, status, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.UUID,
		run.DatasetPath,
		run.OutputDir,
		run.ArchJSON,
		run.Seed,
		run.ShuffleSeed,
		run.MaxEpochs,
		run.BatchSize,
		run.LearningRate,
		run.Momentum,
		StatusCreated,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// Start transitions a created run to running and stamps started_at.
func (s *Store) Start(ctx context.Context, id int64) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.exec(
		ctx,
		`UPDATE runs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		StatusRunning, timestamp, id, StatusCreated,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("start run: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("start run %d: not in %s state", id, StatusCreated)
	}
	return nil
}

// AppendEpoch records metrics for one completed epoch and advances the
// run's epoch counter in the same transaction.
func (s *Store) AppendEpoch(ctx context.Context, runID int64, record EpochRecord) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	return s.transact(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO epoch_records (
                run_id, epoch, train_loss, train_accuracy,
                val_loss, val_accuracy, duration_ms, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID,
			record.Epoch,
			record.TrainLoss,
			record.TrainAccuracy,
			record.ValLoss,
			record.ValAccuracy,
			record.DurationMS,
			timestamp,
		); err != nil {
			return fmt.Errorf("insert epoch record: %w", err)
		}

		_, err := tx.ExecContext(
			ctx,
			`UPDATE runs SET epochs_run = ? WHERE id = ? AND epochs_run < ?`,
			record.Epoch, runID, record.Epoch,
		)
		if err != nil {
			return fmt.Errorf("update epochs run: %w", err)
		}
		return nil
	})
}

// Finish records the terminal state for a run that ended without error.
func (s *Store) Finish(ctx context.Context, id int64, completion Completion) error {
	switch completion.Status {
	case StatusCompleted, StatusCancelled:
	default:
		return fmt.Errorf("finish run: status %q is not a finish state", completion.Status)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.exec(
		ctx,
		`UPDATE runs
         SET status = ?, outcome = ?, best_epoch = ?, best_val_loss = ?,
             test_loss = ?, test_accuracy = ?, finished_at = ?
         WHERE id = ?`,
		completion.Status,
		nullableString(completion.Outcome),
		completion.BestEpoch,
		completion.BestValLoss,
		completion.TestLoss,
		completion.TestAccuracy,
		timestamp,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("finish run %d: not found", id)
	}
	return nil
}

// Fail marks a run failed and records the error message.
func (s *Store) Fail(ctx context.Context, id int64, message string) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.exec(
		ctx,
		`UPDATE runs SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		StatusFailed, nullableString(message), timestamp, id,
	)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail run: rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("fail run %d: not found", id)
	}
	return nil
}

// GetByID fetches a run by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// GetByUUID fetches a run by its public identifier. UUID prefixes are
// accepted when they match exactly one run.
func (s *Store) GetByUUID(ctx context.Context, uuid string) (*Run, error) {
	uuid = strings.TrimSpace(uuid)
	if uuid == "" {
		return nil, errors.New("run uuid is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE uuid = ?`, uuid)
	run, err := scanRun(row)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get run by uuid: %w", err)
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs WHERE uuid LIKE ? ORDER BY created_at DESC LIMIT 2`,
		uuid+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("get run by uuid prefix: %w", err)
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		match, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan run: %w", scanErr)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("run uuid prefix %q is ambiguous", uuid)
	}
}

// List returns runs ordered newest first. A limit <= 0 returns all runs.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		run, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan run: %w", scanErr)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

// EpochRecords returns the per-epoch metrics for a run in epoch order.
func (s *Store) EpochRecords(ctx context.Context, runID int64) ([]*EpochRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+epochColumns+` FROM epoch_records WHERE run_id = ? ORDER BY epoch`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query epoch records: %w", err)
	}
	defer rows.Close()

	var result []*EpochRecord
	for rows.Next() {
		record, scanErr := scanEpochRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan epoch record: %w", scanErr)
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate epoch records: %w", err)
	}
	return result, nil
}
