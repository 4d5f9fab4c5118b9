package runs

import (
	"database/sql"
	"errors"
	"time"
)

const runColumns = "id, uuid, dataset_path, output_dir, arch_json, seed, shuffle_seed, max_epochs, batch_size, learning_rate, momentum, status, outcome, epochs_run, best_epoch, best_val_loss, test_loss, test_accuracy, error_message, created_at, started_at, finished_at"

const epochColumns = "id, run_id, epoch, train_loss, train_accuracy, val_loss, val_accuracy, duration_ms, created_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id           int64
		uuid         string
		datasetPath  string
		outputDir    sql.NullString
		archJSON     sql.NullString
		seed         sql.NullInt64
		shuffleSeed  sql.NullInt64
		maxEpochs    int
		batchSize    int
		learningRate float64
		momentum     float64
		statusStr    string
		outcome      sql.NullString
		epochsRun    sql.NullInt64
		bestEpoch    sql.NullInt64
		bestValLoss  sql.NullFloat64
		testLoss     sql.NullFloat64
		testAccuracy sql.NullFloat64
		errorMessage sql.NullString
		createdRaw   sql.NullString
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&uuid,
		&datasetPath,
		&outputDir,
		&archJSON,
		&seed,
		&shuffleSeed,
		&maxEpochs,
		&batchSize,
		&learningRate,
		&momentum,
		&statusStr,
		&outcome,
		&epochsRun,
		&bestEpoch,
		&bestValLoss,
		&testLoss,
		&testAccuracy,
		&errorMessage,
		&createdRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	run := &Run{
		ID:           id,
		UUID:         uuid,
		DatasetPath:  datasetPath,
		OutputDir:    outputDir.String,
		ArchJSON:     archJSON.String,
		Seed:         seed.Int64,
		ShuffleSeed:  shuffleSeed.Int64,
		MaxEpochs:    maxEpochs,
		BatchSize:    batchSize,
		LearningRate: learningRate,
		Momentum:     momentum,
		Status:       Status(statusStr),
		Outcome:      outcome.String,
		EpochsRun:    int(epochsRun.Int64),
		BestEpoch:    int(bestEpoch.Int64),
		BestValLoss:  bestValLoss.Float64,
		TestLoss:     testLoss.Float64,
		TestAccuracy: testAccuracy.Float64,
		ErrorMessage: errorMessage.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		run.CreatedAt = created
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			run.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	return run, nil
}

func scanEpochRecord(scanner interface{ Scan(dest ...any) error }) (*EpochRecord, error) {
	var (
		id         int64
		runID      int64
		epoch      int
		trainLoss  float64
		trainAcc   float64
		valLoss    float64
		valAcc     float64
		durationMS sql.NullInt64
		createdRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&runID,
		&epoch,
		&trainLoss,
		&trainAcc,
		&valLoss,
		&valAcc,
		&durationMS,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	record := &EpochRecord{
		ID:            id,
		RunID:         runID,
		Epoch:         epoch,
		TrainLoss:     trainLoss,
		TrainAccuracy: trainAcc,
		ValLoss:       valLoss,
		ValAccuracy:   valAcc,
		DurationMS:    durationMS.Int64,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
