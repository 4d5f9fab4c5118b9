package experiment

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"stencil/internal/dataset"
	"stencil/internal/fileutil"
	"stencil/internal/model"
	"stencil/internal/trainer"
)

const (
	historyFileName = "history.csv"
	reportFileName  = "report.json"
)

var historyHeader = []string{"epoch", "train_loss", "train_accuracy", "val_loss", "val_accuracy", "duration_ms"}

// Report is the JSON summary written next to a run's checkpoints.
type Report struct {
	RunUUID      string            `json:"run_uuid"`
	GeneratedAt  time.Time         `json:"generated_at"`
	DatasetDir   string            `json:"dataset_dir"`
	Dataset      *dataset.Metadata `json:"dataset"`
	Arch         model.Arch        `json:"arch"`
	Hyperparams  model.Hyperparams `json:"hyperparams"`
	BatchSize    int               `json:"batch_size"`
	Seed         int64             `json:"seed"`
	ShuffleSeed  int64             `json:"shuffle_seed"`
	MaxEpochs    int               `json:"max_epochs"`
	Outcome      string            `json:"outcome"`
	EpochsRun    int               `json:"epochs_run"`
	BestEpoch    int               `json:"best_epoch"`
	BestValLoss  float64           `json:"best_val_loss"`
	Test         *TestMetrics      `json:"test,omitempty"`
	EpochSeconds DurationStats     `json:"epoch_seconds"`
}

// TestMetrics carries the best checkpoint's held-out evaluation.
type TestMetrics struct {
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
}

// DurationStats summarizes per-epoch wall time.
type DurationStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// ReadReport loads a report written by a previous run.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &report, nil
}

func (r *Runner) writeArtifacts(opts Options, meta *dataset.Metadata, runUUID string, result *trainer.Result, eval model.Eval, evaluated bool) (string, string, error) {
	historyPath := filepath.Join(opts.OutputDir, historyFileName)
	if err := writeHistory(historyPath, result.Records); err != nil {
		return "", "", err
	}

	report := &Report{
		RunUUID:      runUUID,
		GeneratedAt:  time.Now().UTC(),
		DatasetDir:   opts.DatasetDir,
		Dataset:      meta,
		Arch:         opts.Arch,
		Hyperparams:  opts.Hyperparams,
		BatchSize:    opts.BatchSize,
		Seed:         opts.Seed,
		ShuffleSeed:  opts.ShuffleSeed,
		MaxEpochs:    opts.MaxEpochs,
		Outcome:      string(result.Outcome),
		EpochsRun:    len(result.Records),
		BestEpoch:    result.BestEpoch,
		BestValLoss:  result.BestValLoss,
		EpochSeconds: durationStats(result.Records),
	}
	if evaluated {
		report.Test = &TestMetrics{Loss: eval.Loss, Accuracy: eval.Accuracy}
	}

	reportPath := filepath.Join(opts.OutputDir, reportFileName)
	if err := writeReport(reportPath, report); err != nil {
		return historyPath, "", err
	}
	return historyPath, reportPath, nil
}

func writeHistory(path string, records []trainer.Record) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(historyHeader); err != nil {
		return fmt.Errorf("write history header: %w", err)
	}
	for _, record := range records {
		row := []string{
			strconv.Itoa(record.Epoch),
			formatFloat(record.TrainLoss),
			formatFloat(record.TrainAccuracy),
			formatFloat(record.ValLoss),
			formatFloat(record.ValAccuracy),
			strconv.FormatInt(record.Duration.Milliseconds(), 10),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write history row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush history: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func writeReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// durationStats reports mean and stddev epoch wall time in seconds.
// StdDev needs two samples; below that it is reported as zero.
func durationStats(records []trainer.Record) DurationStats {
	if len(records) == 0 {
		return DurationStats{}
	}
	seconds := make([]float64, len(records))
	for i, record := range records {
		seconds[i] = record.Duration.Seconds()
	}
	stats := DurationStats{Mean: stat.Mean(seconds, nil)}
	if len(seconds) > 1 {
		stats.StdDev = stat.StdDev(seconds, nil)
	}
	return stats
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
