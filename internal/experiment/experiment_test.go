package experiment_test

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"stencil/internal/augment"
	"stencil/internal/config"
	"stencil/internal/dataset"
	"stencil/internal/experiment"
	"stencil/internal/imagestore"
	"stencil/internal/model"
	"stencil/internal/runs"
	"stencil/internal/testsupport"
	"stencil/internal/trainer"
)

// scalarExamples builds a linearly separable 1x1x1 example set: the
// pixel value equals the label.
func scalarExamples(n int) []augment.LabeledExample {
	examples := make([]augment.LabeledExample, n)
	for i := range examples {
		label := i % 2
		id := fmt.Sprintf("img-%03d", i)
		examples[i] = augment.LabeledExample{
			Image: imagestore.Image{
				ID:       id,
				Source:   id,
				Pixels:   []float32{float32(label)},
				Channels: 1,
				Height:   1,
				Width:    1,
			},
			Label:  label,
			Source: id,
		}
	}
	return examples
}

func buildArtifact(t *testing.T, fractions dataset.Fractions) string {
	t.Helper()

	builder := dataset.Builder{Fractions: fractions, Seed: 11}
	ds, err := builder.Build(scalarExamples(40))
	if err != nil {
		t.Fatalf("build dataset: %v", err)
	}
	dir := filepath.Join(t.TempDir(), "squares")
	if err := ds.Write(dir, false); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return dir
}

func newRunner(t *testing.T, opts ...experiment.Option) (*experiment.Runner, *runs.Store, *config.Config) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store, err := runs.Open(cfg)
	if err != nil {
		t.Fatalf("open runs store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	runner, err := experiment.NewRunner(cfg, store, opts...)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return runner, store, cfg
}

func baseOptions(cfg *config.Config, datasetDir, outputDir string) experiment.Options {
	opts := experiment.DefaultOptions(cfg)
	opts.DatasetDir = datasetDir
	opts.OutputDir = outputDir
	opts.MaxEpochs = 60
	opts.BatchSize = 4
	opts.Hyperparams = model.Hyperparams{LearningRate: 0.5, Momentum: 0}
	opts.Patience = 0
	opts.Tolerance = 0
	opts.TargetAccuracy = 0.95
	opts.CheckpointInterval = 5
	opts.Seed = 3
	opts.ShuffleSeed = 9
	return opts
}

// recordingNotifier captures delivered events for assertions.
type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) NotifyRunStarted(_ context.Context, runID, dataset string) error {
	n.events = append(n.events, "started "+runID+" "+dataset)
	return nil
}

func (n *recordingNotifier) NotifyRunCompleted(_ context.Context, runID, outcome string, _ int, _ float64) error {
	n.events = append(n.events, "completed "+runID+" "+outcome)
	return nil
}

func (n *recordingNotifier) NotifyRunFailed(_ context.Context, runID string, _ error) error {
	n.events = append(n.events, "failed "+runID)
	return nil
}

func (n *recordingNotifier) NotifyDatasetBuilt(_ context.Context, name string, _ int) error {
	n.events = append(n.events, "dataset "+name)
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error {
	n.events = append(n.events, "test")
	return nil
}

// nanBuilder wraps the default backend so Step starts returning NaN
// after a fixed step allowance.
type nanBuilder struct {
	allow int
}

func (b nanBuilder) Build(shape dataset.Shape, arch model.Arch, hp model.Hyperparams, seed int64) (model.Handle, error) {
	handle, err := model.DefaultBuilder{}.Build(shape, arch, hp, seed)
	if err != nil {
		return nil, err
	}
	return &nanHandle{Handle: handle, allow: b.allow}, nil
}

type nanHandle struct {
	model.Handle
	allow int
}

func (h *nanHandle) Step(batch dataset.Minibatch) (float64, error) {
	if h.allow <= 0 {
		return math.NaN(), nil
	}
	h.allow--
	return h.Handle.Step(batch)
}

func readHistory(t *testing.T, path string) [][]string {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse history: %v", err)
	}
	return rows
}

func TestRunTrainsToCompletion(t *testing.T) {
	notifier := &recordingNotifier{}
	runner, store, cfg := newRunner(t, experiment.WithNotifier(notifier))
	datasetDir := buildArtifact(t, dataset.Fractions{Train: 0.5, Validation: 0.25, Test: 0.25})
	outputDir := filepath.Join(cfg.Paths.ExperimentsDir, "out")

	summary, err := runner.Run(context.Background(), baseOptions(cfg, datasetDir, outputDir))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Outcome != trainer.StateConverged {
		t.Fatalf("expected converged outcome, got %s", summary.Outcome)
	}
	if summary.EpochsRun < 1 || summary.EpochsRun >= 60 {
		t.Errorf("unexpected epoch count %d", summary.EpochsRun)
	}
	if !summary.TestEvaluated {
		t.Fatal("expected test partition evaluation")
	}
	if summary.TestAccuracy < 0.9 {
		t.Errorf("expected test accuracy >= 0.9, got %v", summary.TestAccuracy)
	}

	bestMeta, err := model.ReadCheckpointMeta(filepath.Join(outputDir, "best"))
	if err != nil {
		t.Fatalf("read promoted best checkpoint: %v", err)
	}
	if bestMeta.Epoch != summary.BestEpoch {
		t.Errorf("best checkpoint epoch %d, summary says %d", bestMeta.Epoch, summary.BestEpoch)
	}

	rows := readHistory(t, summary.HistoryPath)
	if len(rows) != summary.EpochsRun+1 {
		t.Fatalf("history has %d rows, expected %d", len(rows), summary.EpochsRun+1)
	}
	if rows[0][0] != "epoch" || rows[0][3] != "val_loss" {
		t.Errorf("unexpected history header %v", rows[0])
	}

	report, err := experiment.ReadReport(summary.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if report.RunUUID != summary.RunUUID {
		t.Errorf("report run uuid %s, want %s", report.RunUUID, summary.RunUUID)
	}
	if report.Outcome != "converged" {
		t.Errorf("report outcome %q", report.Outcome)
	}
	if report.Dataset == nil || report.Dataset.Train.Count != 20 {
		t.Errorf("report dataset echo missing or wrong: %+v", report.Dataset)
	}
	if report.Test == nil || report.Test.Accuracy != summary.TestAccuracy {
		t.Errorf("report test metrics missing or wrong: %+v", report.Test)
	}
	if report.EpochSeconds.Mean < 0 {
		t.Errorf("negative mean epoch duration %v", report.EpochSeconds.Mean)
	}

	run, err := store.GetByUUID(context.Background(), summary.RunUUID)
	if err != nil || run == nil {
		t.Fatalf("load run from store: run=%v err=%v", run, err)
	}
	if run.Status != runs.StatusCompleted {
		t.Errorf("store status %s, want completed", run.Status)
	}
	if run.Outcome != runs.OutcomeConverged {
		t.Errorf("store outcome %q", run.Outcome)
	}
	if run.EpochsRun != summary.EpochsRun {
		t.Errorf("store epochs %d, want %d", run.EpochsRun, summary.EpochsRun)
	}
	if run.FinishedAt == nil {
		t.Error("finished_at not stamped")
	}
	records, err := store.EpochRecords(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("EpochRecords: %v", err)
	}
	if len(records) != summary.EpochsRun {
		t.Errorf("store has %d epoch records, want %d", len(records), summary.EpochsRun)
	}

	if len(notifier.events) != 2 ||
		!strings.HasPrefix(notifier.events[0], "started ") ||
		!strings.HasPrefix(notifier.events[1], "completed ") {
		t.Errorf("unexpected notification sequence %v", notifier.events)
	}
}

func TestRunDivergenceFailsRunAndKeepsHistory(t *testing.T) {
	// 2 epochs of 5 train batches before NaN strikes.
	notifier := &recordingNotifier{}
	runner, store, cfg := newRunner(t,
		experiment.WithNotifier(notifier),
		experiment.WithBuilder(nanBuilder{allow: 10}))
	datasetDir := buildArtifact(t, dataset.Fractions{Train: 0.5, Validation: 0.25, Test: 0.25})
	outputDir := filepath.Join(cfg.Paths.ExperimentsDir, "out")

	opts := baseOptions(cfg, datasetDir, outputDir)
	opts.TargetAccuracy = 0
	opts.MaxEpochs = 10
	opts.CheckpointInterval = 1

	summary, err := runner.Run(context.Background(), opts)
	if !errors.Is(err, trainer.ErrDivergence) {
		t.Fatalf("expected divergence error, got %v", err)
	}
	if summary == nil {
		t.Fatal("expected summary for failed run")
	}
	if summary.Outcome != trainer.StateFailed {
		t.Errorf("outcome %s, want failed", summary.Outcome)
	}
	if summary.EpochsRun != 2 {
		t.Errorf("epochs run %d, want 2", summary.EpochsRun)
	}
	if summary.TestEvaluated {
		t.Error("failed run must not be evaluated on test data")
	}

	run, err := store.GetByUUID(context.Background(), summary.RunUUID)
	if err != nil || run == nil {
		t.Fatalf("load run: run=%v err=%v", run, err)
	}
	if run.Status != runs.StatusFailed {
		t.Errorf("store status %s, want failed", run.Status)
	}
	if !strings.Contains(run.ErrorMessage, "diverged") {
		t.Errorf("store error message %q", run.ErrorMessage)
	}

	rows := readHistory(t, filepath.Join(outputDir, "history.csv"))
	if len(rows) != 3 {
		t.Errorf("history rows %d, want header plus 2 epochs", len(rows))
	}
	report, err := experiment.ReadReport(filepath.Join(outputDir, "report.json"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if report.Outcome != "failed" {
		t.Errorf("report outcome %q", report.Outcome)
	}

	if _, err := os.Stat(filepath.Join(outputDir, "best")); !os.IsNotExist(err) {
		t.Errorf("failed run must not promote a best checkpoint, stat err %v", err)
	}
	if _, err := model.ReadCheckpointMeta(filepath.Join(outputDir, "checkpoints", "epoch_0002")); err != nil {
		t.Errorf("pre-failure interval checkpoint unreadable: %v", err)
	}

	if len(notifier.events) != 2 || !strings.HasPrefix(notifier.events[1], "failed ") {
		t.Errorf("unexpected notification sequence %v", notifier.events)
	}
}

func TestRunCancellationRecordsAndCheckpoints(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner, store, cfg := newRunner(t, experiment.WithProgress(func(record trainer.Record, _ int) {
		if record.Epoch == 2 {
			cancel()
		}
	}))
	datasetDir := buildArtifact(t, dataset.Fractions{Train: 0.5, Validation: 0.25, Test: 0.25})
	outputDir := filepath.Join(cfg.Paths.ExperimentsDir, "out")

	opts := baseOptions(cfg, datasetDir, outputDir)
	opts.TargetAccuracy = 0
	opts.MaxEpochs = 50
	opts.CheckpointInterval = 0

	summary, err := runner.Run(ctx, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.Outcome != trainer.StateCancelled {
		t.Errorf("outcome %s, want cancelled", summary.Outcome)
	}
	if summary.EpochsRun != 2 {
		t.Errorf("epochs run %d, want 2", summary.EpochsRun)
	}

	run, err := store.GetByUUID(context.Background(), summary.RunUUID)
	if err != nil || run == nil {
		t.Fatalf("load run: run=%v err=%v", run, err)
	}
	if run.Status != runs.StatusCancelled {
		t.Errorf("store status %s, want cancelled", run.Status)
	}

	meta, err := model.ReadCheckpointMeta(filepath.Join(outputDir, "checkpoints", "epoch_0002"))
	if err != nil {
		t.Fatalf("cancellation checkpoint unreadable: %v", err)
	}
	if meta.Epoch != 2 {
		t.Errorf("checkpoint epoch %d, want 2", meta.Epoch)
	}
	rows := readHistory(t, filepath.Join(outputDir, "history.csv"))
	if len(rows) != 3 {
		t.Errorf("history rows %d, want header plus 2 epochs", len(rows))
	}
}

func TestRunRefusesLockedOutputDir(t *testing.T) {
	runner, store, cfg := newRunner(t)
	datasetDir := buildArtifact(t, dataset.Fractions{Train: 0.5, Validation: 0.25, Test: 0.25})
	outputDir := filepath.Join(cfg.Paths.ExperimentsDir, "out")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatalf("mkdir output: %v", err)
	}

	other := flock.New(filepath.Join(outputDir, ".stencil.lock"))
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("prelock output dir: locked=%v err=%v", locked, err)
	}
	defer func() { _ = other.Unlock() }()

	_, err = runner.Run(context.Background(), baseOptions(cfg, datasetDir, outputDir))
	if !errors.Is(err, experiment.ErrOutputDirBusy) {
		t.Fatalf("expected ErrOutputDirBusy, got %v", err)
	}

	all, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("locked-out run must not be registered, store has %d runs", len(all))
	}
}

func TestRunValidatesOptions(t *testing.T) {
	runner, store, cfg := newRunner(t)
	datasetDir := buildArtifact(t, dataset.Fractions{Train: 0.5, Validation: 0.25, Test: 0.25})
	good := baseOptions(cfg, datasetDir, filepath.Join(cfg.Paths.ExperimentsDir, "out"))

	cases := []struct {
		name   string
		mutate func(*experiment.Options)
	}{
		{"missing dataset", func(o *experiment.Options) { o.DatasetDir = "" }},
		{"missing output", func(o *experiment.Options) { o.OutputDir = " " }},
		{"zero epochs", func(o *experiment.Options) { o.MaxEpochs = 0 }},
		{"zero batch", func(o *experiment.Options) { o.BatchSize = 0 }},
	}
	for _, tc := range cases {
		opts := good
		tc.mutate(&opts)
		if _, err := runner.Run(context.Background(), opts); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}

	all, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("invalid options must not register runs, store has %d", len(all))
	}
}

func TestRunRequiresNonEmptyValidation(t *testing.T) {
	runner, _, cfg := newRunner(t)
	datasetDir := buildArtifact(t, dataset.Fractions{Train: 1, Validation: 0, Test: 0})

	_, err := runner.Run(context.Background(), baseOptions(cfg, datasetDir, filepath.Join(cfg.Paths.ExperimentsDir, "out")))
	if err == nil || !strings.Contains(err.Error(), "validation") {
		t.Fatalf("expected validation partition error, got %v", err)
	}
}

func TestDefaultOptionsMirrorConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	opts := experiment.DefaultOptions(cfg)

	if opts.BatchSize != cfg.Training.BatchSize {
		t.Errorf("batch size %d, want %d", opts.BatchSize, cfg.Training.BatchSize)
	}
	if opts.Hyperparams.LearningRate != cfg.Training.LearningRate {
		t.Errorf("learning rate %v, want %v", opts.Hyperparams.LearningRate, cfg.Training.LearningRate)
	}
	if opts.Hyperparams.Momentum != cfg.Training.Momentum {
		t.Errorf("momentum %v, want %v", opts.Hyperparams.Momentum, cfg.Training.Momentum)
	}
	if opts.Patience != cfg.Training.EarlyStopPatience {
		t.Errorf("patience %d, want %d", opts.Patience, cfg.Training.EarlyStopPatience)
	}
	if opts.CheckpointInterval != cfg.Training.CheckpointInterval {
		t.Errorf("checkpoint interval %d, want %d", opts.CheckpointInterval, cfg.Training.CheckpointInterval)
	}
	if opts.TargetAccuracy != cfg.Training.TargetAccuracy {
		t.Errorf("target accuracy %v, want %v", opts.TargetAccuracy, cfg.Training.TargetAccuracy)
	}
}
