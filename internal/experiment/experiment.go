package experiment

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stencil/internal/config"
	"stencil/internal/logging"
	"stencil/internal/model"
	"stencil/internal/notifications"
	"stencil/internal/runs"
	"stencil/internal/trainer"
)

// ErrOutputDirBusy reports that another run holds the output directory.
var ErrOutputDirBusy = errors.New("output directory locked by another run")

// Options configures a single training run. Use DefaultOptions to start
// from the configured training defaults and override what the caller
// knows better.
type Options struct {
	DatasetDir string
	OutputDir  string
	MaxEpochs  int

	Arch        model.Arch
	Hyperparams model.Hyperparams
	BatchSize   int

	// Seed initializes model parameters; ShuffleSeed drives the training
	// iterator's epoch ordering. Keeping them separate lets reruns vary
	// data order while reusing an initialization.
	Seed        int64
	ShuffleSeed int64

	Patience           int
	Tolerance          float64
	TargetAccuracy     float64
	CheckpointInterval int
}

// DefaultOptions seeds run options from the training section of the
// configuration. DatasetDir, OutputDir and MaxEpochs remain unset.
func DefaultOptions(cfg *config.Config) Options {
	if cfg == nil {
		return Options{}
	}
	return Options{
		BatchSize: cfg.Training.BatchSize,
		Hyperparams: model.Hyperparams{
			LearningRate: cfg.Training.LearningRate,
			Momentum:     cfg.Training.Momentum,
		},
		Patience:           cfg.Training.EarlyStopPatience,
		Tolerance:          cfg.Training.EarlyStopTolerance,
		TargetAccuracy:     cfg.Training.TargetAccuracy,
		CheckpointInterval: cfg.Training.CheckpointInterval,
	}
}

func (o Options) validate() error {
	if strings.TrimSpace(o.DatasetDir) == "" {
		return errors.New("dataset directory is required")
	}
	if strings.TrimSpace(o.OutputDir) == "" {
		return errors.New("output directory is required")
	}
	if o.MaxEpochs < 1 {
		return fmt.Errorf("max epochs must be at least 1, got %d", o.MaxEpochs)
	}
	if o.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", o.BatchSize)
	}
	return nil
}

// Progress is invoked after every completed epoch.
type Progress func(record trainer.Record, maxEpochs int)

// Summary reports the outcome of a run to the caller.
type Summary struct {
	RunUUID       string
	RunID         int64
	Outcome       trainer.State
	EpochsRun     int
	BestEpoch     int
	BestValLoss   float64
	TestLoss      float64
	TestAccuracy  float64
	TestEvaluated bool
	OutputDir     string
	HistoryPath   string
	ReportPath    string
}

// Runner executes training runs against a shared history store.
type Runner struct {
	cfg      *config.Config
	store    *runs.Store
	notifier notifications.Service
	builder  model.Builder
	logger   *slog.Logger
	progress Progress
}

// Option adjusts runner construction.
type Option func(*Runner)

// WithLogger sets the logger used for run diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithNotifier overrides the notification service.
func WithNotifier(svc notifications.Service) Option {
	return func(r *Runner) {
		if svc != nil {
			r.notifier = svc
		}
	}
}

// WithBuilder swaps the model backend.
func WithBuilder(builder model.Builder) Option {
	return func(r *Runner) {
		if builder != nil {
			r.builder = builder
		}
	}
}

// WithProgress registers a per-epoch progress callback.
func WithProgress(fn Progress) Option {
	return func(r *Runner) {
		r.progress = fn
	}
}

// NewRunner builds a Runner. The store is shared across runs and is not
// closed by the runner.
func NewRunner(cfg *config.Config, store *runs.Store, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("runs store is nil")
	}
	r := &Runner{
		cfg:      cfg,
		store:    store,
		notifier: notifications.NewService(cfg),
		builder:  model.DefaultBuilder{},
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "experiment")
	return r, nil
}
