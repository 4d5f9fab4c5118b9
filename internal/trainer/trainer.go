package trainer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"stencil/internal/dataset"
	"stencil/internal/logging"
	"stencil/internal/model"
	"stencil/internal/services"
)

// ErrDivergence marks a run aborted by a non-finite loss. It aliases
// the shared service taxonomy so orchestration classifies it uniformly.
var ErrDivergence = services.ErrDivergence

// BestDirName is the directory under the checkpoint root holding the
// minimum-validation-loss snapshot.
const BestDirName = "best"

// State is the lifecycle position of a Loop.
type State string

const (
	StateInitialized  State = "initialized"
	StateRunning      State = "running"
	StateConverged    State = "converged"
	StateMaxEpochs    State = "max_epochs"
	StateEarlyStopped State = "early_stopped"
	StateFailed       State = "failed"
	StateCancelled    State = "cancelled"
)

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateConverged, StateMaxEpochs, StateEarlyStopped, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Record is one completed epoch's metrics. TrainLoss is the mean of the
// per-batch step losses; accuracies come from no-update passes after the
// epoch's updates.
type Record struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValLoss       float64
	ValAccuracy   float64
	Duration      time.Duration
}

// Config bounds a training run.
type Config struct {
	MaxEpochs int
	// Patience is the early-stop window in epochs. 0 disables early
	// stopping.
	Patience int
	// Tolerance is the minimum validation-loss improvement that resets
	// the early-stop counter.
	Tolerance float64
	// TargetAccuracy declares convergence once validation accuracy
	// reaches it. 0 disables the check.
	TargetAccuracy float64
	// CheckpointInterval writes a checkpoint every K epochs. 0 keeps
	// only the terminal checkpoint.
	CheckpointInterval int
	// CheckpointDir is the root for epoch checkpoints. Empty disables
	// checkpointing entirely.
	CheckpointDir string
}

// Observer is invoked after each completed epoch.
type Observer func(Record)

// Result summarizes a finished run. It is populated for failed and
// cancelled runs too, so callers can persist partial progress.
type Result struct {
	Outcome        State
	Records        []Record
	BestEpoch      int
	BestValLoss    float64
	CheckpointDirs []string
}

// Loop owns a model handle for the duration of one training run.
type Loop struct {
	handle   model.Handle
	train    *dataset.Iterator
	val      *dataset.Iterator
	cfg      Config
	logger   *slog.Logger
	observer Observer

	state   State
	records []Record

	best        *model.State
	bestEpoch   int
	bestValLoss float64
	bestValAcc  float64

	stallRef float64
	stalled  int

	checkpoints    []string
	lastCheckpoint int
}

// Option adjusts loop construction.
type Option func(*Loop)

// WithLogger sets the logger for epoch progress.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver registers a callback for completed epochs.
func WithObserver(fn Observer) Option {
	return func(l *Loop) {
		l.observer = fn
	}
}

// New validates the configuration and returns a loop in the initialized
// state.
func New(handle model.Handle, train, val *dataset.Iterator, cfg Config, opts ...Option) (*Loop, error) {
	if handle == nil {
		return nil, errors.New("trainer: nil model handle")
	}
	if train == nil || val == nil {
		return nil, errors.New("trainer: both train and validation iterators are required")
	}
	if cfg.MaxEpochs < 1 {
		return nil, fmt.Errorf("trainer: max epochs must be at least 1, got %d", cfg.MaxEpochs)
	}
	if cfg.Patience < 0 {
		return nil, fmt.Errorf("trainer: patience must not be negative, got %d", cfg.Patience)
	}
	if cfg.Tolerance < 0 {
		return nil, fmt.Errorf("trainer: tolerance must not be negative, got %v", cfg.Tolerance)
	}
	if cfg.TargetAccuracy < 0 || cfg.TargetAccuracy > 1 {
		return nil, fmt.Errorf("trainer: target accuracy must be in [0,1], got %v", cfg.TargetAccuracy)
	}
	if cfg.CheckpointInterval < 0 {
		return nil, fmt.Errorf("trainer: checkpoint interval must not be negative, got %d", cfg.CheckpointInterval)
	}

	l := &Loop{
		handle:      handle,
		train:       train,
		val:         val,
		cfg:         cfg,
		logger:      logging.NewNop(),
		state:       StateInitialized,
		bestValLoss: math.Inf(1),
		stallRef:    math.Inf(1),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.NewComponentLogger(l.logger, "trainer")
	return l, nil
}

// State returns the current lifecycle position.
func (l *Loop) State() State {
	return l.state
}
