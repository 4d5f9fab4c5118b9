package runs

import "time"

// Status represents the lifecycle of a training run.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusCreated,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Outcome labels recorded when a run completes normally.
const (
	OutcomeConverged    = "converged"
	OutcomeMaxEpochs    = "max_epochs"
	OutcomeEarlyStopped = "early_stopped"
)

// Run represents a training run persisted in SQLite.
type Run struct {
	ID           int64
	UUID         string
	DatasetPath  string
	OutputDir    string
	ArchJSON     string
	Seed         int64
	ShuffleSeed  int64
	MaxEpochs    int
	BatchSize    int
	LearningRate float64
	Momentum     float64
	Status       Status
	Outcome      string
	EpochsRun    int
	BestEpoch    int
	BestValLoss  float64
	TestLoss     float64
	TestAccuracy float64
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// EpochRecord captures per-epoch metrics for a run.
type EpochRecord struct {
	ID            int64
	RunID         int64
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValLoss       float64
	ValAccuracy   float64
	DurationMS    int64
	CreatedAt     time.Time
}

// Completion carries the terminal state recorded by Finish.
type Completion struct {
	Status       Status
	Outcome      string
	BestEpoch    int
	BestValLoss  float64
	TestLoss     float64
	TestAccuracy float64
}
