package model

import (
	"fmt"

	"stencil/internal/dataset"
)

// Arch describes the network: hidden layer widths between the input and
// the two-class output. An empty Hidden list is a linear classifier.
type Arch struct {
	Hidden []int `json:"hidden"`
}

func (a Arch) equal(other Arch) bool {
	if len(a.Hidden) != len(other.Hidden) {
		return false
	}
	for i, h := range a.Hidden {
		if other.Hidden[i] != h {
			return false
		}
	}
	return true
}

// String renders the layer widths for logs and reports.
func (a Arch) String() string {
	if len(a.Hidden) == 0 {
		return "linear"
	}
	return fmt.Sprintf("hidden %v", a.Hidden)
}

// Hyperparams are the optimizer settings for Step.
type Hyperparams struct {
	LearningRate float64 `json:"learning_rate"`
	Momentum     float64 `json:"momentum"`
}

// Eval is the outcome of a no-update pass over a batch.
type Eval struct {
	Loss     float64
	Accuracy float64
}

// State is a complete snapshot of parameters and optimizer state.
// Snapshots are deep copies; mutating a Handle never changes an already
// taken State.
type State struct {
	Shape    dataset.Shape
	Arch     Arch
	Params   []float64
	Velocity []float64
}

// Handle is one trainable model instance.
type Handle interface {
	// Step runs forward and backward over the batch and applies one
	// parameter update. Returns the mean batch loss measured before the
	// update.
	Step(batch dataset.Minibatch) (float64, error)
	// Evaluate computes mean loss and accuracy without touching
	// parameters.
	Evaluate(batch dataset.Minibatch) (Eval, error)
	Snapshot() *State
	Restore(*State) error
}

// Builder constructs model instances.
type Builder interface {
	Build(shape dataset.Shape, arch Arch, hp Hyperparams, seed int64) (Handle, error)
}

// DefaultBuilder builds the built-in feedforward backend.
type DefaultBuilder struct{}

// Build validates the inputs and returns a freshly initialized handle.
func (DefaultBuilder) Build(shape dataset.Shape, arch Arch, hp Hyperparams, seed int64) (Handle, error) {
	if shape.Channels < 1 || shape.Height < 1 || shape.Width < 1 {
		return nil, fmt.Errorf("degenerate input shape %dx%dx%d", shape.Channels, shape.Height, shape.Width)
	}
	for i, width := range arch.Hidden {
		if width < 1 {
			return nil, fmt.Errorf("hidden layer %d has width %d, want at least 1", i, width)
		}
	}
	if hp.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", hp.LearningRate)
	}
	if hp.Momentum < 0 || hp.Momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0,1), got %v", hp.Momentum)
	}
	return newFeedforward(shape, arch, hp, seed), nil
}
