package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sbinet/npyio"

	"stencil/internal/dataset"
	"stencil/internal/fileutil"
	"stencil/internal/staging"
)

// CheckpointVersion identifies the checkpoint directory layout.
const CheckpointVersion = 1

// CheckpointMetaFileName is the metadata record inside a checkpoint
// directory, next to params.npy and velocity.npy.
const CheckpointMetaFileName = "checkpoint.json"

const (
	paramsFileName   = "params.npy"
	velocityFileName = "velocity.npy"
)

// CheckpointMeta describes a persisted snapshot.
type CheckpointMeta struct {
	Version     int           `json:"version"`
	Epoch       int           `json:"epoch"`
	ValLoss     float64       `json:"val_loss"`
	ValAccuracy float64       `json:"val_accuracy"`
	Shape       dataset.Shape `json:"shape"`
	Arch        Arch          `json:"arch"`
	SavedAt     time.Time     `json:"saved_at"`
}

// WriteCheckpoint persists state to dir, staged and renamed into place.
// Version, shape, and architecture in the metadata are taken from the
// state; callers fill epoch and validation metrics.
func WriteCheckpoint(dir string, state *State, meta CheckpointMeta, overwrite bool) error {
	if state == nil {
		return fmt.Errorf("write checkpoint: nil state")
	}
	staged, err := staging.NewDir(dir)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	defer staging.Discard(staged)

	if err := writeFloat64Array(filepath.Join(staged, paramsFileName), state.Params); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := writeFloat64Array(filepath.Join(staged, velocityFileName), state.Velocity); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	meta.Version = CheckpointVersion
	meta.Shape = state.Shape
	meta.Arch = state.Arch
	if meta.SavedAt.IsZero() {
		meta.SavedAt = time.Now().UTC()
	}
	encoded, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("write checkpoint: encode metadata: %w", err)
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(staged, CheckpointMetaFileName), append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	if err := staging.Promote(staged, dir, overwrite); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// ReadCheckpointMeta reads and validates the metadata of the checkpoint
// at dir without loading the arrays.
func ReadCheckpointMeta(dir string) (*CheckpointMeta, error) {
	raw, err := os.ReadFile(filepath.Join(dir, CheckpointMetaFileName))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint metadata: %w", err)
	}
	var meta CheckpointMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse checkpoint metadata: %w", err)
	}
	if meta.Version != CheckpointVersion {
		return nil, fmt.Errorf("checkpoint format version %d, want %d", meta.Version, CheckpointVersion)
	}
	return &meta, nil
}

// LoadCheckpoint restores a handle from the checkpoint at dir, ready for
// further training or evaluation under the given hyperparameters.
func LoadCheckpoint(dir string, hp Hyperparams) (Handle, *CheckpointMeta, error) {
	meta, err := ReadCheckpointMeta(dir)
	if err != nil {
		return nil, nil, err
	}
	params, err := readFloat64Array(filepath.Join(dir, paramsFileName))
	if err != nil {
		return nil, nil, err
	}
	velocity, err := readFloat64Array(filepath.Join(dir, velocityFileName))
	if err != nil {
		return nil, nil, err
	}

	handle, err := DefaultBuilder{}.Build(meta.Shape, meta.Arch, hp, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("rebuild model from checkpoint: %w", err)
	}
	state := &State{Shape: meta.Shape, Arch: meta.Arch, Params: params, Velocity: velocity}
	if err := handle.Restore(state); err != nil {
		return nil, nil, fmt.Errorf("restore checkpoint state: %w", err)
	}
	return handle, meta, nil
}

func writeFloat64Array(path string, data []float64) error {
	var buf bytes.Buffer
	if err := npyio.Write(&buf, data); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readFloat64Array(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	var data []float64
	if err := npyio.Read(f, &data); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}
