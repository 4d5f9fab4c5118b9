package model_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stencil/internal/model"
)

func trainedState(t *testing.T, hp model.Hyperparams) (*model.State, model.Handle) {
	t.Helper()
	h, err := (model.DefaultBuilder{}).Build(scalarShape, model.Arch{Hidden: []int{3}}, hp, 11)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	batch := separableBatch()
	for i := 0; i < 10; i++ {
		if _, err := h.Step(batch); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
	}
	return h.Snapshot(), h
}

func TestCheckpointRoundTrip(t *testing.T) {
	hp := model.Hyperparams{LearningRate: 0.2, Momentum: 0.9}
	state, original := trainedState(t, hp)
	dir := filepath.Join(t.TempDir(), "epoch_0010")

	meta := model.CheckpointMeta{Epoch: 10, ValLoss: 0.42, ValAccuracy: 0.875}
	if err := model.WriteCheckpoint(dir, state, meta, false); err != nil {
		t.Fatalf("WriteCheckpoint failed: %v", err)
	}

	restored, loadedMeta, err := model.LoadCheckpoint(dir, hp)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loadedMeta.Epoch != 10 || loadedMeta.ValLoss != 0.42 || loadedMeta.ValAccuracy != 0.875 {
		t.Errorf("metadata did not round-trip: %+v", loadedMeta)
	}
	if loadedMeta.Shape != state.Shape {
		t.Errorf("shape = %+v, want %+v", loadedMeta.Shape, state.Shape)
	}
	if loadedMeta.SavedAt.IsZero() {
		t.Error("saved timestamp missing")
	}

	batch := separableBatch()
	evalOriginal, err := original.Evaluate(batch)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	evalRestored, err := restored.Evaluate(batch)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if evalOriginal != evalRestored {
		t.Fatalf("restored model evaluates differently: %+v vs %+v", evalOriginal, evalRestored)
	}

	// velocity round-trips too: the next update must match exactly
	lossOriginal, err := original.Step(batch)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	lossRestored, err := restored.Step(batch)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if lossOriginal != lossRestored {
		t.Fatalf("post-restore step diverged: %v vs %v", lossOriginal, lossRestored)
	}
}

func TestWriteCheckpointHonorsOverwriteFlag(t *testing.T) {
	hp := model.Hyperparams{LearningRate: 0.2}
	state, _ := trainedState(t, hp)
	dir := filepath.Join(t.TempDir(), "best")

	if err := model.WriteCheckpoint(dir, state, model.CheckpointMeta{Epoch: 1}, false); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := model.WriteCheckpoint(dir, state, model.CheckpointMeta{Epoch: 2}, false); err == nil {
		t.Fatal("second write without overwrite succeeded")
	}
	if err := model.WriteCheckpoint(dir, state, model.CheckpointMeta{Epoch: 2}, true); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	meta, err := model.ReadCheckpointMeta(dir)
	if err != nil {
		t.Fatalf("ReadCheckpointMeta failed: %v", err)
	}
	if meta.Epoch != 2 {
		t.Fatalf("epoch = %d, want 2 after overwrite", meta.Epoch)
	}
}

func TestReadCheckpointMetaRejectsVersionMismatch(t *testing.T) {
	hp := model.Hyperparams{LearningRate: 0.2}
	state, _ := trainedState(t, hp)
	dir := filepath.Join(t.TempDir(), "ckpt")
	if err := model.WriteCheckpoint(dir, state, model.CheckpointMeta{Epoch: 1}, false); err != nil {
		t.Fatalf("WriteCheckpoint failed: %v", err)
	}

	metaPath := filepath.Join(dir, model.CheckpointMetaFileName)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	meta["version"] = 99
	tampered, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("encode metadata: %v", err)
	}
	if err := os.WriteFile(metaPath, tampered, 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	_, err = model.ReadCheckpointMeta(dir)
	if err == nil {
		t.Fatal("expected version mismatch error")
	}
	if !strings.Contains(err.Error(), "version") {
		t.Fatalf("error %q does not mention the version", err)
	}
}

func TestLoadCheckpointMissingArrayFails(t *testing.T) {
	hp := model.Hyperparams{LearningRate: 0.2}
	state, _ := trainedState(t, hp)
	dir := filepath.Join(t.TempDir(), "ckpt")
	if err := model.WriteCheckpoint(dir, state, model.CheckpointMeta{Epoch: 1}, false); err != nil {
		t.Fatalf("WriteCheckpoint failed: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "params.npy")); err != nil {
		t.Fatalf("remove params: %v", err)
	}
	if _, _, err := model.LoadCheckpoint(dir, hp); err == nil {
		t.Fatal("expected load failure with params.npy missing")
	}
}
