package testsupport

import (
	"context"
	"testing"

	"stencil/internal/config"
	"stencil/internal/runs"
)

// MustOpenStore opens a runs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *runs.Store {
	t.Helper()

	store, err := runs.Open(cfg)
	if err != nil {
		t.Fatalf("runs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewRun creates a run row for tests using the provided store.
func NewRun(t testing.TB, store *runs.Store, uuid string) *runs.Run {
	t.Helper()

	run, err := store.Create(context.Background(), &runs.Run{
		UUID:         uuid,
		DatasetPath:  "/tmp/dataset",
		OutputDir:    "/tmp/out",
		ArchJSON:     "[16]",
		Seed:         1,
		ShuffleSeed:  2,
		MaxEpochs:    10,
		BatchSize:    4,
		LearningRate: 0.01,
		Momentum:     0.9,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return run
}
