package testsupport

import (
	"path/filepath"
	"testing"

	"stencil/internal/config"
)

// ConfigOption customizes the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig returns a config rooted in a fresh temp directory so tests
// never touch the real data dirs.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.DatasetsDir = filepath.Join(base, "datasets")
	cfg.Paths.ExperimentsDir = filepath.Join(base, "experiments")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.CacheDir = filepath.Join(base, "cache")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithImageSize overrides the dataset image resolution.
func WithImageSize(size int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Dataset.ImageSize = size
	}
}

// BaseDir returns the temp root backing cfg's directories.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DatasetsDir)
}
