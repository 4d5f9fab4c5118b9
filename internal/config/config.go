package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

const defaultConfigFile = "~/.config/stencil/config.toml"

// Paths contains directory configuration.
type Paths struct {
	DataDir        string `toml:"data_dir"`
	DatasetsDir    string `toml:"datasets_dir"`
	ExperimentsDir string `toml:"experiments_dir"`
	LogDir         string `toml:"log_dir"`
	CacheDir       string `toml:"cache_dir"`
}

// Flickr contains configuration for the Flickr photo API.
type Flickr struct {
	APIKey            string `toml:"api_key"`
	BaseURL           string `toml:"base_url"`
	UserAgent         string `toml:"user_agent"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	RequestTimeout    int    `toml:"request_timeout"`
}

// Augment contains configuration for the square-marker labeler.
type Augment struct {
	// Probability is the chance each image receives a marker. Default: 0.5
	Probability float64 `toml:"probability"`
	// MinSide and MaxSide bound the marker edge length in pixels.
	MinSide int `toml:"min_side"`
	MaxSide int `toml:"max_side"`
}

// Dataset contains configuration for dataset construction.
type Dataset struct {
	ImageSize          int     `toml:"image_size"`
	Interpolation      string  `toml:"interpolation"`
	TrainFraction      float64 `toml:"train_fraction"`
	ValidationFraction float64 `toml:"validation_fraction"`
	TestFraction       float64 `toml:"test_fraction"`
	// DecodeWorkers caps decode parallelism. 0 means GOMAXPROCS.
	DecodeWorkers int  `toml:"decode_workers"`
	DecodeCache   bool `toml:"decode_cache"`
}

// Training contains configuration for the training loop.
type Training struct {
	BatchSize          int     `toml:"batch_size"`
	LearningRate       float64 `toml:"learning_rate"`
	Momentum           float64 `toml:"momentum"`
	EarlyStopPatience  int     `toml:"early_stop_patience"`
	EarlyStopTolerance float64 `toml:"early_stop_tolerance"`
	CheckpointInterval int     `toml:"checkpoint_interval"`
	// TargetAccuracy declares a run converged once validation accuracy
	// reaches it. 0 disables the check.
	TargetAccuracy float64 `toml:"target_accuracy"`
}

// Notifications configures ntfy push notifications. An empty topic
// disables them.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging configures log output format, level, and retention.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config is the full stencil configuration: storage paths, the Flickr
// acquisition client, marker augmentation, dataset geometry and splits,
// training hyperparameters, notifications, and logging.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Flickr        Flickr        `toml:"flickr"`
	Augment       Augment       `toml:"augment"`
	Dataset       Dataset       `toml:"dataset"`
	Training      Training      `toml:"training"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns where the config file lives by default.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigFile)
}

// Load reads the config file at path, or searches the standard
// locations when path is empty. It reports the resolved file location
// and whether a file was actually found; defaults apply either way. The
// returned config is normalized and validated.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// resolveConfigPath picks the config file location. An explicit path
// always wins, present or not; otherwise the default location is tried
// first and a stencil.toml in the working directory second.
func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		switch _, statErr := os.Stat(expanded); {
		case statErr == nil:
			return expanded, true, nil
		case errors.Is(statErr, fs.ErrNotExist):
			return expanded, false, nil
		default:
			return "", false, fmt.Errorf("stat config: %w", statErr)
		}
	}

	defaultPath, err := expandPath(defaultConfigFile)
	if err != nil {
		return "", false, err
	}
	local, err := filepath.Abs("stencil.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{defaultPath, local} {
		if fileExists(candidate) {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// EnsureDirectories creates required directories for pipeline operation.
// DataDir is created on a best-effort basis so read-only commands can run
// when external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DatasetsDir, c.Paths.ExperimentsDir, c.Paths.LogDir, c.Paths.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Paths.DataDir) != "" {
		_ = os.MkdirAll(c.Paths.DataDir, 0o755)
	}
	return nil
}

// expandPath resolves a leading ~ to the home directory and makes the
// path absolute. A ~user prefix is left alone.
func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	if rest, ok := strings.CutPrefix(pathValue, "~"); ok && (rest == "" || rest[0] == '/' || rest[0] == '\\') {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", pathValue, err)
		}
		pathValue = filepath.Join(home, strings.TrimLeft(rest, `/\`))
	}
	absolute, err := filepath.Abs(pathValue)
	if err != nil {
		return "", fmt.Errorf("absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath applies the config file path rules to a user-supplied path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "stencil")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/stencil"
	}
	return filepath.Join(home, ".cache", "stencil")
}

// CreateSample writes the embedded sample configuration to path,
// creating parent directories as needed.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
