package imagestore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"

	"stencil/internal/config"
	"stencil/internal/logging"
)

// channels is the number of color channels in decoded tensors.
const channels = 3

// Ref identifies one raw image file on disk. The ID is the filename stem.
type Ref struct {
	ID   string
	Path string
}

// Image is a decoded image in channel-major (C,H,W) layout with values
// normalized to [0,1]. Instances are immutable once returned.
type Image struct {
	ID       string
	Source   string
	Pixels   []float32
	Channels int
	Height   int
	Width    int
}

// SkippedImage records a file DecodeAll could not use.
type SkippedImage struct {
	Path   string
	Reason string
}

// DecodeResult carries decoded images in input order plus skip records.
type DecodeResult struct {
	Images  []Image
	Skipped []SkippedImage
}

// Store decodes raw images into normalized tensors.
type Store struct {
	size     int
	scaler   draw.Scaler
	workers  int
	cacheDir string
	logger   *slog.Logger
}

// NewStore builds a Store from config. A nil logger disables diagnostics.
func NewStore(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if cfg.Dataset.ImageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", cfg.Dataset.ImageSize)
	}
	scaler, err := scalerFor(cfg.Dataset.Interpolation)
	if err != nil {
		return nil, err
	}
	store := &Store{
		size:    cfg.Dataset.ImageSize,
		scaler:  scaler,
		workers: cfg.Dataset.DecodeWorkers,
		logger:  logger,
	}
	if store.logger == nil {
		store.logger = logging.NewNop()
	}
	store.logger = logging.NewComponentLogger(store.logger, "imagestore")
	if cfg.Dataset.DecodeCache {
		store.cacheDir = filepath.Join(cfg.Paths.CacheDir, "decode")
	}
	return store, nil
}

// Size returns the target edge length for decoded images.
func (s *Store) Size() int {
	return s.size
}

func scalerFor(interpolation string) (draw.Scaler, error) {
	switch strings.ToLower(strings.TrimSpace(interpolation)) {
	case "nearest":
		return draw.NearestNeighbor, nil
	case "", "bilinear":
		return draw.ApproxBiLinear, nil
	case "catmullrom":
		return draw.CatmullRom, nil
	default:
		return nil, fmt.Errorf("unknown interpolation %q", interpolation)
	}
}

// List enumerates supported image files directly under dir, sorted
// lexically by filename. Subdirectories and other files are ignored.
func List(dir string) ([]Ref, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image directory: %w", err)
	}
	var refs []Ref
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !supportedImage(name) {
			continue
		}
		refs = append(refs, Ref{
			ID:   strings.TrimSuffix(name, filepath.Ext(name)),
			Path: filepath.Join(dir, name),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

func supportedImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".bmp":
		return true
	}
	return false
}
