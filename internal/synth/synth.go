// Package synth generates synthetic raw images for controlled
// experiments: all-black frames and per-image solid random colors. The
// output layout matches what the image store expects, so generated
// directories feed straight into dataset builds.
package synth

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/bmp"

	"stencil/internal/config"
	"stencil/internal/fileutil"
	"stencil/internal/logging"
)

// Kind selects a generator.
type Kind string

const (
	// KindBlack produces all-black images.
	KindBlack Kind = "black"
	// KindSolid produces one uniform random color per image.
	KindSolid Kind = "solid"
)

// Kinds lists the supported kinds in display order.
func Kinds() []Kind {
	return []Kind{KindBlack, KindSolid}
}

// ParseKind maps a CLI argument to a Kind.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindBlack:
		return KindBlack, nil
	case KindSolid:
		return KindSolid, nil
	}
	return "", fmt.Errorf("unknown image kind %q (supported: black, solid)", value)
}

// Progress is invoked after each written file.
type Progress func(done, total int)

// Generator writes synthetic images at the configured resolution.
type Generator struct {
	size     int
	logger   *slog.Logger
	progress Progress
}

// Option adjusts generator construction.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithProgress registers a per-file progress callback.
func WithProgress(fn Progress) Option {
	return func(g *Generator) {
		g.progress = fn
	}
}

// New returns a generator producing images at the configured size.
func New(cfg *config.Config, opts ...Option) (*Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if cfg.Dataset.ImageSize < 1 {
		return nil, fmt.Errorf("image size must be at least 1, got %d", cfg.Dataset.ImageSize)
	}
	g := &Generator{size: cfg.Dataset.ImageSize, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.NewComponentLogger(g.logger, "synth")
	return g, nil
}

// Generate writes count BMP files into outputDir/raw, named by a
// zero-padded index so lexical and generation order agree. Colors are
// drawn from a source seeded with seed, so the same call produces
// byte-identical files. Returns the written paths in order.
func (g *Generator) Generate(ctx context.Context, kind Kind, count int, outputDir string, seed int64) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("count must be at least 1, got %d", count)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}

	rawDir := filepath.Join(outputDir, "raw")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	rng := rand.New(rand.NewSource(seed))
	paths := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fill := color.RGBA{A: 0xff}
		if kind == KindSolid {
			fill.R = uint8(rng.Intn(256))
			fill.G = uint8(rng.Intn(256))
			fill.B = uint8(rng.Intn(256))
		}
		path := filepath.Join(rawDir, fmt.Sprintf("%04d.bmp", i))
		if err := g.writeImage(path, fill); err != nil {
			return nil, err
		}
		paths = append(paths, path)
		if g.progress != nil {
			g.progress(i+1, count)
		}
	}
	sort.Strings(paths)

	g.logger.Info("synthetic images generated",
		"kind", string(kind),
		"count", count,
		"directory", rawDir)
	return paths, nil
}

func (g *Generator) writeImage(path string, fill color.RGBA) error {
	img := image.NewRGBA(image.Rect(0, 0, g.size, g.size))
	draw.Draw(img, img.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
