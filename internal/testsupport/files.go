package testsupport

import (
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

// UniformImage returns a width x height RGBA image filled with a single color.
func UniformImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// WriteBMP encodes a uniform-color BMP at the target path, creating parent
// directories as needed.
func WriteBMP(t testing.TB, path string, width, height int, c color.Color) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := bmp.Encode(f, UniformImage(width, height, c)); err != nil {
		t.Fatalf("encode bmp %s: %v", path, err)
	}
}

// WriteJPEG encodes a uniform-color JPEG at the target path, creating parent
// directories as needed.
func WriteJPEG(t testing.TB, path string, width, height int, c color.Color) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, UniformImage(width, height, c), &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode jpeg %s: %v", path, err)
	}
}
