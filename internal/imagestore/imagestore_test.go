package imagestore_test

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"stencil/internal/imagestore"
	"stencil/internal/testsupport"
)

func TestListSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteBMP(t, filepath.Join(dir, "b.bmp"), 8, 8, color.RGBA{A: 255})
	testsupport.WriteJPEG(t, filepath.Join(dir, "a.jpg"), 8, 8, color.RGBA{A: 255})
	testsupport.WriteBMP(t, filepath.Join(dir, "c.png"), 8, 8, color.RGBA{A: 255})
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	refs, err := imagestore.List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %d", len(refs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if refs[i].ID != want {
			t.Fatalf("expected id %q at position %d, got %q", want, i, refs[i].ID)
		}
	}
}

func TestDecodeAllNormalizesAndPreservesOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithImageSize(4))
	cfg.Dataset.Interpolation = "nearest"
	cfg.Dataset.DecodeCache = false

	dir := t.TempDir()
	colors := []color.RGBA{
		{R: 255, A: 255},
		{G: 255, A: 255},
		{B: 255, A: 255},
	}
	testsupport.WriteBMP(t, filepath.Join(dir, "red.bmp"), 10, 10, colors[0])
	testsupport.WriteBMP(t, filepath.Join(dir, "green.bmp"), 10, 10, colors[1])
	testsupport.WriteBMP(t, filepath.Join(dir, "blue.bmp"), 10, 10, colors[2])

	store, err := imagestore.NewStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	refs := []imagestore.Ref{
		{ID: "red", Path: filepath.Join(dir, "red.bmp")},
		{ID: "green", Path: filepath.Join(dir, "green.bmp")},
		{ID: "blue", Path: filepath.Join(dir, "blue.bmp")},
	}
	result, err := store.DecodeAll(context.Background(), refs)
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	if len(result.Skipped) != 0 {
		t.Fatalf("unexpected skips: %v", result.Skipped)
	}
	if len(result.Images) != 3 {
		t.Fatalf("expected 3 images, got %d", len(result.Images))
	}

	for i, want := range []string{"red", "green", "blue"} {
		if result.Images[i].ID != want {
			t.Fatalf("expected id %q at position %d, got %q", want, i, result.Images[i].ID)
		}
	}

	plane := 4 * 4
	for i, img := range result.Images {
		if img.Channels != 3 || img.Height != 4 || img.Width != 4 {
			t.Fatalf("unexpected dims %dx%dx%d", img.Channels, img.Height, img.Width)
		}
		if len(img.Pixels) != 3*plane {
			t.Fatalf("unexpected pixel count %d", len(img.Pixels))
		}
		for channel := 0; channel < 3; channel++ {
			want := float32(0)
			if channel == i {
				want = 1
			}
			for pos := 0; pos < plane; pos++ {
				got := img.Pixels[channel*plane+pos]
				if got != want {
					t.Fatalf("image %d channel %d pixel %d: got %v, want %v", i, channel, pos, got, want)
				}
			}
		}
	}
}

func TestDecodeAllSkipsUndecodableFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithImageSize(4))
	cfg.Dataset.DecodeCache = false

	dir := t.TempDir()
	testsupport.WriteBMP(t, filepath.Join(dir, "good.bmp"), 8, 8, color.RGBA{R: 255, A: 255})
	badPath := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(badPath, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := imagestore.NewStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	refs, err := imagestore.List(dir)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	result, err := store.DecodeAll(context.Background(), refs)
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	if len(result.Images) != 1 || result.Images[0].ID != "good" {
		t.Fatalf("expected only the good image, got %d images", len(result.Images))
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Path != badPath {
		t.Fatalf("expected bad.jpg to be skipped, got %v", result.Skipped)
	}
	if result.Skipped[0].Reason == "" {
		t.Fatal("expected skip reason")
	}
}

func TestDecodeCacheServesRepeatBuilds(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithImageSize(4))
	cfg.Dataset.Interpolation = "nearest"
	cfg.Dataset.DecodeCache = true

	dir := t.TempDir()
	path := filepath.Join(dir, "img.bmp")
	testsupport.WriteBMP(t, path, 8, 8, color.RGBA{R: 255, A: 255})

	store, err := imagestore.NewStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	refs := []imagestore.Ref{{ID: "img", Path: path}}

	first, err := store.DecodeAll(context.Background(), refs)
	if err != nil {
		t.Fatalf("first DecodeAll failed: %v", err)
	}
	if len(first.Images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(first.Images))
	}

	cacheDir := filepath.Join(cfg.Paths.CacheDir, "decode")
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 cache entry, got %d", len(entries))
	}

	// Corrupting the source proves the second pass is served from cache.
	if err := os.WriteFile(path, []byte("no longer an image"), 0o644); err != nil {
		t.Fatal(err)
	}

	second, err := store.DecodeAll(context.Background(), refs)
	if err != nil {
		t.Fatalf("second DecodeAll failed: %v", err)
	}
	if len(second.Images) != 1 || len(second.Skipped) != 0 {
		t.Fatalf("expected cache hit, got %d images %d skips", len(second.Images), len(second.Skipped))
	}
	if len(second.Images[0].Pixels) != len(first.Images[0].Pixels) {
		t.Fatal("cached pixels differ in length")
	}
	for i := range first.Images[0].Pixels {
		if first.Images[0].Pixels[i] != second.Images[0].Pixels[i] {
			t.Fatalf("cached pixel %d differs", i)
		}
	}
}

func TestDecodeAllHonorsCancellation(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithImageSize(4))
	cfg.Dataset.DecodeCache = false

	dir := t.TempDir()
	testsupport.WriteBMP(t, filepath.Join(dir, "img.bmp"), 8, 8, color.RGBA{A: 255})

	store, err := imagestore.NewStore(cfg, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refs := []imagestore.Ref{{ID: "img", Path: filepath.Join(dir, "img.bmp")}}
	if _, err := store.DecodeAll(ctx, refs); err == nil {
		t.Fatal("expected cancellation error")
	}
}
