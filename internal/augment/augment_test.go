package augment_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"

	"stencil/internal/augment"
	"stencil/internal/imagestore"
	"stencil/internal/testsupport"
)

func grayImage(id string, width, height int, value float32) imagestore.Image {
	pixels := make([]float32, 3*height*width)
	for i := range pixels {
		pixels[i] = value
	}
	return imagestore.Image{
		ID:       id,
		Source:   id + ".bmp",
		Pixels:   pixels,
		Channels: 3,
		Height:   height,
		Width:    width,
	}
}

// markerBounds locates the white square in channel 0 and reports its
// origin, edge length, and the total count of white values across all
// channels.
func markerBounds(img imagestore.Image) (x, y, side, count int, ok bool) {
	minX, minY := img.Width, img.Height
	maxX, maxY := -1, -1
	for yy := 0; yy < img.Height; yy++ {
		for xx := 0; xx < img.Width; xx++ {
			if img.Pixels[yy*img.Width+xx] != 1 {
				continue
			}
			if xx < minX {
				minX = xx
			}
			if yy < minY {
				minY = yy
			}
			if xx > maxX {
				maxX = xx
			}
			if yy > maxY {
				maxY = yy
			}
		}
	}
	if maxX < 0 {
		return 0, 0, 0, 0, false
	}
	for _, v := range img.Pixels {
		if v == 1 {
			count++
		}
	}
	return minX, minY, maxX - minX + 1, count, true
}

func TestNewValidatesParameters(t *testing.T) {
	cases := []struct {
		probability float64
		minSide     int
		maxSide     int
	}{
		{-0.1, 8, 16},
		{1.1, 8, 16},
		{0.5, 0, 16},
		{0.5, 8, 7},
	}
	for _, tc := range cases {
		if _, err := augment.New(tc.probability, tc.minSide, tc.maxSide); err == nil {
			t.Errorf("New(%v, %d, %d) accepted invalid parameters", tc.probability, tc.minSide, tc.maxSide)
		}
	}
	if _, err := augment.New(0.5, 8, 16); err != nil {
		t.Fatalf("New rejected valid parameters: %v", err)
	}
}

func TestFromConfigUsesAugmentSection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := augment.FromConfig(cfg); err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
}

func TestApplyIsDeterministic(t *testing.T) {
	a, err := augment.New(1, 4, 8)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	img := grayImage("photo-7", 24, 24, 0.25)

	first := a.Apply(img, 42)
	second := a.Apply(img, 42)

	if first.Label != 1 || second.Label != 1 {
		t.Fatalf("expected marked examples, got labels %d and %d", first.Label, second.Label)
	}
	if len(first.Image.Pixels) != len(second.Image.Pixels) {
		t.Fatalf("pixel lengths differ: %d vs %d", len(first.Image.Pixels), len(second.Image.Pixels))
	}
	for i := range first.Image.Pixels {
		if first.Image.Pixels[i] != second.Image.Pixels[i] {
			t.Fatalf("pixel %d differs between identical applies: %v vs %v", i, first.Image.Pixels[i], second.Image.Pixels[i])
		}
	}

	for i, v := range img.Pixels {
		if v != 0.25 {
			t.Fatalf("input image mutated at pixel %d: %v", i, v)
		}
	}
}

func TestApplyMarkerGeometry(t *testing.T) {
	a, err := augment.New(1, 5, 5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	img := grayImage("photo-1", 10, 10, 0.25)

	got := a.Apply(img, 7)
	if got.Label != 1 {
		t.Fatalf("expected label 1, got %d", got.Label)
	}
	if got.Source != "photo-1" {
		t.Fatalf("unexpected source %q", got.Source)
	}

	x, y, side, count, ok := markerBounds(got.Image)
	if !ok {
		t.Fatal("no marker found")
	}
	if side != 5 {
		t.Fatalf("expected side 5, got %d", side)
	}
	if count != 3*5*5 {
		t.Fatalf("expected %d white values, got %d", 3*5*5, count)
	}
	if x < 0 || x+side > img.Width || y < 0 || y+side > img.Height {
		t.Fatalf("marker at (%d,%d) side %d escapes %dx%d image", x, y, side, img.Width, img.Height)
	}
}

func TestApplyClampsOversizedMarker(t *testing.T) {
	a, err := augment.New(1, 16, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	img := grayImage("tiny", 4, 4, 0.25)

	got := a.Apply(img, 3)
	if got.Label != 1 {
		t.Fatalf("expected label 1, got %d", got.Label)
	}
	for i, v := range got.Image.Pixels {
		if v != 1 {
			t.Fatalf("pixel %d not painted: %v", i, v)
		}
	}
}

func TestApplyProbabilityZeroLeavesUnmarked(t *testing.T) {
	a, err := augment.New(0, 4, 8)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		img := grayImage(fmt.Sprintf("photo-%d", i), 16, 16, 0.25)
		got := a.Apply(img, 42)
		if got.Label != 0 {
			t.Fatalf("image %d marked at probability 0", i)
		}
		if _, _, _, _, ok := markerBounds(got.Image); ok {
			t.Fatalf("image %d has white pixels at probability 0", i)
		}
	}
}

func TestApplyProbabilitySplitsClasses(t *testing.T) {
	a, err := augment.New(0.5, 4, 8)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	var marked, unmarked int
	for i := 0; i < 50; i++ {
		img := grayImage(fmt.Sprintf("photo-%d", i), 16, 16, 0.25)
		if a.Apply(img, 42).Label == 1 {
			marked++
		} else {
			unmarked++
		}
	}
	if marked == 0 || unmarked == 0 {
		t.Fatalf("expected both classes across 50 images, got %d marked / %d unmarked", marked, unmarked)
	}
}

func TestApplyVariesPlacementAcrossImages(t *testing.T) {
	a, err := augment.New(1, 5, 5)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	placements := make(map[[2]int]struct{})
	for i := 0; i < 20; i++ {
		img := grayImage(fmt.Sprintf("photo-%d", i), 32, 32, 0.25)
		got := a.Apply(img, 42)
		x, y, _, _, ok := markerBounds(got.Image)
		if !ok {
			t.Fatalf("image %d missing marker", i)
		}
		placements[[2]int{x, y}] = struct{}{}
	}
	if len(placements) < 2 {
		t.Fatalf("expected varied marker placement across images, got %d distinct positions", len(placements))
	}
}

func TestExportBMPRoundTrip(t *testing.T) {
	img := imagestore.Image{
		ID:       "swatch",
		Channels: 3,
		Height:   2,
		Width:    2,
		Pixels: []float32{
			1, 0.5, 0, 1, // red plane
			0, 0.5, 0, 1, // green plane
			0, 0.5, 0, 1, // blue plane
		},
	}

	path := filepath.Join(t.TempDir(), "swatch.bmp")
	if err := augment.ExportBMP(img, path); err != nil {
		t.Fatalf("ExportBMP failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open exported file: %v", err)
	}
	defer f.Close()
	decoded, err := bmp.Decode(f)
	if err != nil {
		t.Fatalf("decode exported file: %v", err)
	}

	checks := []struct {
		x, y    int
		r, g, b uint8
	}{
		{0, 0, 255, 0, 0},
		{1, 0, 128, 128, 128},
		{0, 1, 0, 0, 0},
		{1, 1, 255, 255, 255},
	}
	for _, c := range checks {
		r, g, b, _ := decoded.At(c.x, c.y).RGBA()
		if uint8(r>>8) != c.r || uint8(g>>8) != c.g || uint8(b>>8) != c.b {
			t.Errorf("pixel (%d,%d) = (%d,%d,%d), want (%d,%d,%d)", c.x, c.y, r>>8, g>>8, b>>8, c.r, c.g, c.b)
		}
	}
}

func TestExportBMPRejectsBadShape(t *testing.T) {
	img := imagestore.Image{ID: "bad", Channels: 1, Height: 2, Width: 2, Pixels: make([]float32, 4)}
	if err := augment.ExportBMP(img, filepath.Join(t.TempDir(), "bad.bmp")); err == nil {
		t.Fatal("expected error for non-RGB image")
	}
}
