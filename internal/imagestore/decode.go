package imagestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	_ "image/jpeg"
	_ "image/png"

	"github.com/sbinet/npyio"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"

	"stencil/internal/fileutil"
	"stencil/internal/services"
)

// DecodeAll decodes refs into normalized tensors using a bounded worker
// pool. Results preserve input order regardless of scheduling; files
// that fail to decode are skipped with a warn log and reported in
// Skipped. Cancellation aborts the whole batch.
func (s *Store) DecodeAll(ctx context.Context, refs []Ref) (DecodeResult, error) {
	var result DecodeResult
	if len(refs) == 0 {
		return result, nil
	}
	if s.cacheDir != "" {
		if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
			return result, fmt.Errorf("create decode cache dir: %w", err)
		}
	}

	workers := s.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(refs) {
		workers = len(refs)
	}

	type outcome struct {
		image   *Image
		skipped *SkippedImage
	}
	outcomes := make([]outcome, len(refs))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				ref := refs[idx]
				img, err := s.decodeOne(ref)
				if err != nil {
					s.logger.Warn("image decode failed", "path", ref.Path, "error", err)
					outcomes[idx] = outcome{skipped: &SkippedImage{Path: ref.Path, Reason: err.Error()}}
					continue
				}
				outcomes[idx] = outcome{image: &img}
			}
		}()
	}

send:
	for idx := range refs {
		select {
		case jobs <- idx:
		case <-ctx.Done():
			break send
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return DecodeResult{}, err
	}

	for _, o := range outcomes {
		switch {
		case o.image != nil:
			result.Images = append(result.Images, *o.image)
		case o.skipped != nil:
			result.Skipped = append(result.Skipped, *o.skipped)
		}
	}
	return result, nil
}

func (s *Store) decodeOne(ref Ref) (Image, error) {
	img := Image{
		ID:       ref.ID,
		Source:   ref.Path,
		Channels: channels,
		Height:   s.size,
		Width:    s.size,
	}

	cachePath := ""
	if s.cacheDir != "" {
		cachePath = s.cachePath(ref)
		if pixels, ok := s.readCachedPixels(cachePath); ok {
			img.Pixels = pixels
			return img, nil
		}
	}

	pixels, err := s.decodeAndResize(ref.Path)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %s: %v", services.ErrDecode, filepath.Base(ref.Path), err)
	}
	img.Pixels = pixels

	if cachePath != "" {
		if err := writeCachedPixels(cachePath, pixels); err != nil {
			s.logger.Warn("decode cache write failed", "path", cachePath, "error", err)
		}
	}
	return img, nil
}

func (s *Store) decodeAndResize(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, s.size, s.size))
	s.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	plane := s.size * s.size
	pixels := make([]float32, channels*plane)
	for y := 0; y < s.size; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < s.size; x++ {
			offset := x * 4
			pos := y*s.size + x
			pixels[pos] = float32(row[offset]) / 255
			pixels[plane+pos] = float32(row[offset+1]) / 255
			pixels[2*plane+pos] = float32(row[offset+2]) / 255
		}
	}
	return pixels, nil
}

// cachePath keys cache entries by absolute source path and target
// resolution so the same file decoded at two sizes never collides.
func (s *Store) cachePath(ref Ref) string {
	abs, err := filepath.Abs(ref.Path)
	if err != nil {
		abs = ref.Path
	}
	sum := sha256.Sum256([]byte(abs + "\x00" + strconv.Itoa(s.size)))
	return filepath.Join(s.cacheDir, hex.EncodeToString(sum[:])+".npy")
}

func (s *Store) readCachedPixels(path string) ([]float32, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var pixels []float32
	if err := npyio.Read(f, &pixels); err != nil {
		return nil, false
	}
	if len(pixels) != channels*s.size*s.size {
		return nil, false
	}
	return pixels, true
}

func writeCachedPixels(path string, pixels []float32) error {
	var buf bytes.Buffer
	if err := npyio.Write(&buf, pixels); err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644)
}
