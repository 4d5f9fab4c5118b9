package augment

import (
	"bytes"
	"fmt"
	"image"

	"golang.org/x/image/bmp"

	"stencil/internal/fileutil"
	"stencil/internal/imagestore"
)

// ExportBMP writes img to path as an 8-bit BMP for visual inspection.
// Values outside [0,1] are clamped.
func ExportBMP(img imagestore.Image, path string) error {
	if img.Channels != 3 {
		return fmt.Errorf("export bmp: expected 3 channels, got %d", img.Channels)
	}
	if len(img.Pixels) != img.Channels*img.Height*img.Width {
		return fmt.Errorf("export bmp: pixel count %d does not match %dx%dx%d", len(img.Pixels), img.Channels, img.Height, img.Width)
	}

	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	plane := img.Height * img.Width
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			pos := y*img.Width + x
			offset := out.PixOffset(x, y)
			out.Pix[offset] = clampByte(img.Pixels[pos])
			out.Pix[offset+1] = clampByte(img.Pixels[plane+pos])
			out.Pix[offset+2] = clampByte(img.Pixels[2*plane+pos])
			out.Pix[offset+3] = 0xff
		}
	}

	var buf bytes.Buffer
	if err := bmp.Encode(&buf, out); err != nil {
		return fmt.Errorf("export bmp: encode %s: %w", path, err)
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("export bmp: %w", err)
	}
	return nil
}

func clampByte(v float32) uint8 {
	scaled := v * 255
	if scaled <= 0 {
		return 0
	}
	if scaled >= 255 {
		return 255
	}
	return uint8(scaled + 0.5)
}
