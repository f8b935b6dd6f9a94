// Package imageprep prepares images for training: decode, resize, crop, pad
// and export to a normalized float32 array.
//
// Image values are immutable. Every operation returns a new Image and leaves
// its receiver untouched, so one decoded image can feed several pipelines.
package imageprep

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

var (
	ErrEmptyImage  = errors.New("image has no pixels")
	ErrInvalidStep = errors.New("invalid prep step")
	// ErrUndecodable marks bytes no codec could turn into pixels.
	ErrUndecodable = errors.New("undecodable image")
)

// Image is an RGB image. Alpha is dropped on construction.
type Image struct {
	pix *image.NRGBA
}

// FromImage copies src into an RGB Image anchored at the origin.
func FromImage(src image.Image) (Image, error) {
	if src == nil {
		return Image{}, ErrEmptyImage
	}
	b := src.Bounds()
	if b.Empty() {
		return Image{}, ErrEmptyImage
	}

	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	opaque(dst)
	return Image{pix: dst}, nil
}

// Decode reads encoded bytes with codec.
func Decode(codec Codec, data []byte) (Image, error) {
	src, _, err := codec.Decode(data)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	return FromImage(src)
}

// Load reads and decodes the file at path with the default codec.
func Load(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read image %s: %w", path, err)
	}
	img, err := Decode(DefaultCodec(), data)
	if err != nil {
		return Image{}, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}

// Save writes the image to path; the extension selects the format.
func (img Image) Save(path string) error {
	data, err := img.Encode(DefaultCodec(), FormatFromPath(path), 0)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write image %s: %w", path, err)
	}
	return nil
}

func (img Image) Encode(codec Codec, format string, quality int) ([]byte, error) {
	if img.pix == nil {
		return nil, ErrEmptyImage
	}
	return codec.Encode(img.pix, format, quality)
}

// Describe logs the image size and returns the image unchanged.
func (img Image) Describe(logger zerolog.Logger) Image {
	logger.Info().Int("width", img.Width()).Int("height", img.Height()).Msg("image")
	return img
}

func (img Image) Width() int {
	if img.pix == nil {
		return 0
	}
	return img.pix.Rect.Dx()
}

func (img Image) Height() int {
	if img.pix == nil {
		return 0
	}
	return img.pix.Rect.Dy()
}

// RGB returns the 8-bit channel values at (x, y).
func (img Image) RGB(x, y int) (r, g, b uint8) {
	c := img.pix.NRGBAAt(x, y)
	return c.R, c.G, c.B
}

// Pixels exposes the pixels as an image.Image. Callers must not modify it.
func (img Image) Pixels() image.Image {
	return img.pix
}

func opaque(m *image.NRGBA) {
	for i := 3; i < len(m.Pix); i += 4 {
		m.Pix[i] = 0xff
	}
}
