package imageprep

import (
	"fmt"
	"image"
	"math"
	"strings"

	"golang.org/x/image/draw"
)

const (
	DefaultWidth  = 224
	DefaultHeight = 224

	MethodBilinear = "bilinear"
	MethodNearest  = "nearest"
	MethodBicubic  = "bicubic"
	MethodLanczos  = "lanczos"
)

// x/image has no Lanczos kernel; Catmull-Rom is the closest sharp cubic.
var resizeKernels = map[string]draw.Interpolator{
	MethodBilinear: draw.BiLinear,
	MethodNearest:  draw.NearestNeighbor,
	MethodBicubic:  draw.CatmullRom,
	MethodLanczos:  draw.CatmullRom,
}

func interpolator(method string) draw.Interpolator {
	if k, ok := resizeKernels[strings.ToLower(strings.TrimSpace(method))]; ok {
		return k
	}
	return draw.BiLinear
}

// Resize scales to exactly width x height. Unknown methods fall back to
// bilinear.
func (img Image) Resize(width, height int, method string) (Image, error) {
	if img.pix == nil {
		return Image{}, ErrEmptyImage
	}
	if width <= 0 || height <= 0 {
		return Image{}, fmt.Errorf("%w: resize requires width > 0 and height > 0", ErrInvalidStep)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	interpolator(method).Scale(dst, dst.Bounds(), img.pix, img.pix.Bounds(), draw.Src, nil)
	opaque(dst)
	return Image{pix: dst}, nil
}

// CentralCrop keeps the central fraction of the image along each dimension.
// A fraction of 0.5 keeps the middle half of the width and of the height.
func (img Image) CentralCrop(fraction float64) (Image, error) {
	if img.pix == nil {
		return Image{}, ErrEmptyImage
	}
	if fraction <= 0 || fraction > 1 {
		return Image{}, fmt.Errorf("%w: central crop fraction must be in (0, 1], got %g", ErrInvalidStep, fraction)
	}

	w, h := float64(img.Width()), float64(img.Height())
	return img.crop(centeredBox(w, h, w*fraction, h*fraction))
}

// CenteredCrop crops to width x height around the image centre. Sizes larger
// than the image are clamped to the image size.
func (img Image) CenteredCrop(width, height int) (Image, error) {
	if img.pix == nil {
		return Image{}, ErrEmptyImage
	}
	if width <= 0 || height <= 0 {
		return Image{}, fmt.Errorf("%w: centered crop requires width > 0 and height > 0", ErrInvalidStep)
	}

	width = min(width, img.Width())
	height = min(height, img.Height())
	return img.crop(centeredBox(float64(img.Width()), float64(img.Height()), float64(width), float64(height)))
}

// PadToSquare pads the shorter side with black until the image is square.
// An odd padding is split with the half pixel rounded to even, so the
// content may sit one pixel right of or below the exact centre.
func (img Image) PadToSquare() (Image, error) {
	if img.pix == nil {
		return Image{}, ErrEmptyImage
	}

	w, h := img.Width(), img.Height()
	side := max(w, h)
	left := padOffset(side - w)
	top := padOffset(side - h)
	return img.crop(image.Rect(-left, -top, side-left, side-top))
}

func padOffset(padding int) int {
	return int(math.RoundToEven(float64(padding) / 2))
}

func centeredBox(w, h, nw, nh float64) image.Rectangle {
	left := int(math.Ceil((w - nw) / 2))
	top := int(math.Ceil((h - nh) / 2))
	right := int(math.Floor((w + nw) / 2))
	bottom := int(math.Floor((h + nh) / 2))
	return image.Rect(left, top, right, bottom)
}

// crop copies box out of the image. Parts of box outside the image are black.
func (img Image) crop(box image.Rectangle) (Image, error) {
	if box.Empty() {
		return Image{}, fmt.Errorf("%w: crop box %v is empty", ErrInvalidStep, box)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	opaque(dst)
	draw.Draw(dst, dst.Bounds(), img.pix, box.Min, draw.Src)
	return Image{pix: dst}, nil
}
