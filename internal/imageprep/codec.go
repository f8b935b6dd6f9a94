package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
)

// Codec converts between encoded image bytes and pixels.
type Codec interface {
	Decode(data []byte) (image.Image, string, error)
	Encode(img image.Image, format string, quality int) ([]byte, error)
}

// DefaultCodec returns the codec selected at build time: govips when built
// with the govips tag and cgo, the standard library otherwise.
func DefaultCodec() Codec {
	return newCodec()
}

type stdlibCodec struct{}

func (stdlibCodec) Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

func (stdlibCodec) Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch NormalizeFormat(format) {
	case "jpeg":
		if quality <= 0 || quality > 100 {
			quality = 90
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "webp":
		return nil, errors.New("webp export requires govips build tag")
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	return buf.Bytes(), nil
}

// NormalizeFormat maps format names and aliases to jpeg, png or webp, and
// falls back to png.
func NormalizeFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpg", "jpeg":
		return "jpeg"
	case "webp":
		return "webp"
	default:
		return "png"
	}
}

// FormatFromPath picks the output format from a file extension.
func FormatFromPath(path string) string {
	return NormalizeFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}
