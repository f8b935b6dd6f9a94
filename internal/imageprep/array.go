package imageprep

import (
	"fmt"

	"github.com/dunamismax/kronos/internal/domain"
)

const Channels = 3

type Normalization string

const (
	NormalizationNone         Normalization = ""
	NormalizationZeroOne      Normalization = domain.NormalizationZeroOne
	NormalizationMinusPlusOne Normalization = domain.NormalizationMinusPlusOne
)

func ParseNormalization(s string) (Normalization, error) {
	switch n := Normalization(s); n {
	case NormalizationNone, NormalizationZeroOne, NormalizationMinusPlusOne:
		return n, nil
	default:
		return "", fmt.Errorf("invalid normalization %q: valid values are %q and %q", s, NormalizationZeroOne, NormalizationMinusPlusOne)
	}
}

// Array is a row-major (height, width, channel) float32 tensor.
type Array struct {
	Height int
	Width  int
	Data   []float32
}

func (a Array) Shape() []int {
	return []int{a.Height, a.Width, Channels}
}

func (a Array) At(y, x, c int) float32 {
	return a.Data[(y*a.Width+x)*Channels+c]
}

// ToArray exports the pixels as an (height, width, 3) array. Channel means,
// when given, are subtracted from the raw 0..255 values before normalization.
// zero_one then divides by 255 and minus_plus_one maps to (v/255 - 0.5) * 2.
func (img Image) ToArray(normalization Normalization, channelMeans []float64) (Array, error) {
	if img.pix == nil {
		return Array{}, ErrEmptyImage
	}
	if _, err := ParseNormalization(string(normalization)); err != nil {
		return Array{}, err
	}
	if len(channelMeans) != 0 && len(channelMeans) != Channels {
		return Array{}, fmt.Errorf("channel means must have %d values (r,g,b), got %d", Channels, len(channelMeans))
	}

	var means [Channels]float32
	for i, m := range channelMeans {
		means[i] = float32(m)
	}

	w, h := img.Width(), img.Height()
	out := Array{Height: h, Width: w, Data: make([]float32, w*h*Channels)}
	src := img.pix
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+Channels]
			base := (y*w + x) * Channels
			for c := 0; c < Channels; c++ {
				out.Data[base+c] = normalize(float32(px[c])-means[c], normalization)
			}
		}
	}
	return out, nil
}

func normalize(v float32, n Normalization) float32 {
	switch n {
	case NormalizationZeroOne:
		return v / 255
	case NormalizationMinusPlusOne:
		return (v/255 - 0.5) * 2
	default:
		return v
	}
}
