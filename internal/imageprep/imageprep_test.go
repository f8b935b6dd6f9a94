package imageprep

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dunamismax/kronos/internal/domain"
	"github.com/dunamismax/kronos/internal/minibatch"
)

// gradient returns a w x h image where pixel (x, y) is (10x, 10y, 7).
func gradient(t *testing.T, w, h int) Image {
	t.Helper()

	src := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(10 * x), G: uint8(10 * y), B: 7, A: 255})
		}
	}
	img, err := FromImage(src)
	require.NoError(t, err)
	return img
}

func encodePNG(t *testing.T, img Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img.Pixels()))
	return buf.Bytes()
}

func assertRGB(t *testing.T, img Image, x, y int, r, g, b uint8) {
	t.Helper()

	gr, gg, gb := img.RGB(x, y)
	assert.Equal(t, [3]uint8{r, g, b}, [3]uint8{gr, gg, gb}, "pixel (%d,%d)", x, y)
}

func TestFromImageDropsAlphaAndRebasesBounds(t *testing.T) {
	src := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	src.SetNRGBA(5, 5, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	src.SetNRGBA(6, 5, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	img, err := FromImage(src)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Width())
	assert.Equal(t, 1, img.Height())
	assertRGB(t, img, 0, 0, 200, 100, 50)

	pix, ok := img.Pixels().(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, uint8(255), pix.NRGBAAt(1, 0).A)
}

func TestFromImageRejectsEmpty(t *testing.T) {
	_, err := FromImage(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestResize(t *testing.T) {
	img := gradient(t, 8, 4)

	for _, method := range []string{MethodBilinear, MethodNearest, MethodBicubic, MethodLanczos, "unknown"} {
		out, err := img.Resize(3, 5, method)
		require.NoError(t, err, method)
		assert.Equal(t, 3, out.Width(), method)
		assert.Equal(t, 5, out.Height(), method)
	}

	same, err := img.Resize(8, 4, MethodNearest)
	require.NoError(t, err)
	assertRGB(t, same, 3, 2, 30, 20, 7)

	_, err = img.Resize(0, 4, MethodNearest)
	assert.ErrorIs(t, err, ErrInvalidStep)

	assert.Equal(t, 8, img.Width(), "receiver must not change")
}

func TestCentralCrop(t *testing.T) {
	img := gradient(t, 8, 4)

	out, err := img.CentralCrop(0.5)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Width())
	assert.Equal(t, 2, out.Height())
	assertRGB(t, out, 0, 0, 20, 10, 7)
	assertRGB(t, out, 3, 1, 50, 20, 7)

	full, err := img.CentralCrop(1)
	require.NoError(t, err)
	assert.Equal(t, 8, full.Width())
	assert.Equal(t, 4, full.Height())

	odd, err := gradient(t, 5, 5).CentralCrop(0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, odd.Width())
	assertRGB(t, odd, 0, 0, 20, 20, 7)

	for _, f := range []float64{0, -0.1, 1.5} {
		_, err := img.CentralCrop(f)
		assert.ErrorIs(t, err, ErrInvalidStep, "fraction %g", f)
	}

	_, err = img.CentralCrop(0.01)
	assert.ErrorIs(t, err, ErrInvalidStep, "empty crop box")
}

func TestCenteredCrop(t *testing.T) {
	img := gradient(t, 6, 4)

	out, err := img.CenteredCrop(2, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Width())
	assert.Equal(t, 2, out.Height())
	assertRGB(t, out, 0, 0, 20, 10, 7)

	clamped, err := img.CenteredCrop(10, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, clamped.Width())
	assert.Equal(t, 2, clamped.Height())
	assertRGB(t, clamped, 0, 0, 0, 10, 7)

	_, err = img.CenteredCrop(0, 2)
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestPadToSquare(t *testing.T) {
	wide := gradient(t, 4, 2)

	out, err := wide.PadToSquare()
	require.NoError(t, err)
	assert.Equal(t, 4, out.Width())
	assert.Equal(t, 4, out.Height())
	assertRGB(t, out, 2, 0, 0, 0, 0)
	assertRGB(t, out, 2, 1, 20, 0, 7)
	assertRGB(t, out, 2, 2, 20, 10, 7)
	assertRGB(t, out, 2, 3, 0, 0, 0)

	tall, err := gradient(t, 1, 3).PadToSquare()
	require.NoError(t, err)
	assert.Equal(t, 3, tall.Width())
	assertRGB(t, tall, 0, 0, 0, 0, 0)
	assertRGB(t, tall, 1, 2, 0, 20, 7)

	square, err := gradient(t, 3, 3).PadToSquare()
	require.NoError(t, err)
	assertRGB(t, square, 2, 2, 20, 20, 7)

	// padding 3 splits as 2 left, 1 right
	narrow, err := gradient(t, 1, 4).PadToSquare()
	require.NoError(t, err)
	assert.Equal(t, 4, narrow.Width())
	assertRGB(t, narrow, 1, 1, 0, 0, 0)
	assertRGB(t, narrow, 2, 1, 0, 10, 7)
	assertRGB(t, narrow, 3, 1, 0, 0, 0)
}

func TestPadOffset(t *testing.T) {
	for padding, want := range map[int]int{0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 2, 7: 4} {
		assert.Equal(t, want, padOffset(padding), "padding %d", padding)
	}
}

func TestToArray(t *testing.T) {
	img := gradient(t, 3, 2)

	raw, err := img.ToArray(NormalizationNone, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 3}, raw.Shape())
	assert.Len(t, raw.Data, 18)
	assert.Equal(t, float32(20), raw.At(1, 2, 0))
	assert.Equal(t, float32(10), raw.At(1, 2, 1))
	assert.Equal(t, float32(7), raw.At(1, 2, 2))

	zeroOne, err := img.ToArray(NormalizationZeroOne, nil)
	require.NoError(t, err)
	assert.InDelta(t, 20.0/255, zeroOne.At(1, 2, 0), 1e-6)

	plusMinus, err := img.ToArray(NormalizationMinusPlusOne, nil)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, plusMinus.At(0, 0, 0), 1e-6)
	assert.InDelta(t, (20.0/255-0.5)*2, plusMinus.At(1, 2, 0), 1e-6)

	centered, err := img.ToArray(NormalizationNone, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, float32(19), centered.At(1, 2, 0))
	assert.Equal(t, float32(8), centered.At(1, 2, 1))
	assert.Equal(t, float32(4), centered.At(1, 2, 2))

	centeredScaled, err := img.ToArray(NormalizationZeroOne, []float64{10, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 10.0/255, centeredScaled.At(1, 2, 0), 1e-6)

	_, err = img.ToArray("unit", nil)
	assert.Error(t, err)

	_, err = img.ToArray(NormalizationNone, []float64{1, 2})
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	img := gradient(t, 8, 4)

	out, err := Apply(img, []domain.PrepStep{
		{Action: domain.ActionPadToSquare},
		{Action: domain.ActionCentralCrop, Fraction: 0.5},
		{Action: "Resize", Width: 16, Height: 16, Method: MethodNearest},
	})
	require.NoError(t, err)
	assert.Equal(t, 16, out.Width())
	assert.Equal(t, 16, out.Height())

	defaulted, err := Apply(img, []domain.PrepStep{{Action: domain.ActionResize}})
	require.NoError(t, err)
	assert.Equal(t, DefaultWidth, defaulted.Width())
	assert.Equal(t, DefaultHeight, defaulted.Height())

	_, err = Apply(img, []domain.PrepStep{{Action: "watermark"}})
	assert.ErrorIs(t, err, ErrInvalidStep)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	img := gradient(t, 5, 3)

	require.NoError(t, img.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Width())
	assert.Equal(t, 3, loaded.Height())
	assertRGB(t, loaded, 4, 2, 40, 20, 7)

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, "jpeg", FormatFromPath("/tmp/a.JPG"))
	assert.Equal(t, "jpeg", FormatFromPath("a.jpeg"))
	assert.Equal(t, "webp", FormatFromPath("a.webp"))
	assert.Equal(t, "png", FormatFromPath("a.png"))
	assert.Equal(t, "png", FormatFromPath("noext"))
}

func TestPreparerFeedsMinibatchProducer(t *testing.T) {
	files := map[string][]byte{
		"a.png": encodePNG(t, gradient(t, 8, 4)),
		"b.png": encodePNG(t, gradient(t, 4, 8)),
		"c.png": encodePNG(t, gradient(t, 6, 6)),
	}
	fetch := func(_ context.Context, key string) ([]byte, error) {
		data, ok := files[key]
		if !ok {
			return nil, errors.New("not found")
		}
		return data, nil
	}

	prep := Preparer{
		Fetch: fetch,
		Spec: domain.PrepSpec{
			Steps: []domain.PrepStep{
				{Action: domain.ActionPadToSquare},
				{Action: domain.ActionResize, Width: 4, Height: 4},
			},
			Normalization: domain.NormalizationZeroOne,
		},
	}
	require.NoError(t, prep.Validate())

	p, err := minibatch.New(
		[]string{"a.png", "b.png", "c.png"},
		[]string{"wide", "tall", "square"},
		prep.Transform(context.Background()),
		minibatch.WithBatchSize(2),
	)
	require.NoError(t, err)

	b, err := p.Next()
	require.NoError(t, err)
	require.Len(t, b.X, 2)
	assert.Equal(t, []string{"wide", "tall"}, b.Y)
	for _, arr := range b.X {
		assert.Equal(t, []int{4, 4, 3}, arr.Shape())
		for _, v := range arr.Data {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
		}
	}
}

func TestPreparerErrors(t *testing.T) {
	prep := Preparer{
		Fetch: func(context.Context, string) ([]byte, error) { return []byte("not an image"), nil },
	}

	_, err := prep.Prepare(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUndecodable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = prep.Prepare(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)

	assert.Error(t, Preparer{}.Validate())
}
