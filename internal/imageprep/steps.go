package imageprep

import (
	"context"
	"fmt"

	"github.com/dunamismax/kronos/internal/domain"
	"github.com/dunamismax/kronos/internal/minibatch"
)

// Apply runs steps in order and returns the final image.
func Apply(img Image, steps []domain.PrepStep) (Image, error) {
	var err error
	for i, step := range steps {
		img, err = applyStep(img, step)
		if err != nil {
			return Image{}, fmt.Errorf("step %d action=%s: %w", i, step.Action, err)
		}
	}
	return img, nil
}

func applyStep(img Image, step domain.PrepStep) (Image, error) {
	switch step.NormalizedAction() {
	case domain.ActionResize:
		width, height := step.Width, step.Height
		if width == 0 {
			width = DefaultWidth
		}
		if height == 0 {
			height = DefaultHeight
		}
		return img.Resize(width, height, step.Method)
	case domain.ActionCentralCrop:
		return img.CentralCrop(step.Fraction)
	case domain.ActionCenteredCrop:
		return img.CenteredCrop(step.Width, step.Height)
	case domain.ActionPadToSquare:
		return img.PadToSquare()
	default:
		return Image{}, fmt.Errorf("%w: unsupported action %q", ErrInvalidStep, step.Action)
	}
}

// FetchFunc loads the encoded bytes of one sample.
type FetchFunc func(ctx context.Context, objectKey string) ([]byte, error)

// Preparer turns (object key, label) samples into (array, label) samples.
type Preparer struct {
	Codec Codec
	Fetch FetchFunc
	Spec  domain.PrepSpec
}

func (p Preparer) Validate() error {
	if p.Fetch == nil {
		return fmt.Errorf("preparer requires a fetch function")
	}
	return p.Spec.Validate()
}

// Prepare fetches, decodes, transforms and exports one sample.
func (p Preparer) Prepare(ctx context.Context, objectKey string) (Array, error) {
	if err := ctx.Err(); err != nil {
		return Array{}, err
	}

	data, err := p.Fetch(ctx, objectKey)
	if err != nil {
		return Array{}, fmt.Errorf("fetch %s: %w", objectKey, err)
	}

	codec := p.Codec
	if codec == nil {
		codec = DefaultCodec()
	}
	img, err := Decode(codec, data)
	if err != nil {
		return Array{}, fmt.Errorf("decode %s: %w", objectKey, err)
	}

	img, err = Apply(img, p.Spec.Steps)
	if err != nil {
		return Array{}, fmt.Errorf("prepare %s: %w", objectKey, err)
	}

	arr, err := img.ToArray(Normalization(p.Spec.Normalization), p.Spec.ChannelMeans)
	if err != nil {
		return Array{}, fmt.Errorf("export %s: %w", objectKey, err)
	}
	return arr, nil
}

// Transform binds ctx and returns a minibatch sample transform.
func (p Preparer) Transform(ctx context.Context) minibatch.Transform[string, string, Array, string] {
	return func(objectKey, label string) (Array, string, error) {
		arr, err := p.Prepare(ctx, objectKey)
		if err != nil {
			return Array{}, "", err
		}
		return arr, label, nil
	}
}
