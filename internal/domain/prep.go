package domain

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ActionResize       = "resize"
	ActionCentralCrop  = "central_crop"
	ActionCenteredCrop = "centered_crop"
	ActionPadToSquare  = "pad_to_square"

	NormalizationZeroOne      = "zero_one"
	NormalizationMinusPlusOne = "minus_plus_one"
)

func (s PrepStep) NormalizedAction() string {
	return strings.ToLower(strings.TrimSpace(s.Action))
}

func (s PrepStep) Validate() error {
	switch s.NormalizedAction() {
	case "":
		return errors.New("action is required")
	case ActionResize:
		if s.Width < 0 || s.Height < 0 {
			return errors.New("resize width and height must not be negative")
		}
	case ActionCentralCrop:
		if s.Fraction <= 0 || s.Fraction > 1 {
			return fmt.Errorf("central_crop fraction must be in (0, 1], got %g", s.Fraction)
		}
	case ActionCenteredCrop:
		if s.Width <= 0 || s.Height <= 0 {
			return errors.New("centered_crop requires width > 0 and height > 0")
		}
	case ActionPadToSquare:
	default:
		return fmt.Errorf("unsupported action %q", s.Action)
	}
	return nil
}
