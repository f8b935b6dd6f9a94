package minibatch

import (
	"errors"
	"fmt"
)

// ErrValidation is returned by New when the dataset or the options cannot
// produce batches.
var ErrValidation = errors.New("minibatch: invalid configuration")

// TransformError reports a failure raised by the sample transform. The batch
// slot it belonged to is consumed; the next pull continues from the next
// unconsumed permutation slot.
type TransformError struct {
	Epoch    int
	Batch    int
	Position int
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("minibatch: prepare sample epoch=%d batch=%d position=%d: %v", e.Epoch, e.Batch, e.Position, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
