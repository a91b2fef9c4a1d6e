package pyramid

import (
	"errors"
	"fmt"
)

// ErrInvalidImage is matched by every error produced for an unusable source.
var ErrInvalidImage = errors.New("invalid image")

// InvalidImageError reports why a source image cannot be turned into a pyramid.
type InvalidImageError struct {
	Reason string
	Err    error
}

func (e *InvalidImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid image: %s: %v", e.Reason, e.Err)
	}
	return "invalid image: " + e.Reason
}

func (e *InvalidImageError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInvalidImage) hold for any InvalidImageError.
func (e *InvalidImageError) Is(target error) bool { return target == ErrInvalidImage }

func invalidImage(reason string) error { return &InvalidImageError{Reason: reason} }

// IsInvalidImage reports whether err was caused by an unusable source image.
func IsInvalidImage(err error) bool { return errors.Is(err, ErrInvalidImage) }

func errUnknownFilter(name string) error {
	return fmt.Errorf("unknown resampling filter %q", name)
}
