package imaging

import "errors"

// ErrInvalidImage matches every *InvalidImageError.
var ErrInvalidImage = errors.New("invalid image")

// InvalidImageError reports an upload that cannot be used for inference.
// The caller can fix it by sending a different image.
type InvalidImageError struct {
	Reason string
	Err    error
}

func (e *InvalidImageError) Error() string {
	if e.Err != nil {
		return "invalid image: " + e.Reason + ": " + e.Err.Error()
	}
	return "invalid image: " + e.Reason
}

func (e *InvalidImageError) Unwrap() error { return e.Err }

func (e *InvalidImageError) Is(target error) bool { return target == ErrInvalidImage }

func invalid(reason string, err error) *InvalidImageError {
	return &InvalidImageError{Reason: reason, Err: err}
}
