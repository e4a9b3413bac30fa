package model

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad matches every *LoadError.
	ErrModelLoad = errors.New("model load failed")
	// ErrModelIncompatible matches every *IncompatibleError.
	ErrModelIncompatible = errors.New("model incompatible")
)

// LoadError reports a model that could not be found, read or opened.
type LoadError struct {
	Key  string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %q from %s: %v", e.Key, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrModelLoad }

// IncompatibleError reports a model whose inputs or outputs do not match
// the configured labels or input shape.
type IncompatibleError struct {
	Key    string
	Reason string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("model %q is incompatible: %s", e.Key, e.Reason)
}

func (e *IncompatibleError) Is(target error) bool { return target == ErrModelIncompatible }
