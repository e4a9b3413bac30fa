package cascade

import (
	"errors"
	"fmt"
)

var (
	// ErrModelsNotReady is returned when the master model is not loaded.
	ErrModelsNotReady = errors.New("models not ready")
	// ErrSpecialistUnavailable matches every *SpecialistUnavailableError.
	ErrSpecialistUnavailable = errors.New("specialist unavailable")
)

// SpecialistUnavailableError means the master routed to a body part whose
// specialist is not loaded.
type SpecialistUnavailableError struct {
	BodyPart string
}

func (e *SpecialistUnavailableError) Error() string {
	return fmt.Sprintf("specialist model for %s not available", e.BodyPart)
}

func (e *SpecialistUnavailableError) Is(target error) bool {
	return target == ErrSpecialistUnavailable
}
