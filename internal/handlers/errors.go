package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/cattlecare-api/internal/cascade"
	"github.com/Brownie44l1/cattlecare-api/internal/imaging"
)

// Error codes carried in error bodies.
const (
	codeBadRequest            = "BAD_REQUEST"
	codeMissingFile           = "MISSING_FILE"
	codeFileTooLarge          = "FILE_TOO_LARGE"
	codeInvalidImage          = "INVALID_IMAGE"
	codeSpecialistUnavailable = "SPECIALIST_UNAVAILABLE"
	codeModelsNotReady        = "MODELS_NOT_READY"
	codeTimeout               = "INFERENCE_TIMEOUT"
	codeRateLimited           = "RATE_LIMITED"
	codeUnauthorized          = "UNAUTHORIZED"
	codeForbidden             = "FORBIDDEN"
	codeEmailTaken            = "EMAIL_TAKEN"
	codeInternal              = "INTERNAL_ERROR"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Success: false, Error: message, Code: code})
}

// classificationError maps a Classify failure to a status, code and
// client-facing message.
func classificationError(err error) (int, string, string) {
	switch {
	case errors.Is(err, imaging.ErrInvalidImage):
		return http.StatusBadRequest, codeInvalidImage, err.Error()
	case errors.Is(err, cascade.ErrSpecialistUnavailable):
		return http.StatusBadRequest, codeSpecialistUnavailable, err.Error()
	case errors.Is(err, cascade.ErrModelsNotReady):
		return http.StatusServiceUnavailable, codeModelsNotReady, "System not ready: models are not loaded"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout, "Inference timed out"
	default:
		return http.StatusInternalServerError, codeInternal, "Prediction failed"
	}
}
