// Package httputil provides HTTP utility functions for request and response handling.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	capDomain "github.com/allisson/capsec/internal/capability/domain"
	apperrors "github.com/allisson/capsec/internal/errors"
)

// MakeJSONResponse writes a JSON response with the given status code. Used by
// the plain net/http handlers (health, readiness, panic recovery).
func MakeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// ErrorResponse represents a structured error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// errorCode maps well-known capability errors to stable machine-readable codes
// so callers can branch without parsing messages.
func errorCode(err error) string {
	switch {
	case apperrors.Is(err, capDomain.ErrInvalidSignature):
		return "invalid_signature"
	case apperrors.Is(err, capDomain.ErrMissingSignature):
		return "missing_signature"
	case apperrors.Is(err, capDomain.ErrCapabilityExpired):
		return "capability_expired"
	case apperrors.Is(err, capDomain.ErrCapabilityRevoked):
		return "capability_revoked"
	case apperrors.Is(err, capDomain.ErrCapabilityNotFound):
		return "capability_not_found"
	case apperrors.Is(err, capDomain.ErrInvalidCapabilityStructure):
		return "invalid_capability_structure"
	case apperrors.Is(err, capDomain.ErrDelegationNotAllowed):
		return "delegation_not_allowed"
	case apperrors.Is(err, capDomain.ErrOperationNotPermitted):
		return "operation_not_permitted"
	case apperrors.Is(err, capDomain.ErrResourceNotPermitted):
		return "resource_not_permitted"
	case apperrors.Is(err, capDomain.ErrResourceTypeMismatch):
		return "resource_type_mismatch"
	case apperrors.Is(err, capDomain.ErrToolNotAllowed):
		return "tool_not_allowed"
	case apperrors.Is(err, capDomain.ErrPermissionDenied):
		return "permission_denied"
	}
	return ""
}

// HandleErrorGin maps domain errors to HTTP status codes and returns a JSON response using Gin.
func HandleErrorGin(c *gin.Context, err error, logger *slog.Logger) {
	if err == nil {
		return
	}

	var statusCode int
	var errorResponse ErrorResponse

	// Map domain errors to HTTP status codes
	switch {
	case apperrors.Is(err, apperrors.ErrNotFound):
		statusCode = http.StatusNotFound
		errorResponse = ErrorResponse{
			Error:   "not_found",
			Message: "The requested resource was not found",
		}

	case apperrors.Is(err, apperrors.ErrConflict):
		statusCode = http.StatusConflict
		errorResponse = ErrorResponse{
			Error:   "conflict",
			Message: "A conflict occurred with existing data",
		}

	case apperrors.Is(err, apperrors.ErrInvalidInput):
		statusCode = http.StatusUnprocessableEntity
		errorResponse = ErrorResponse{
			Error:   "invalid_input",
			Message: err.Error(),
		}

	case apperrors.Is(err, apperrors.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
		errorResponse = ErrorResponse{
			Error:   "unauthorized",
			Message: err.Error(),
		}

	case apperrors.Is(err, apperrors.ErrForbidden):
		statusCode = http.StatusForbidden
		errorResponse = ErrorResponse{
			Error:   "forbidden",
			Message: err.Error(),
		}

	default:
		// For unknown/internal errors, don't expose details to the client
		statusCode = http.StatusInternalServerError
		errorResponse = ErrorResponse{
			Error:   "internal_error",
			Message: "An internal error occurred",
		}
	}

	errorResponse.Code = errorCode(err)

	// Log the full error details (including wrapped errors)
	if logger != nil {
		logger.Error("request failed",
			slog.Int("status_code", statusCode),
			slog.String("error_code", errorResponse.Error),
			slog.Any("error", err),
		)
	}

	c.JSON(statusCode, errorResponse)
}

// HandleBadRequestGin writes a 400 Bad Request response for malformed JSON or parameters using Gin.
func HandleBadRequestGin(c *gin.Context, err error, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("bad request", slog.Any("error", err))
	}

	errorResponse := ErrorResponse{
		Error:   "bad_request",
		Message: err.Error(),
	}

	c.JSON(http.StatusBadRequest, errorResponse)
}

// HandleValidationErrorGin writes a 422 Unprocessable Entity response for validation errors using Gin.
func HandleValidationErrorGin(c *gin.Context, err error, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("validation failed", slog.Any("error", err))
	}

	errorResponse := ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	}

	c.JSON(http.StatusUnprocessableEntity, errorResponse)
}
