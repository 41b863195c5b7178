package errors

import (
	"fmt"
	"net/http"

	"github.com/GeoPulse/geopulse-backend/logger"
)

type ErrorType string

const (
	ValidationError         ErrorType = "VALIDATION_ERROR"
	NotFoundError           ErrorType = "NOT_FOUND"
	ServerError             ErrorType = "SERVER_ERROR"
	ConflictError           ErrorType = "CONFLICT"
	PermissionDeniedError   ErrorType = "PERMISSION_DENIED"
	ServiceUnavailableError ErrorType = "SERVICE_UNAVAILABLE"
	NoUpdateInProgressError ErrorType = "NO_UPDATE_IN_PROGRESS"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Raw        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the wrapped raw error for errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Raw
}

// GetHTTPStatus returns the HTTP status code associated with the error.
func (e *AppError) GetHTTPStatus() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return getHTTPStatus(e.Type)
}

// New creates a new AppError
func New(errType ErrorType, message string, detail string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     detail,
		HTTPStatus: getHTTPStatus(errType),
	}
}

// Wrap wraps a raw error with AppError context
func Wrap(err error, errType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: getHTTPStatus(errType),
		Raw:        err,
	}
}

// Helper functions for common errors

func NotFound(entity string, id interface{}) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    fmt.Sprintf("%s not found", entity),
		Detail:     fmt.Sprintf("ID: %v", id),
		HTTPStatus: http.StatusNotFound,
	}
}

func ValidationFailed(message string, details string) *AppError {
	return &AppError{
		Type:       ValidationError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusBadRequest,
	}
}

func InternalServerError(message string) *AppError {
	return &AppError{
		Type:       ServerError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// PermissionDenied reports that location access is denied or restricted for
// a device, so no position updates will ever be delivered.
func PermissionDenied(deviceID string, state string) *AppError {
	return &AppError{
		Type:       PermissionDeniedError,
		Message:    "Location permission denied",
		Detail:     fmt.Sprintf("Device %s authorization state: %s", deviceID, state),
		HTTPStatus: http.StatusForbidden,
	}
}

// ServiceUnavailable reports a fault in the underlying location provider
// (signal lost, hardware unavailable).
func ServiceUnavailable(err error) *AppError {
	logger.GetLogger().Errorw("Location provider fault", "error", err)
	return &AppError{
		Type:       ServiceUnavailableError,
		Message:    "Location provider unavailable",
		Detail:     "Please try again later",
		HTTPStatus: http.StatusServiceUnavailable,
		Raw:        err,
	}
}

// NoUpdateInProgress reports a stop request for a device that has no
// running update cycle.
func NoUpdateInProgress(deviceID string) *AppError {
	return &AppError{
		Type:       NoUpdateInProgressError,
		Message:    "No update in progress",
		Detail:     fmt.Sprintf("Device %s has no running update cycle", deviceID),
		HTTPStatus: http.StatusConflict,
	}
}

func NewConflictError(message string, detail string) *AppError {
	return &AppError{
		Type:       ConflictError,
		Message:    message,
		Detail:     detail,
		HTTPStatus: http.StatusConflict,
	}
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case PermissionDeniedError:
		return http.StatusForbidden
	case ServiceUnavailableError:
		return http.StatusServiceUnavailable
	case NoUpdateInProgressError, ConflictError:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
