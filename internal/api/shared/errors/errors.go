package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/feral-file/ff-marketplace/internal/domain"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Client errors (4xx)
	ErrCodeBadRequest       ErrorCode = "bad_request"
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeValidationFailed ErrorCode = "validation_failed"
	ErrCodeUnauthorized     ErrorCode = "unauthorized"
	ErrCodeForbidden        ErrorCode = "forbidden"
	ErrCodeConflict         ErrorCode = "conflict"
	ErrCodePaymentRequired  ErrorCode = "payment_required"

	// Server errors (5xx)
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeServiceError  ErrorCode = "service_error"
	ErrCodeNotSupported  ErrorCode = "not_supported"
)

// APIError is the body of every error response
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	jsonErr, _ := json.Marshal(e)
	return string(jsonErr)
}

func newAPIError(code ErrorCode, message string, details []string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: strings.Join(details, ", "),
	}
}

func NewBadRequestError(message string, details ...string) *APIError {
	return newAPIError(ErrCodeBadRequest, message, details)
}

func NewNotFoundError(message string, details ...string) *APIError {
	return newAPIError(ErrCodeNotFound, message, details)
}

func NewValidationError(details ...string) *APIError {
	return newAPIError(ErrCodeValidationFailed, "Validation failed", details)
}

func NewUnauthorizedError(message string, details ...string) *APIError {
	return newAPIError(ErrCodeUnauthorized, message, details)
}

func NewForbiddenError(message string, details ...string) *APIError {
	return newAPIError(ErrCodeForbidden, message, details)
}

func NewInternalError(message string, details ...string) *APIError {
	return newAPIError(ErrCodeInternalError, message, details)
}

func NewServiceError(message string, details ...string) *APIError {
	return newAPIError(ErrCodeServiceError, message, details)
}

func NewNotSupportedError(message string, details ...string) *APIError {
	return newAPIError(ErrCodeNotSupported, message, details)
}

// FromDomain maps a domain error to an HTTP status and API error.
// Unknown errors are internal and their text is not exposed.
func FromDomain(err error) (int, *APIError) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, NewBadRequestError("Invalid input", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, NewNotFoundError("Not found", err.Error())
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusUnauthorized, NewUnauthorizedError("Caller identity required")
	case errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden, NewForbiddenError("Caller does not own the token")
	case errors.Is(err, domain.ErrNotListed):
		return http.StatusConflict, newAPIError(ErrCodeConflict, "Token is not listed", nil)
	case errors.Is(err, domain.ErrWrongValue):
		return http.StatusPaymentRequired, newAPIError(ErrCodePaymentRequired, "Payment must equal the listing price", nil)
	case errors.Is(err, domain.ErrMalformedContent):
		return http.StatusUnprocessableEntity, NewValidationError(err.Error())
	case errors.Is(err, domain.ErrUnreachable),
		errors.Is(err, domain.ErrUploadFailed),
		errors.Is(err, domain.ErrPaymentFailed):
		return http.StatusBadGateway, NewServiceError("Upstream service failed", err.Error())
	default:
		return http.StatusInternalServerError, NewInternalError("Internal server error")
	}
}
