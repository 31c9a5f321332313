package errors

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidInput            ErrorCode = "invalid_input"
	InvalidCredentials      ErrorCode = "invalid_credentials"
	Unauthorized            ErrorCode = "unauthorized"
	DuplicateUser           ErrorCode = "duplicate_user"
	InsufficientFunds       ErrorCode = "insufficient_funds"
	ProviderUnavailable     ErrorCode = "provider_unavailable"
	ProviderInvalidResponse ErrorCode = "provider_invalid_response"
	ProviderRejected        ErrorCode = "provider_rejected"
	RentalNotFound          ErrorCode = "rental_not_found"
	InvalidTransition       ErrorCode = "invalid_transition"
	DuplicateProviderID     ErrorCode = "duplicate_provider_id"
	InternalError           ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}
}

// HTTPStatus maps an error code to the status the handler layer responds with.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput:
		return http.StatusBadRequest
	case InvalidCredentials, Unauthorized:
		return http.StatusUnauthorized
	case RentalNotFound:
		return http.StatusNotFound
	case DuplicateUser, DuplicateProviderID, InvalidTransition, ProviderRejected:
		return http.StatusConflict
	case InsufficientFunds:
		return http.StatusUnprocessableEntity
	case ProviderUnavailable, ProviderInvalidResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Predefined errors for common cases
var (
	ErrInvalidCredentials = NewAppError(InvalidCredentials, "invalid email or password")
	ErrUnauthorized       = NewAppError(Unauthorized, "authentication required")
	ErrDuplicateUser      = NewAppError(DuplicateUser, "user already exists")
	ErrInsufficientFunds  = NewAppError(InsufficientFunds, "insufficient balance")
	// The lookup failure is deliberately the same for ids that do not exist
	// and ids owned by someone else.
	ErrRentalNotFound         = NewAppError(RentalNotFound, "rental not found")
	ErrInvalidTransition      = NewAppError(InvalidTransition, "rental is already in a terminal state")
	ErrDuplicateProviderID    = NewAppError(DuplicateProviderID, "provider transaction already recorded")
	ErrCannotBeginTransaction = NewAppError(InternalError, "cannot begin transaction on this executor")
)
