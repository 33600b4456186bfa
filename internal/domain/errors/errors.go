package errors

import (
	"errors"
	"fmt"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeBusiness     ErrorType = "business"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
)

// Codes surfaced to callers of the bidding core.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeInvalidBudget      = "INVALID_BUDGET"
	CodeInvalidCurrency    = "INVALID_CURRENCY"
	CodeDuplicateBid       = "DUPLICATE_BID"
	CodeJobNotBiddable     = "JOB_NOT_BIDDABLE"
	CodeBidNotActive       = "BID_NOT_ACTIVE"
	CodeInvalidTransition  = "INVALID_STATUS_TRANSITION"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeNotFound           = "RESOURCE_NOT_FOUND"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeExternalDependency = "EXTERNAL_SERVICE_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by code so callers can use errors.Is with the
// predefined values below.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code != "" && other.Code == e.Code
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
		StatusCode: 403,
	}
}

func NewConflictError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       CodeInternal,
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       CodeExternalDependency,
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Code:       CodeRateLimitExceeded,
		Message:    message,
		Retryable:  true,
		StatusCode: 429,
	}
}

// Bidding specific constructors

func NewDuplicateBidError(message string) *AppError {
	return NewConflictError(CodeDuplicateBid, message)
}

func NewJobNotBiddableError(message string) *AppError {
	return NewConflictError(CodeJobNotBiddable, message)
}

func NewInvalidAmountError(message string) *AppError {
	return NewValidationError(CodeInvalidAmount, message)
}

func NewInvalidTransitionError(from, to string) *AppError {
	return NewConflictError(CodeInvalidTransition,
		fmt.Sprintf("transition from %s to %s is not allowed", from, to)).
		WithDetails(map[string]interface{}{"from": from, "to": to})
}

// Predefined errors for errors.Is comparisons. They match on Code only.
var (
	ErrDuplicateBid      = NewDuplicateBidError("bidder already has an active bid on this job offer")
	ErrJobNotBiddable    = NewJobNotBiddableError("job offer is not accepting bids")
	ErrInvalidAmount     = NewInvalidAmountError("bid amount must be greater than zero")
	ErrInvalidBudget     = NewValidationError(CodeInvalidBudget, "budget maximum must exceed minimum")
	ErrBidNotActive      = NewConflictError(CodeBidNotActive, "bid is not active")
	ErrInvalidTransition = NewConflictError(CodeInvalidTransition, "status transition not allowed")
	ErrUnauthorized      = NewUnauthorizedError("caller is not allowed to perform this action")
	ErrNotFound          = NewNotFoundError("resource")
	ErrRateLimited       = NewRateLimitError("too many attempts")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// HasCode reports whether err carries an AppError with the given code
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
