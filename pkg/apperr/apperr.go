// Package apperr is the application-wide error taxonomy. Every fallible
// operation in this module returns an *AppError (or wraps one) instead of
// relying on panics; the HTTP boundary maps Code to a status code and a
// redacted wire message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the kind of failure, independent of its text.
type Code string

const (
	CodeValidation          Code = "VALIDATION"
	CodeAuthentication      Code = "AUTHENTICATION"
	CodeAuthorization       Code = "AUTHORIZATION"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeUnprocessableEntity Code = "UNPROCESSABLE_ENTITY"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeServiceUnavailable  Code = "SERVICE_UNAVAILABLE"
	CodeGatewayTimeout      Code = "GATEWAY_TIMEOUT"
	CodeBadGateway          Code = "BAD_GATEWAY"
	CodeInsufficientStorage Code = "INSUFFICIENT_STORAGE"
	CodeInternal            Code = "INTERNAL"
)

// AppError is the concrete error type threaded through every layer.
type AppError struct {
	Code Code
	// Message is developer-facing and logged with full context.
	Message string
	// External, when set, is returned to the client verbatim instead of
	// Message. Codes whose detail may leak infrastructure facts never
	// surface Message: Internal, BadGateway and GatewayTimeout always
	// return a generic text (ignoring External too), and ServiceUnavailable
	// returns External when set and a generic text otherwise.
	External string
	// RetryAfterSeconds is attached to the Retry-After header when > 0.
	RetryAfterSeconds int
	Err               error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// ExternalMessage returns the text that is safe to send to the client.
func (e *AppError) ExternalMessage() string {
	switch e.Code {
	case CodeInternal, CodeBadGateway, CodeGatewayTimeout:
		return "internal error"
	case CodeServiceUnavailable:
		if e.External != "" {
			return e.External
		}
		return "Service unavailable"
	default:
		if e.External != "" {
			return e.External
		}
		return e.Message
	}
}

// HTTPStatus maps Code to the status code spec.md §7 assigns it.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeGatewayTimeout:
		return http.StatusGatewayTimeout
	case CodeBadGateway:
		return http.StatusBadGateway
	case CodeInsufficientStorage:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

func Validation(message string) *AppError { return New(CodeValidation, message) }

func Authentication(message string) *AppError { return New(CodeAuthentication, message) }

func Authorization(message string) *AppError { return New(CodeAuthorization, message) }

func NotFound(message string) *AppError { return New(CodeNotFound, message) }

func Conflict(message string) *AppError { return New(CodeConflict, message) }

func UnprocessableEntity(message string) *AppError { return New(CodeUnprocessableEntity, message) }

func RateLimited(message string, retryAfterSeconds int) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message, RetryAfterSeconds: retryAfterSeconds}
}

func ServiceUnavailable(message string, retryAfterSeconds int) *AppError {
	return &AppError{Code: CodeServiceUnavailable, Message: message, RetryAfterSeconds: retryAfterSeconds}
}

func GatewayTimeout(message string) *AppError { return New(CodeGatewayTimeout, message) }

func BadGateway(message string) *AppError { return New(CodeBadGateway, message) }

func InsufficientStorage(message string) *AppError { return New(CodeInsufficientStorage, message) }

func Internal(message string) *AppError { return New(CodeInternal, message) }

func InternalWithCause(message string, cause error) *AppError {
	return Wrap(CodeInternal, message, cause)
}

func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool { return Is(err, CodeNotFound) }

func IsConflict(err error) bool { return Is(err, CodeConflict) }

func IsValidation(err error) bool { return Is(err, CodeValidation) }

func IsRateLimited(err error) bool { return Is(err, CodeRateLimited) }

// As extracts the *AppError from err, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
