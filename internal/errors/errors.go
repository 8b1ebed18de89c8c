// Package errors defines the service error taxonomy shared by every handler.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of failure independently of its message.
type ErrorCode string

const (
	CodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
	CodeInvalidCredential ErrorCode = "INVALID_OR_EXPIRED_CREDENTIAL"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeAccessDenied      ErrorCode = "ACCESS_DENIED"
	CodeUpstreamFailure   ErrorCode = "UPSTREAM_FAILURE"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal          ErrorCode = "INTERNAL"
)

// ServiceError is an error that knows how it should be presented over HTTP.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ServiceError with the same code.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of e with an extra detail attached.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	out := *e
	out.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: status,
		Err:        err,
	}
}

// InvalidRequest reports missing or malformed parameters.
func InvalidRequest(message string) *ServiceError {
	return newError(CodeInvalidRequest, http.StatusBadRequest, message, nil)
}

// InvalidOrExpiredCredential reports a signature, expiry or binding failure.
func InvalidOrExpiredCredential(err error) *ServiceError {
	return newError(CodeInvalidCredential, http.StatusForbidden, "Invalid or expired token", err)
}

// NotFound reports an unknown identifier or a missing manifest file.
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message, nil)
}

// AccessDenied reports a client that is not permitted to use an endpoint.
func AccessDenied(message string) *ServiceError {
	return newError(CodeAccessDenied, http.StatusForbidden, message, nil)
}

// UpstreamFailure reports a failed outbound fetch.
func UpstreamFailure(message string, err error) *ServiceError {
	return newError(CodeUpstreamFailure, http.StatusInternalServerError, message, err)
}

// RateLimitExceeded reports a client over its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// Sentinels usable with errors.Is.
var (
	ErrInvalidRequest    = &ServiceError{Code: CodeInvalidRequest}
	ErrInvalidCredential = &ServiceError{Code: CodeInvalidCredential}
	ErrNotFound          = &ServiceError{Code: CodeNotFound}
	ErrAccessDenied      = &ServiceError{Code: CodeAccessDenied}
	ErrUpstreamFailure   = &ServiceError{Code: CodeUpstreamFailure}
)

// GetServiceError extracts the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if stderrors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// HTTPStatus maps err to a response status, defaulting to 500.
func HTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil && serviceErr.HTTPStatus != 0 {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
