package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidField ErrorCode = "validation_invalid_field"
	ErrCodeValidationUnknownPlan  ErrorCode = "validation_unknown_plan"
	ErrCodeValidationInvalidJSON  ErrorCode = "validation_invalid_json"

	// Auth (401)
	ErrCodeAuthTokenMissing ErrorCode = "auth_token_missing"
	ErrCodeAuthInvalidCreds ErrorCode = "auth_invalid_credentials"
	ErrCodeAuthUserNotFound ErrorCode = "auth_user_not_found"

	// Plan limits (402). The value is the stable code clients use to render
	// an upgrade prompt.
	ErrCodePlanLimit ErrorCode = "plan_limit"

	// Not Found (404)
	ErrCodeNotFoundNote    ErrorCode = "not_found_note"
	ErrCodeNotFoundUser    ErrorCode = "not_found_user"
	ErrCodeNotFoundSubject ErrorCode = "not_found_subject"
	ErrCodeNotFoundFeature ErrorCode = "not_found_feature"

	// Conflict (409)
	ErrCodeConflictEmail ErrorCode = "conflict_email_exists"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeProvisioningFailed  ErrorCode = "upstream_provisioning_failed"
	ErrCodeReportingFailed     ErrorCode = "upstream_reporting_failed"
	ErrCodeUpstreamBilling     ErrorCode = "upstream_billing_unavailable"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamBadResponse ErrorCode = "upstream_bad_response"

	// ErrCodeUpstreamRejected is a 4xx the remote service will repeat on
	// every retry (bad credentials, malformed request). It is not transient.
	ErrCodeUpstreamRejected ErrorCode = "upstream_rejected"
)

// ErrorKind is the coarse classification callers branch on. Feature consumers
// use it to decide user-facing behaviour (an upgrade prompt for
// KindPlanLimitExceeded, a generic failure for KindTransientService).
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindAuth                ErrorKind = "auth"
	KindNotFound            ErrorKind = "not_found"
	KindPlanLimitExceeded   ErrorKind = "plan_limit_exceeded"
	KindConflict            ErrorKind = "conflict"
	KindProvisioningFailure ErrorKind = "provisioning_failure"
	KindReportingFailure    ErrorKind = "reporting_failure"
	KindTransientService    ErrorKind = "transient_service"
	KindInternal            ErrorKind = "internal"
)

// Kind maps an ErrorCode to its ErrorKind.
func (c ErrorCode) Kind() ErrorKind {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return KindValidation
	case strings.HasPrefix(s, "auth_"):
		return KindAuth
	case c == ErrCodePlanLimit:
		return KindPlanLimitExceeded
	case strings.HasPrefix(s, "not_found_"):
		return KindNotFound
	case strings.HasPrefix(s, "conflict_"):
		return KindConflict
	case c == ErrCodeProvisioningFailed:
		return KindProvisioningFailure
	case c == ErrCodeReportingFailed:
		return KindReportingFailure
	case c == ErrCodeUpstreamRejected:
		return KindInternal
	case strings.HasPrefix(s, "upstream_"):
		return KindTransientService
	default:
		return KindInternal
	}
}

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	switch c.Kind() {
	case KindValidation:
		return http.StatusBadRequest // 400
	case KindAuth:
		return http.StatusUnauthorized // 401
	case KindPlanLimitExceeded:
		return http.StatusPaymentRequired // 402
	case KindNotFound:
		return http.StatusNotFound // 404
	case KindConflict:
		return http.StatusConflict // 409
	case KindProvisioningFailure, KindReportingFailure, KindTransientService:
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// Kind returns the ErrorKind of this error's code.
func (e *AppError) Kind() ErrorKind {
	return e.Code.Kind()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// KindOf classifies err. The outermost AppError in the chain wins, so a
// provisioning failure that wraps an upstream error is reported as
// KindProvisioningFailure. Errors that carry no AppError are KindInternal.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind()
	}
	return KindInternal
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}
