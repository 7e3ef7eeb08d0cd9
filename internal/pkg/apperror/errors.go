package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCodePreconditionFailed ErrorCode = "PRECONDITION_FAILED"
	ErrCodeDuplicateDetected  ErrorCode = "DUPLICATE_DETECTED"
	ErrCodeUpstreamFailure    ErrorCode = "UPSTREAM_FAILURE"
)

// AppError типизированная ошибка домена.
// Rule заполняется только для нарушений инвариантов и содержит стабильный код правила.
type AppError struct {
	Code       ErrorCode
	Rule       string
	Message    string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *AppError) Error() string {
	prefix := string(e.Code)
	if e.Rule != "" {
		prefix += "[" + e.Rule + "]"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Retryable:  code == ErrCodeUpstreamFailure,
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Retryable:  code == ErrCodeUpstreamFailure,
		Cause:      err,
	}
}

// Violation создаёт ошибку валидации с кодом нарушенного правила.
func Violation(rule, message string) *AppError {
	e := New(ErrCodeValidation, message)
	e.Rule = rule
	return e
}

// Upstream оборачивает ошибку внешнего провайдера.
func Upstream(err error, message string) *AppError {
	return Wrap(err, ErrCodeUpstreamFailure, message)
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeInvalidTransition, ErrCodeDuplicateDetected:
		return http.StatusConflict
	case ErrCodePreconditionFailed:
		return http.StatusPreconditionFailed
	case ErrCodeUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или пустую строку для нетипизированных ошибок.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// RuleOf возвращает код нарушенного инварианта.
func RuleOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Rule
	}
	return ""
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

func IsForbidden(err error) bool {
	return CodeOf(err) == ErrCodeForbidden
}

func IsValidation(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

func IsInvalidTransition(err error) bool {
	return CodeOf(err) == ErrCodeInvalidTransition
}

func IsPreconditionFailed(err error) bool {
	return CodeOf(err) == ErrCodePreconditionFailed
}

func IsDuplicate(err error) bool {
	return CodeOf(err) == ErrCodeDuplicateDetected
}

func IsUpstream(err error) bool {
	return CodeOf(err) == ErrCodeUpstreamFailure
}

// IsRetryable сообщает, имеет ли смысл повторять операцию.
func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Retryable
}

var (
	ErrEscrowNotFound  = New(ErrCodeNotFound, "эскроу не найден")
	ErrMatchNotFound   = New(ErrCodeNotFound, "предложение перевозки не найдено")
	ErrDisputeNotFound = New(ErrCodeNotFound, "спор не найден")
	ErrUnauthorized    = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden       = New(ErrCodeForbidden, "недостаточно прав")
	ErrVersionConflict = New(ErrCodeInvalidTransition, "состояние изменилось параллельно, повторите запрос")
	ErrLockBusy        = New(ErrCodeInvalidTransition, "запись изменяется другим запросом")
)
