package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrConnection  = NewError("CONNECTION_ERROR", "upstream or broker unreachable", http.StatusServiceUnavailable).AsRetryable()
	ErrParse       = NewError("PARSE_ERROR", "malformed event", http.StatusUnprocessableEntity).AsFatal()
	ErrPublish     = NewError("PUBLISH_ERROR", "failed to publish event", http.StatusBadGateway).AsRetryable()
	ErrSinkWrite   = NewError("SINK_WRITE_ERROR", "failed to append record", http.StatusServiceUnavailable).AsRetryable()
	ErrOffset      = NewError("OFFSET_ERROR", "failed to commit consumer offset", http.StatusInternalServerError).AsFatal()
	ErrDelivery    = NewError("DELIVERY_ERROR", "broker delivery failed", http.StatusBadGateway).AsFatal()
	ErrValidation  = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest)
	ErrInternal    = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	ErrUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so errors.Is(err, ErrSinkWrite) works for derived errors.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return e.Code != ErrValidation.Code
}

func (e *Error) IsFatal() bool {
	if e.retryable != nil {
		return !*e.retryable
	}

	if e.Cause != nil {
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return fatalErr.IsFatal()
		}
	}

	return e.Code == ErrValidation.Code
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	err.Details = details
	return &err
}

func (e *Error) AsRetryable() *Error {
	err := *e
	retryable := true
	err.retryable = &retryable
	return &err
}

func (e *Error) AsFatal() *Error {
	err := *e
	retryable := false
	err.retryable = &retryable
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsParse(err error) bool {
	return hasCode(err, ErrParse.Code)
}

func IsSinkWrite(err error) bool {
	return hasCode(err, ErrSinkWrite.Code)
}

func IsOffset(err error) bool {
	return hasCode(err, ErrOffset.Code)
}

func IsDelivery(err error) bool {
	return hasCode(err, ErrDelivery.Code)
}

func IsConnection(err error) bool {
	return hasCode(err, ErrConnection.Code)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrValidation.Code)
}

// Code returns the taxonomy code of err, or ErrInternal's code for foreign errors.
func Code(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal.Code
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
