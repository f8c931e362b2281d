package errors

import (
	"errors"
	"time"
)

// Code enumerates the error taxonomy every layer of the core reports through.
type Code string

const (
	CodeValidation        Code = "validation_error"
	CodeNotFound          Code = "not_found"
	CodePermission        Code = "permission_error"
	CodeQuota             Code = "quota_error"
	CodeTransientExternal Code = "transient_external_error"
	CodePersistence       Code = "persistence_error"
	CodeConcurrency       Code = "concurrency_error"
	CodeEngine            Code = "engine_error"
)

// AppError encodes domain specific error details.
type AppError struct {
	Code       Code
	Message    string
	Err        error
	RetryAfter time.Duration // set only for CodeQuota when the backend reported one
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Wrap produces a new AppError instance.
func Wrap(code Code, message string, err error) error {
	return &AppError{Code: code, Message: message, Err: err}
}

// WrapQuota produces a CodeQuota error carrying an optional retry-after hint.
func WrapQuota(message string, err error, retryAfter time.Duration) error {
	return &AppError{Code: CodeQuota, Message: message, Err: err, RetryAfter: retryAfter}
}

// IsCode reports whether err (or something it wraps) carries the given code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// AsAppError extracts the *AppError from err, if any.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
