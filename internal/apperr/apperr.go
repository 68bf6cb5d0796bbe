// Package apperr provides unified error handling with structured error codes.
// Every public entry point in the service converts internal failures into
// state transitions or status values; AppError is how the cause travels with
// enough structure to drive retry and recovery policy.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an error for policy decisions (retry, recovery, fail-fast).
type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInternal        Code = "INTERNAL"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeTimeout         Code = "TIMEOUT"
	CodeBusy            Code = "BUSY"

	CodeCaptureDenied Code = "CAPTURE_DENIED"
	CodeCaptureFailed Code = "CAPTURE_FAILED"
	CodeCaptureRace   Code = "CAPTURE_RACE" // stop/unload on an already-released session

	CodeUploadFailed    Code = "UPLOAD_FAILED"
	CodeJobSubmitFailed Code = "JOB_SUBMIT_FAILED"
	CodeJobPollFailed   Code = "JOB_POLL_FAILED"
	CodeStoreFailed     Code = "STORE_FAILED"
)

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the code from an error chain, CodeUnknown if none.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable returns true if the error is potentially transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeTimeout, CodeBusy, CodeUploadFailed, CodeJobSubmitFailed, CodeJobPollFailed:
		return true
	default:
		return false
	}
}

// IsCaptureRelated reports whether an error stems from the capture layer,
// which selects the simplified recovery path in the transcription pipeline.
func IsCaptureRelated(err error) bool {
	switch CodeOf(err) {
	case CodeCaptureDenied, CodeCaptureFailed, CodeCaptureRace:
		return true
	default:
		return false
	}
}
