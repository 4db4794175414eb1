// Package ocrerrors defines the bounded error-code vocabulary used on
// per-image and job-level completion envelopes, and the retryable
// classification that drives the orchestrator's requeue decision.
package ocrerrors

import "errors"

// Code is a machine-readable error classification. Only these values
// are ever placed on the wire.
type Code string

const (
	CodeBadRequest       Code = "bad_request"
	CodeSchemaInvalid    Code = "schema_invalid"
	CodeImageNotFound    Code = "image_not_found"
	CodeUnsupportedMedia Code = "unsupported_media"
	CodeOCREngineError   Code = "ocr_engine_error"
	CodeFileReadError    Code = "file_read_error"
	CodeRedisError       Code = "redis_error"
	CodeInternalError    Code = "internal_error"
	CodeNoValidOutput    Code = "ocr_no_valid_output"
)

// retryable holds the retry classification. Codes absent from this
// map are treated as non-retryable.
var retryable = map[Code]bool{
	CodeBadRequest:       false,
	CodeSchemaInvalid:    false,
	CodeImageNotFound:    false,
	CodeUnsupportedMedia: false,
	CodeOCREngineError:   true,
	CodeFileReadError:    true,
	CodeRedisError:       true,
	CodeInternalError:    true,
	CodeNoValidOutput:    false,
}

// Retryable reports whether a job carrying this job-level error code
// should be requeued with an incremented attempt count.
func Retryable(code Code) bool {
	return retryable[code]
}

// Error pairs a Code with a human-readable message, matching the
// error shape both per-image results and job-level failures carry.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error wrapping an underlying cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error,
// otherwise returns CodeInternalError.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}
