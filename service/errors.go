package service

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure the pipeline can surface.
type ErrorKind string

const (
	KindInvalidInput      ErrorKind = "invalid_input"
	KindStorageExhausted  ErrorKind = "storage_exhausted"
	KindUnknownModel      ErrorKind = "unknown_model"
	KindCorruptImage      ErrorKind = "corrupt_image"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindTimeout           ErrorKind = "timeout"
	KindInternal          ErrorKind = "internal_error"
)

// PipelineError carries an error kind and a client-safe message.
// The message never contains filesystem paths or upstream payloads.
type PipelineError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *PipelineError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.cause
}

// NewError creates a PipelineError with the given kind and message.
func NewError(kind ErrorKind, message string) *PipelineError {
	return &PipelineError{Kind: kind, Message: message}
}

// WrapError attaches an underlying cause for logs; the cause is never
// exposed in HTTP responses.
func WrapError(kind ErrorKind, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the error kind, defaulting to KindInternal for
// anything that is not a PipelineError.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// ClientMessage returns the message safe to show callers.
func ClientMessage(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return "internal server error"
}

// HTTPStatus maps each kind to a stable response status.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidInput, KindUnknownModel:
		return http.StatusBadRequest
	case KindCorruptImage:
		return http.StatusUnprocessableEntity
	case KindStorageExhausted, KindResourceExhausted:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the client may retry the same request.
// Input-derived failures never are.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindStorageExhausted, KindResourceExhausted, KindTimeout:
		return true
	default:
		return false
	}
}
