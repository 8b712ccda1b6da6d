package models

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies why a request failed.
type ErrorKind int

const (
	KindMissingInput ErrorKind = iota + 1
	KindDecodeFailure
	KindInferenceFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindMissingInput:
		return "missing_input"
	case KindDecodeFailure:
		return "decode_failure"
	case KindInferenceFailure:
		return "inference_failure"
	default:
		return "unknown"
	}
}

// StatusCode maps the kind to the HTTP status written to the caller.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindMissingInput, KindDecodeFailure:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type ProcessingError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

func NewMissingInput(message string) error {
	return &ProcessingError{Kind: KindMissingInput, Message: message}
}

func NewDecodeFailure(message string, cause error) error {
	return &ProcessingError{Kind: KindDecodeFailure, Message: message, Cause: cause}
}

func NewInferenceFailure(message string, cause error) error {
	return &ProcessingError{Kind: KindInferenceFailure, Message: message, Cause: cause}
}

// KindOf returns the kind carried by err, or 0 when err is not a ProcessingError.
func KindOf(err error) ErrorKind {
	var perr *ProcessingError
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}

// StatusCode returns the HTTP status for err. Unclassified errors are 500.
func StatusCode(err error) int {
	return KindOf(err).StatusCode()
}
