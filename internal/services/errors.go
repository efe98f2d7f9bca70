package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable classification carried on
// every service error and mapped to an HTTP status by the handlers.
type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "invalid_input"
	KindNotFound            ErrorKind = "not_found"
	KindForbidden           ErrorKind = "forbidden"
	KindVerificationFailed  ErrorKind = "verification_failed"
	KindConfigurationError  ErrorKind = "configuration_error"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindInvalidTransition   ErrorKind = "invalid_status_transition"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind, or "" for unclassified errors.
func KindOf(err error) ErrorKind {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind
	}
	return ""
}

func invalidInputf(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func forbiddenf(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func verificationFailedf(format string, args ...any) error {
	return &Error{Kind: KindVerificationFailed, Message: fmt.Sprintf(format, args...)}
}

func configurationErrorf(format string, args ...any) error {
	return &Error{Kind: KindConfigurationError, Message: fmt.Sprintf(format, args...)}
}

func upstreamError(message string, err error) error {
	return &Error{Kind: KindUpstreamUnavailable, Message: message, Err: err}
}

func transitionError(message string, err error) error {
	return &Error{Kind: KindInvalidTransition, Message: message, Err: err}
}
