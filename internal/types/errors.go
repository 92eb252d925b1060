package types

import (
	"errors"
	"fmt"
)

// ErrorKind buckets failures by how callers should react
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotFound    ErrorKind = "not_found"
	KindConflict    ErrorKind = "conflict"
	KindTransient   ErrorKind = "transient"
	KindOperational ErrorKind = "operational"
	KindFatal       ErrorKind = "fatal"
)

// DomainError carries an error kind across package boundaries so RPC and
// HTTP adapters can map failures without string matching.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewValidation reports bad caller input
func NewValidation(format string, args ...interface{}) error {
	return &DomainError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound reports a missing entity
func NewNotFound(format string, args ...interface{}) error {
	return &DomainError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewConflict reports a uniqueness or state-guard violation
func NewConflict(format string, args ...interface{}) error {
	return &DomainError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NewTransient wraps a retryable transport failure
func NewTransient(err error, format string, args ...interface{}) error {
	return &DomainError{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewOperational wraps a persistent external failure
func NewOperational(err error, format string, args ...interface{}) error {
	return &DomainError{Kind: KindOperational, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewFatal reports a failure that must abort daemon start
func NewFatal(format string, args ...interface{}) error {
	return &DomainError{Kind: KindFatal, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the error kind, defaulting to operational for plain errors
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindOperational
}

// IsNotFound reports whether err is a not-found domain error
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a conflict domain error
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsValidation reports whether err is a validation domain error
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
