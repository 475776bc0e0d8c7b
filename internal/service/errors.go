package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/agilira/go-errors"
	"github.com/timmy/confingest/internal/archive"
	"github.com/timmy/confingest/internal/conf"
	"github.com/timmy/confingest/internal/domain"
)

// JobError is a classified job failure. Message is safe to show to API
// clients; the wrapped Err carries the diagnostic chain.
type JobError struct {
	Class   domain.ErrorClass `json:"class"`
	Message string            `json:"message"`
	// Code is the leaf error code when the cause carried one.
	Code string `json:"code,omitempty"`
	Err  error  `json:"-"`
}

// Error implements the error interface.
func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *JobError) Unwrap() error {
	return e.Err
}

// Is matches another JobError of the same class and code.
func (e *JobError) Is(target error) bool {
	t, ok := target.(*JobError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// Detail renders the full error chain for operators.
func (e *JobError) Detail() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %+v", e.Message, e.Err)
}

// NewPermanentError creates an error that is never retried.
func NewPermanentError(message string, err error) *JobError {
	return &JobError{Class: domain.ErrorClassPermanent, Message: message, Err: err}
}

// NewTransientError creates an error retried with backoff.
func NewTransientError(message string, err error) *JobError {
	return &JobError{Class: domain.ErrorClassTransient, Message: message, Err: err}
}

// NewTimeoutError creates an error for a stale or over-long attempt.
func NewTimeoutError(message string, err error) *JobError {
	return &JobError{Class: domain.ErrorClassTimeout, Message: message, Err: err}
}

// IsPermanent checks if an error is permanent.
func IsPermanent(err error) bool {
	return ClassOf(err) == domain.ErrorClassPermanent
}

// IsTransient checks if an error is transient.
func IsTransient(err error) bool {
	return ClassOf(err) == domain.ErrorClassTransient
}

// IsTimeout checks if an error is a timeout.
func IsTimeout(err error) bool {
	return ClassOf(err) == domain.ErrorClassTimeout
}

// ClassOf returns the class of a JobError in err's chain, or "".
func ClassOf(err error) domain.ErrorClass {
	var je *JobError
	if errors.As(err, &je) {
		return je.Class
	}
	return ""
}

// Classify turns any pipeline error into a JobError. Archive contents and
// conf encoding problems are permanent, deadlines are timeouts and
// everything else (storage, database, local disk) is transient.
func Classify(message string, err error) *JobError {
	if err == nil {
		return nil
	}
	var je *JobError
	if errors.As(err, &je) {
		return je
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(message, err)
	}

	code := errorCode(err)
	switch {
	case strings.HasPrefix(code, "ARCHIVE_"):
		jerr := NewPermanentError(message, err)
		if archive.IsTransient(err) {
			jerr.Class = domain.ErrorClassTransient
		}
		jerr.Code = code
		return jerr
	case code == conf.ErrCodeInvalidEncoding:
		jerr := NewPermanentError(message, err)
		jerr.Code = code
		return jerr
	}

	jerr := NewTransientError(message, err)
	jerr.Code = code
	return jerr
}

func errorCode(err error) string {
	var coder goerrors.ErrorCoder
	if errors.As(err, &coder) {
		return string(coder.ErrorCode())
	}
	return ""
}
