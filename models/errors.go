package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes used across the processing pipeline.
const (
	ErrCodeConnection  = "CONNECTION_FAILED"
	ErrCodeNavigation  = "NAVIGATION_FAILED"
	ErrCodeStructure   = "SCRAPE_STRUCTURE"
	ErrCodeDownload    = "DOWNLOAD_FAILED"
	ErrCodeMailbox     = "MAILBOX_FAILED"
	ErrCodeLoginWait   = "LOGIN_TIMEOUT"
	ErrCodeInterrupted = "INTERRUPTED"
	ErrCodeInvalid     = "INVALID_INPUT"
)

// ProcError is the internal error type carrying an error code and, for
// connection errors, a human-readable remediation hint. It implements the
// error interface and supports wrapping via Unwrap.
type ProcError struct {
	Code    string
	Message string
	Hint    string // optional operator guidance
	Err     error  // wrapped original error
}

func (e *ProcError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcError) Unwrap() error {
	return e.Err
}

// NewProcError creates a new ProcError.
func NewProcError(code, message string, err error) *ProcError {
	return &ProcError{Code: code, Message: message, Err: err}
}

// WithHint attaches operator guidance to the error and returns it.
func (e *ProcError) WithHint(hint string) *ProcError {
	e.Hint = hint
	return e
}

// HasCode reports whether err is a ProcError with the given code.
func HasCode(err error, code string) bool {
	pe, ok := err.(*ProcError)
	return ok && pe.Code == code
}

// Categorize maps a raw failure to a pipeline error code. An error that
// already carries a code keeps it; a canceled context always wins over
// the fallback.
func Categorize(err error, fallback string) string {
	var pe *ProcError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.Canceled) {
		return ErrCodeInterrupted
	}
	return fallback
}
