package catalog

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a fetch failure. Each unit of work records the kind of
// its last failure so stage summaries can report what actually went wrong.
type ErrorKind string

// Fetch failure kinds.
const (
	ErrTimeout        ErrorKind = "timeout"
	ErrAborted        ErrorKind = "aborted"
	ErrNavigation     ErrorKind = "navigation"
	ErrExtraction     ErrorKind = "extraction"
	ErrInitialization ErrorKind = "initialization"
	ErrGeneric        ErrorKind = "generic"
)

// FetchError wraps a failure with its classification and the page it hit.
type FetchError struct {
	Kind     ErrorKind
	SitePage int
	Attempt  int
	Err      error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failure on site page %d (attempt %d)", e.Kind, e.SitePage, e.Attempt)
	}
	return fmt.Sprintf("%s failure on site page %d (attempt %d): %v", e.Kind, e.SitePage, e.Attempt, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError builds a classified fetch error.
func NewFetchError(kind ErrorKind, sitePage, attempt int, err error) *FetchError {
	return &FetchError{Kind: kind, SitePage: sitePage, Attempt: attempt, Err: err}
}

// KindOf extracts the classification from err, classifying raw transport and
// context errors when no FetchError is present in the chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Classify(err)
}

// Classify maps an arbitrary error onto the taxonomy. Cancellation always
// wins over timeout so a cancelled run is never misreported as slow.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ErrAborted
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrNavigation
	}
	var ie *InitError
	if errors.As(err, &ie) {
		return ErrInitialization
	}
	return ErrGeneric
}

// InitError marks a condition that invalidates the whole stage rather than a
// single unit, e.g. an impossible page-index mapping or totals exhaustion.
type InitError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *InitError) Error() string {
	if e.Err == nil {
		return "initialization: " + e.Reason
	}
	return fmt.Sprintf("initialization: %s: %v", e.Reason, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *InitError) Unwrap() error {
	return e.Err
}

// NewInitError builds a stage-fatal initialization error.
func NewInitError(reason string, err error) *InitError {
	return &InitError{Reason: reason, Err: err}
}

// IsInitError reports whether err carries an InitError anywhere in its chain.
func IsInitError(err error) bool {
	var ie *InitError
	return errors.As(err, &ie)
}
