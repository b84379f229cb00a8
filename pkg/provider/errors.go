// Package provider holds the shared plumbing for external collaborators:
// the error taxonomy, bounded retry with exponential backoff, per-call
// deadlines and circuit breaking.
package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Sentinel errors for the two retryable failure classes.
var (
	// ErrTransient indicates the collaborator was unreachable or timed out.
	ErrTransient = errors.New("transient provider error")
	// ErrMalformed indicates the collaborator answered with unparsable or
	// schema-invalid output.
	ErrMalformed = errors.New("malformed provider response")
)

// TransientError wraps an underlying failure that is worth retrying and,
// after retries are exhausted, degrading over.
type TransientError struct {
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ErrTransient.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Is implements errors.Is support so wrapped transient errors match both
// *TransientError targets and ErrTransient.
func (e *TransientError) Is(target error) bool {
	if target == ErrTransient {
		return true
	}
	_, ok := target.(*TransientError)
	return ok
}

// NewTransientError wraps err as transient with an optional message.
func NewTransientError(message string, err error) *TransientError {
	return &TransientError{Message: message, Err: err}
}

// MalformedError wraps provider output that could not be parsed or failed
// schema validation.
type MalformedError struct {
	Message string
	Err     error
}

func (e *MalformedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ErrMalformed.Error()
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Is implements errors.Is support for MalformedError.
func (e *MalformedError) Is(target error) bool {
	if target == ErrMalformed {
		return true
	}
	_, ok := target.(*MalformedError)
	return ok
}

// NewMalformedError wraps err as malformed with an optional message.
func NewMalformedError(message string, err error) *MalformedError {
	return &MalformedError{Message: message, Err: err}
}

// IsTransient reports whether err belongs to the transient class.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsMalformed reports whether err belongs to the malformed class.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}

// IsRetryable reports whether err should be retried: both failure classes
// are, plus anything that smells like a timeout or server-side failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTransient(err) || IsMalformed(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMsg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"500", "internal server error",
		"502", "bad gateway",
		"503", "service unavailable",
		"504", "gateway timeout",
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure",
		"rate limit",
		"too many requests",
		"429",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	type httpErrorWithStatusCode interface {
		HTTPStatusCode() int
	}
	var httpErr httpErrorWithStatusCode
	if errors.As(err, &httpErr) {
		statusCode := httpErr.HTTPStatusCode()
		if statusCode >= 500 || statusCode == http.StatusTooManyRequests {
			return true
		}
	}

	return false
}

// Classify maps an arbitrary collaborator error onto the taxonomy: malformed
// stays malformed, everything else retryable-looking becomes transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsMalformed(err) || IsTransient(err) {
		return err
	}
	return NewTransientError("", err)
}
