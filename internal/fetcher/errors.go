package fetcher

import (
	"errors"
	"fmt"
	"strings"
)

// AuthenticationError means the portal rejected the login or the session.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("portal authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "portal authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransportError covers network failures, timeouts, non-2xx responses and
// HTML bodies served in place of a data file. StatusCode is 0 when no
// response was received.
type TransportError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *TransportError) Error() string {
	msg := "portal transport error"
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (http %d)", msg, e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// FormatError means the payload matched none of the supported tabular formats.
// Attempts holds one error per parser tried.
type FormatError struct {
	Attempts []error
}

func (e *FormatError) Error() string {
	if len(e.Attempts) == 0 {
		return "unrecognized payload format"
	}
	parts := make([]string, len(e.Attempts))
	for i, err := range e.Attempts {
		parts[i] = err.Error()
	}
	return "unrecognized payload format: " + strings.Join(parts, "; ")
}

func (e *FormatError) Unwrap() []error { return e.Attempts }

// SchemaError means the table lacks required columns.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "payload missing required columns: " + strings.Join(e.Missing, ", ")
}

// IsFatal reports whether err aborts a whole sync run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var (
		authErr   *AuthenticationError
		transErr  *TransportError
		formatErr *FormatError
		schemaErr *SchemaError
	)
	return errors.As(err, &authErr) ||
		errors.As(err, &transErr) ||
		errors.As(err, &formatErr) ||
		errors.As(err, &schemaErr)
}
