package registry

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownSource is returned when a source name has no registered provider.
	ErrUnknownSource = errors.New("unknown source")

	// ErrUnsupported is returned when a source does not implement an operation.
	ErrUnsupported = errors.New("operation not supported")

	// ErrMalformed is returned when a provider produced a record that does not
	// match the requested source or subject.
	ErrMalformed = errors.New("malformed record")
)

// SourceError is a failure attributed to one source.
// StatusCode is 0 for logical (non-HTTP) failures.
type SourceError struct {
	Source     string
	StatusCode int
	Message    string

	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration

	Err error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Source, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// UnknownSource builds the error returned for an unregistered source name.
func UnknownSource(source string) error {
	return &SourceError{
		Source:  source,
		Message: fmt.Sprintf("no provider registered for %q", source),
		Err:     ErrUnknownSource,
	}
}

// Unsupported builds the error returned when a source lacks an operation.
func Unsupported(source, message string) error {
	return &SourceError{
		Source:  source,
		Message: message,
		Err:     ErrUnsupported,
	}
}
