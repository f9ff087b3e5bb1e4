package scrape

import (
	"errors"
	"fmt"
)

// ErrBrowserUnavailable is returned by drivers when the browser could not be
// (re)launched.
var ErrBrowserUnavailable = errors.New("browser unavailable")

// ValidationError rejects input before any browser work. It is never retried.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// TransientError reports a navigation or browser failure that outlived the
// retry budget. Err is the last underlying failure.
type TransientError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("acquire %s: gave up after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
