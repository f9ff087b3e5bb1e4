package generate

import (
	"context"
	"errors"
	"fmt"
)

// Backend is a text-completion service: one system instruction, one user
// prompt, free text back.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

var ErrEmptyResponse = errors.New("empty response")

// BackendError is any failure of the generation backend. The generator
// always recovers from it; it exists so logs say which call failed.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("generation backend: %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func asBackendError(op string, err error) *BackendError {
	var be *BackendError
	if errors.As(err, &be) {
		return be
	}
	return &BackendError{Op: op, Err: err}
}
