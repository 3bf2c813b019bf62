package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshu-sajeev/profilejobs/internal/dto"
)

// Handler runs the business logic of one job kind. The returned value is
// stored as the job result.
type Handler func(ctx context.Context, payload dto.Payload) (any, error)

// Registry maps job kinds to their handlers.
type Registry map[string]Handler

// Kinds lists the registered job kinds.
func (r Registry) Kinds() []string {
	kinds := make([]string, 0, len(r))
	for k := range r {
		kinds = append(kinds, k)
	}
	return kinds
}

// ExecutionFailure is what a failed attempt turns into: a human readable
// message plus trace text. It is reported through OnFailed and never reaches
// the code that dispatched the job.
type ExecutionFailure struct {
	Message   string
	Trace     string
	Permanent bool
	cause     error
}

func (e *ExecutionFailure) Error() string { return e.Message }

func (e *ExecutionFailure) Unwrap() error { return e.cause }

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }

func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying; the worker fails the job on
// the current attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

func traceFor(jobID, kind string, attempt, maxAttempts int, err error) string {
	return fmt.Sprintf("job %s (%s) attempt %d/%d: %+v", jobID, kind, attempt, maxAttempts, err)
}
