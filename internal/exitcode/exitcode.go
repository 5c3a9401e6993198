// Package exitcode maps the outcome of one invocation to a process exit code.
package exitcode

import (
	"errors"
	"fmt"

	"github.com/systmms/dsign/internal/dispatch"
)

// Status is the process exit code.
type Status int

const (
	Success        Status = 0
	Error          Status = 1
	InvalidOptions Status = 2
	NoInputsFound  Status = 3
	SigningFailed  Status = 4
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case InvalidOptions:
		return "invalid-options"
	case NoInputsFound:
		return "no-inputs-found"
	case SigningFailed:
		return "signing-failed"
	default:
		return "error"
	}
}

// Result collects everything that decides the exit status.
// Stages that did not run leave their fields zero.
type Result struct {
	// MissingFiles is set when no file argument was given at all.
	MissingFiles bool

	Resolution error
	Expansion  error
	Validation error

	Report *dispatch.Report
}

// Aggregate returns the exit status for r. First match wins:
// missing files, resolution failure, validation failure, no inputs,
// any failed file, success.
func Aggregate(r Result) Status {
	switch {
	case r.MissingFiles:
		return InvalidOptions
	case r.Resolution != nil:
		return NoInputsFound
	case r.Validation != nil:
		return InvalidOptions
	case r.Expansion != nil, r.Report.Len() == 0:
		return NoInputsFound
	case r.Report.Failed() > 0:
		return SigningFailed
	default:
		return Success
	}
}

// Summarize returns the diagnostic lines explaining Aggregate(r).
func Summarize(r Result) []string {
	switch Aggregate(r) {
	case InvalidOptions:
		if r.MissingFiles {
			return []string{"no files to sign were specified; pass one or more file paths or glob patterns"}
		}
		return []string{fmt.Sprintf("preflight validation failed: %v", r.Validation)}
	case NoInputsFound:
		switch {
		case r.Resolution != nil:
			return []string{fmt.Sprintf("could not resolve credentials: %v", r.Resolution)}
		case r.Expansion != nil:
			return []string{fmt.Sprintf("no inputs found: %v", r.Expansion)}
		default:
			return []string{"no inputs found: the file arguments resolved to an empty set"}
		}
	case SigningFailed:
		lines := []string{fmt.Sprintf("%d of %d file(s) failed to sign (run %s)",
			r.Report.Failed(), r.Report.Len(), r.Report.RunID)}
		for _, e := range r.Report.Failures() {
			lines = append(lines, fmt.Sprintf("  %s: %s", e.Path, e.Outcome.Err))
		}
		return lines
	default:
		return []string{fmt.Sprintf("signed %d file(s) (run %s)", r.Report.Signed(), r.Report.RunID)}
	}
}

// StatusError carries a non-zero Status out of a command.
type StatusError struct {
	Status Status
	Err    error
}

// NewStatusError wraps err with status. Success yields nil.
func NewStatusError(status Status, err error) error {
	if status == Success {
		return nil
	}
	if err == nil {
		err = errors.New(status.String())
	}
	return &StatusError{Status: status, Err: err}
}

func (e *StatusError) Error() string {
	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// FromError returns the exit code for an error returned by a command:
// 0 for nil, the carried status for a StatusError, 1 otherwise.
func FromError(err error) int {
	if err == nil {
		return int(Success)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return int(statusErr.Status)
	}
	return int(Error)
}
