package dispatch

import (
	"fmt"
	"time"

	"github.com/systmms/dsign/pkg/signature"
)

// Status is the result of signing one file.
type Status int

const (
	StatusSigned Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusSigned {
		return "signed"
	}
	return "failed"
}

// Outcome is Signed or Failed with a typed error.
type Outcome struct {
	Status Status
	Err    *signature.Error
}

// Signed returns a successful outcome.
func Signed() Outcome {
	return Outcome{Status: StatusSigned}
}

// Failed returns a failed outcome. A nil err is recorded as KindUnknown.
func Failed(err *signature.Error) Outcome {
	if err == nil {
		err = &signature.Error{Kind: signature.KindUnknown}
	}
	return Outcome{Status: StatusFailed, Err: err}
}

// Failed reports whether the file was not signed.
func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}

func (o Outcome) String() string {
	if !o.Failed() {
		return o.Status.String()
	}
	return fmt.Sprintf("failed (%s)", o.Err)
}

// Entry is one row of a Report.
type Entry struct {
	Path     string
	Outcome  Outcome
	Duration time.Duration
}

// Report holds per-file outcomes in the order of the input file set.
type Report struct {
	RunID    string
	Provider string
	Entries  []Entry
	Elapsed  time.Duration
}

// Len returns the number of entries.
func (r *Report) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Entries)
}

// Signed counts signed files.
func (r *Report) Signed() int {
	return r.Len() - r.Failed()
}

// Failed counts failed files.
func (r *Report) Failed() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, e := range r.Entries {
		if e.Outcome.Failed() {
			n++
		}
	}
	return n
}

// Failures returns the failed entries in report order.
func (r *Report) Failures() []Entry {
	if r == nil {
		return nil
	}
	var out []Entry
	for _, e := range r.Entries {
		if e.Outcome.Failed() {
			out = append(out, e)
		}
	}
	return out
}

// FailuresByKind counts failed entries per failure kind.
func (r *Report) FailuresByKind() map[signature.Kind]int {
	counts := make(map[signature.Kind]int)
	for _, e := range r.Failures() {
		counts[e.Outcome.Err.Kind]++
	}
	return counts
}
