// Package loaderrors contains the errors returned by the bulk loader components.
// The command line entrypoints look for the error types defined in this file and
// map them onto a process exit code.
//
// If multiple errors occur in some function (e.g., if several worker processes fail), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package loaderrors

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const (
	ExitCodeOk            = 0
	ExitCodeFailure       = 1
	ExitCodeConfiguration = 2
	ExitCodeInterrupted   = 130
)

// ErrInterrupted is returned by the orchestrator when a termination signal stopped the run.
var ErrInterrupted = errors.New("interrupted by signal")

// ErrCorpusRead is returned when the corpus file cannot be opened or read.
type ErrCorpusRead struct {
	Path  string
	Cause error
}

func (err *ErrCorpusRead) Error() string {
	return fmt.Sprintf("reading corpus %q: %s", err.Path, err.Cause)
}

func (err *ErrCorpusRead) Unwrap() error {
	return err.Cause
}

// ErrIndexCorrupt is returned when an offset sidecar is malformed, truncated or does not match its corpus.
// Line is the 1-based line of the sidecar at which the problem was found, or 0 if not line specific.
type ErrIndexCorrupt struct {
	Path    string
	Line    int
	Message string
}

func (err *ErrIndexCorrupt) Error() string {
	if err.Line > 0 {
		return fmt.Sprintf("offset index %q is corrupt at line %d; %s", err.Path, err.Line, err.Message)
	}
	return fmt.Sprintf("offset index %q is corrupt; %s", err.Path, err.Message)
}

// ErrInvalidPartition is returned for a rank/total combination that cannot be partitioned.
type ErrInvalidPartition struct {
	Rank       int
	TotalRanks int
	Message    string
}

func (err *ErrInvalidPartition) Error() string {
	return fmt.Sprintf("invalid partition rank=%d totalRanks=%d; %s", err.Rank, err.TotalRanks, err.Message)
}

// ErrLineRead is returned when a corpus line cannot be read at its recorded offset or is not valid JSON.
// This indicates a mismatch between the corpus and its offset index.
type ErrLineRead struct {
	Line    int
	Offset  int64
	Message string
	Cause   error
}

func (err *ErrLineRead) Error() (s string) {
	s = fmt.Sprintf("reading line %d at offset %d: %s", err.Line, err.Offset, err.Message)
	if err.Cause != nil {
		s = s + fmt.Sprintf("; %s", err.Cause)
	}
	return
}

func (err *ErrLineRead) Unwrap() error {
	return err.Cause
}

// ErrSubmissionFailure is returned when the backend could not accept some documents.
// Lines holds the corpus lines that remained rejected once the retry budget was spent; it is empty
// when the failure concerns a whole submission (e.g., a response that does not align with its batch).
type ErrSubmissionFailure struct {
	Rank        int
	Lines       []int
	Generations int
	Message     string
}

func (err *ErrSubmissionFailure) Error() string {
	if len(err.Lines) > 0 {
		return fmt.Sprintf("rank %d: %d document(s) still rejected after %d retry generation(s)", err.Rank, len(err.Lines), err.Generations)
	}
	return fmt.Sprintf("rank %d: bulk submission failed; %s", err.Rank, err.Message)
}

// ErrWorkerProcess is returned when a worker process exits with a non-zero status.
type ErrWorkerProcess struct {
	Rank     int
	Pid      int
	ExitCode int
	Stderr   string
}

func (err *ErrWorkerProcess) Error() string {
	return fmt.Sprintf("worker rank %d (pid %d) failed with exit code %d", err.Rank, err.Pid, err.ExitCode)
}

// ErrShutdownTimeout is returned when a worker did not stop within its grace period and had to be killed.
type ErrShutdownTimeout struct {
	Rank        int
	Pid         int
	GracePeriod time.Duration
}

func (err *ErrShutdownTimeout) Error() string {
	return fmt.Sprintf("worker rank %d (pid %d) did not terminate within %s and was killed", err.Rank, err.Pid, err.GracePeriod)
}

// ExitCodeFromError maps error types to process exit codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitCodeOk
	}
	if errors.Is(err, ErrInterrupted) {
		return ExitCodeInterrupted
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrInvalidPartition
		if errors.As(err, &e) {
			return ExitCodeConfiguration
		}
	}
	{
		var e *ErrIndexCorrupt
		if errors.As(err, &e) {
			return ExitCodeConfiguration
		}
	}
	{
		var e *ErrCorpusRead
		if errors.As(err, &e) {
			return ExitCodeConfiguration
		}
	}
	{
		var e validator.ValidationErrors
		if errors.As(err, &e) {
			return ExitCodeConfiguration
		}
	}

	return ExitCodeFailure
}
