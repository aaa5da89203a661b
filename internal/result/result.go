// Package result defines the outcome record the pipeline orchestrator
// produces for every task. Grounded on turborepo's
// internal/run/run_state.go RunResult/RunResultStatus shape: a single
// struct carrying a status enum plus the fields relevant to whichever
// status applies, rather than three separate types, since Go has no
// tagged-union sum type to match that shape directly.
package result

import (
	"fmt"
	"time"

	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/taskgraph"
)

// Status is the outcome kind of a task's run.
type Status int

const (
	StatusCompleted Status = iota
	StatusErrored
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusErrored:
		return "errored"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SkipReason explains why a Skipped result was produced.
type SkipReason int

const (
	// ReasonPreviousBatchFailure marks a task skipped because an earlier
	// batch failed and on_failure=Abort stops the whole plan.
	ReasonPreviousBatchFailure SkipReason = iota
	// ReasonDependeeTaskFailure marks a task skipped because a direct or
	// transitive dependency failed under on_failure=SkipDependents.
	ReasonDependeeTaskFailure
	// ReasonDisabled marks a task skipped because it is not enabled.
	ReasonDisabled
)

func (r SkipReason) String() string {
	switch r {
	case ReasonPreviousBatchFailure:
		return "previous_batch_failure"
	case ReasonDependeeTaskFailure:
		return "dependee_task_failure"
	case ReasonDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Result is the outcome of one task's execution attempt, or the reason
// it never ran.
type Result struct {
	Task   taskgraph.NodeID
	Status Status

	// Completed fields.
	Hash     digest.Digest
	ExitCode int
	Elapsed  time.Duration
	CacheHit bool

	// Errored fields.
	ErrorMessage string

	// Shared by Completed and Errored.
	Tries int

	// Skipped fields.
	Reason SkipReason
}

// Completed builds a successful-execution result.
func Completed(task taskgraph.NodeID, hash digest.Digest, exitCode int, elapsed time.Duration, cacheHit bool, tries int) Result {
	return Result{
		Task:     task,
		Status:   StatusCompleted,
		Hash:     hash,
		ExitCode: exitCode,
		Elapsed:  elapsed,
		CacheHit: cacheHit,
		Tries:    tries,
	}
}

// Errored builds a failed-execution result.
func Errored(task taskgraph.NodeID, message string, tries int) Result {
	return Result{
		Task:         task,
		Status:       StatusErrored,
		ErrorMessage: message,
		Tries:        tries,
	}
}

// Skipped builds a never-ran result.
func Skipped(task taskgraph.NodeID, reason SkipReason) Result {
	return Result{
		Task:   task,
		Status: StatusSkipped,
		Reason: reason,
	}
}

// Success reports whether the task ran and exited cleanly.
func (r Result) Success() bool {
	return r.Status == StatusCompleted && r.ExitCode == 0
}

// IsFailure reports whether the task ran but failed, either by a
// nonzero exit code or by erroring before/after execution.
func (r Result) IsFailure() bool {
	if r.Status == StatusErrored {
		return true
	}
	return r.Status == StatusCompleted && r.ExitCode != 0
}

// IsSkippedDueToError reports whether this task never ran because of
// some earlier failure, as opposed to being disabled.
func (r Result) IsSkippedDueToError() bool {
	return r.Status == StatusSkipped &&
		(r.Reason == ReasonPreviousBatchFailure || r.Reason == ReasonDependeeTaskFailure)
}
