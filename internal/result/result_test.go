package result

import (
	"testing"
	"time"

	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/taskgraph"
)

func node(project, task string) taskgraph.NodeID {
	return taskgraph.NodeID{Project: project, Task: task}
}

func TestCompletedSuccess(t *testing.T) {
	r := Completed(node("app", "build"), digest.OfString("x"), 0, time.Second, false, 1)
	if !r.Success() {
		t.Fatal("expected success")
	}
	if r.IsFailure() {
		t.Fatal("expected not a failure")
	}
}

func TestCompletedNonzeroExitIsFailure(t *testing.T) {
	r := Completed(node("app", "build"), digest.OfString("x"), 1, time.Second, false, 1)
	if r.Success() {
		t.Fatal("expected not success")
	}
	if !r.IsFailure() {
		t.Fatal("expected failure")
	}
}

func TestErroredIsFailure(t *testing.T) {
	r := Errored(node("app", "build"), "boom", 3)
	if !r.IsFailure() {
		t.Fatal("expected failure")
	}
	if r.IsSkippedDueToError() {
		t.Fatal("errored is not skipped")
	}
}

func TestSkippedDueToErrorVariants(t *testing.T) {
	dep := Skipped(node("app", "build"), ReasonDependeeTaskFailure)
	if !dep.IsSkippedDueToError() {
		t.Fatal("expected skipped-due-to-error")
	}
	prev := Skipped(node("app", "build"), ReasonPreviousBatchFailure)
	if !prev.IsSkippedDueToError() {
		t.Fatal("expected skipped-due-to-error")
	}
	disabled := Skipped(node("app", "build"), ReasonDisabled)
	if disabled.IsSkippedDueToError() {
		t.Fatal("disabled skip is not due to an error")
	}
	if disabled.IsFailure() || disabled.Success() {
		t.Fatal("a skip is neither a success nor a failure")
	}
}
