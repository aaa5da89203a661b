package pipeline

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/omni-build/omni/internal/cachestore"
	"github.com/omni-build/omni/internal/merkle"
	"github.com/omni-build/omni/internal/planner"
	"github.com/omni-build/omni/internal/project"
	"github.com/omni-build/omni/internal/result"
	"github.com/omni-build/omni/internal/taskgraph"
)

func buildTask(name string, command string, enabled bool) *project.Task {
	return &project.Task{Name: name, Command: command, Enabled: enabled, CachePolicy: project.CacheEnabled}
}

func node(proj, task string) taskgraph.NodeID {
	return taskgraph.NodeID{Project: proj, Task: task}
}

func TestRunCompletesSuccessfulTask(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	n := node("app", "build")
	p := &Pipeline{
		Plan: planner.Plan{{n}},
		Contexts: map[taskgraph.NodeID]TaskContext{
			n: {Task: buildTask("build", "true", true), Cwd: t.TempDir()},
		},
		Config: DefaultConfig(),
	}
	results, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !results[0].Success() {
		t.Fatalf("expected one successful result, got %+v", results)
	}
}

func TestRunReportsNonzeroExitAsFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	n := node("app", "build")
	p := &Pipeline{
		Plan: planner.Plan{{n}},
		Contexts: map[taskgraph.NodeID]TaskContext{
			n: {Task: buildTask("build", "false", true), Cwd: t.TempDir()},
		},
		Config: DefaultConfig(),
	}
	results, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !results[0].IsFailure() {
		t.Fatalf("expected one failed result, got %+v", results)
	}
}

func TestRunSkipsDisabledTask(t *testing.T) {
	n := node("app", "build")
	p := &Pipeline{
		Plan: planner.Plan{{n}},
		Contexts: map[taskgraph.NodeID]TaskContext{
			n: {Task: buildTask("build", "true", false), Cwd: t.TempDir()},
		},
		Config: DefaultConfig(),
	}
	results, _ := p.Run(context.Background())
	if len(results) != 1 || results[0].Status != result.StatusSkipped || results[0].Reason != result.ReasonDisabled {
		t.Fatalf("expected a disabled skip, got %+v", results)
	}
}

func TestRunDryRunSkipsExecution(t *testing.T) {
	n := node("app", "build")
	p := &Pipeline{
		Plan: planner.Plan{{n}},
		Contexts: map[taskgraph.NodeID]TaskContext{
			// a command that would fail if actually run, to prove dry-run
			// never spawns it.
			n: {Task: buildTask("build", "false", true), Cwd: t.TempDir()},
		},
		Config: Config{DryRun: true, MaxConcurrency: runtime.NumCPU()},
	}
	results, _ := p.Run(context.Background())
	if len(results) != 1 || !results[0].Success() {
		t.Fatalf("expected dry-run success, got %+v", results)
	}
}

func TestRunAbortSkipsRemainingBatches(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	a := node("app", "fail")
	b := node("app", "later")
	p := &Pipeline{
		Plan: planner.Plan{{a}, {b}},
		Contexts: map[taskgraph.NodeID]TaskContext{
			a: {Task: buildTask("fail", "false", true), Cwd: t.TempDir()},
			b: {Task: buildTask("later", "true", true), Cwd: t.TempDir()},
		},
		Config: Config{OnFailure: OnFailureAbort, MaxConcurrency: runtime.NumCPU()},
	}
	results, _ := p.Run(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[1].IsSkippedDueToError() {
		t.Fatalf("expected the second batch's task to be skipped, got %+v", results[1])
	}
}

func TestRunReplaysCacheHit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a posix shell command")
	}
	store := cachestore.New(t.TempDir())
	n := node("app", "build")
	task := buildTask("build", "echo should-not-run", true)

	p := &Pipeline{
		Plan: planner.Plan{{n}},
		Contexts: map[taskgraph.NodeID]TaskContext{
			n: {Task: task, Cwd: t.TempDir(), Command: task.Command},
		},
		Cache:  store,
		Config: DefaultConfig(),
	}

	// precompute the digest the pipeline will derive, and seed a hit.
	digests, err := p.digestBatch([]taskgraph.NodeID{n}, map[string]merkle.Index{})
	if err != nil {
		t.Fatal(err)
	}
	d, ok := digests[n]
	if !ok {
		t.Fatal("no digest computed for app#build")
	}
	store.CacheMany([]cachestore.NewEntry{{Project: "app", Task: "build", Digest: d, ExitCode: 0, Duration: time.Second}})

	results, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !results[0].CacheHit || !results[0].Success() {
		t.Fatalf("expected one replayed cache hit, got %+v", results)
	}
}
