package planner

import (
	"testing"

	"github.com/omni-build/omni/internal/project"
	"github.com/omni-build/omni/internal/taskgraph"
)

func newTestWorkspace(t *testing.T) (*project.Workspace, *taskgraph.TaskGraph) {
	t.Helper()
	ws := &project.Workspace{Projects: map[string]*project.Project{}}

	lib := &project.Project{Name: "lib"}
	lib.AddTask(&project.Task{Name: "build", Enabled: true})
	lib.AddTask(&project.Task{Name: "test", Enabled: true, Dependencies: []project.TaskDependency{project.Own("build")}})
	ws.AddProject(lib)

	app := &project.Project{Name: "app", Dependencies: []string{"lib"}, Meta: map[string]interface{}{"tier": "canary"}}
	app.AddTask(&project.Task{Name: "build", Enabled: true, Dependencies: []project.TaskDependency{project.Upstream("build")}})
	ws.AddProject(app)

	tg, warnings, err := taskgraph.Build(ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	return ws, tg
}

func TestBuildPlanLayersRespectDependencies(t *testing.T) {
	ws, tg := newTestWorkspace(t)

	plan, err := Build(ws, tg, Filter{TaskGlob: "build"})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 2 {
		t.Fatalf("plan has %d batches, want 2: %v", len(plan), plan)
	}
	if len(plan[0]) != 1 || plan[0][0] != (taskgraph.NodeID{Project: "lib", Task: "build"}) {
		t.Fatalf("first batch = %v, want [lib#build]", plan[0])
	}
	if len(plan[1]) != 1 || plan[1][0] != (taskgraph.NodeID{Project: "app", Task: "build"}) {
		t.Fatalf("second batch = %v, want [app#build]", plan[1])
	}
}

func TestBuildPlanIgnoreDependenciesSkipsClosure(t *testing.T) {
	ws, tg := newTestWorkspace(t)

	plan, err := Build(ws, tg, Filter{ProjectGlob: "app", TaskGlob: "build", IgnoreDependencies: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 1 || len(plan[0]) != 1 {
		t.Fatalf("plan = %v, want a single batch with one node", plan)
	}
}

func TestBuildPlanIgnoreDependenciesFlattensDependentNodesIntoOneBatch(t *testing.T) {
	ws, tg := newTestWorkspace(t)
	name := SynthesizeExecTaskName("echo", []string{"hello"})

	// app depends on lib; InsertAdHoc wires a real edge between their
	// ad-hoc nodes, mirroring "omni exec -- echo hello" on a workspace
	// with real project dependencies.
	InsertAdHoc(tg, ws, []string{"lib", "app"}, name)

	plan, err := Build(ws, tg, Filter{TaskGlob: name, IgnoreDependencies: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 1 {
		t.Fatalf("plan has %d batches, want exactly 1 (IgnoreDependencies must ignore the lib->app edge entirely): %v", len(plan), plan)
	}
	if len(plan[0]) != 2 {
		t.Fatalf("batch has %d nodes, want both lib and app's ad-hoc nodes together: %v", len(plan[0]), plan[0])
	}
}

func TestSelectExpressionFilter(t *testing.T) {
	ws, tg := newTestWorkspace(t)

	selected, err := Select(ws, tg, Filter{Expression: `meta.tier == "canary"`})
	if err != nil {
		t.Fatal(err)
	}
	if !selected[taskgraph.NodeID{Project: "app", Task: "build"}] {
		t.Fatalf("expected app#build to match expression filter, got %v", selected)
	}
	if selected[taskgraph.NodeID{Project: "lib", Task: "build"}] {
		t.Fatalf("lib#build should not match canary expression")
	}
}

func TestSynthesizeExecTaskNameDeterministic(t *testing.T) {
	a := SynthesizeExecTaskName("echo", []string{"hi"})
	b := SynthesizeExecTaskName("echo", []string{"hi"})
	if a != b {
		t.Fatalf("non-deterministic task name: %q != %q", a, b)
	}
	c := SynthesizeExecTaskName("echo", []string{"bye"})
	if a == c {
		t.Fatalf("different commands produced the same task name")
	}
}

func TestInsertAdHocWiresUpstreamEdges(t *testing.T) {
	ws, tg := newTestWorkspace(t)
	name := SynthesizeExecTaskName("echo", []string{"hi"})

	nodes := InsertAdHoc(tg, ws, []string{"lib", "app"}, name)
	if len(nodes) != 2 {
		t.Fatalf("expected 2 synthetic nodes, got %d", len(nodes))
	}

	deps := tg.DirectDependencies(taskgraph.NodeID{Project: "app", Task: name})
	if len(deps) != 1 || deps[0] != (taskgraph.NodeID{Project: "lib", Task: name}) {
		t.Fatalf("app's ad-hoc deps = %v, want [lib#<name>]", deps)
	}
}
