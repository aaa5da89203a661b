package graph

import (
	"testing"

	"github.com/omni-build/omni/internal/project"
)

func TestAddDependencyDetectsCycle(t *testing.T) {
	g := New()
	g.AddProject("a")
	g.AddProject("b")

	if err := g.AddDependency("a", "b"); err != nil {
		t.Fatalf("a -> b: %v", err)
	}
	err := g.AddDependency("b", "a")
	if err == nil {
		t.Fatal("expected cyclic dependency error")
	}
	if _, ok := err.(*CyclicDependency); !ok {
		t.Fatalf("got %T, want *CyclicDependency", err)
	}

	// graph must be unchanged: b -> a should not be queryable.
	deps, _ := g.Ancestors("b")
	for _, d := range deps {
		if d == "a" {
			t.Fatal("cyclic edge leaked into graph after rejection")
		}
	}
}

func TestAddDependencyRejectsDuplicateEdge(t *testing.T) {
	g := New()
	g.AddProject("a")
	g.AddProject("b")
	if err := g.AddDependency("a", "b"); err != nil {
		t.Fatal(err)
	}
	err := g.AddDependency("a", "b")
	if _, ok := err.(*EdgeAlreadyExists); !ok {
		t.Fatalf("got %T, want *EdgeAlreadyExists", err)
	}
}

func TestAncestorsAndDescendents(t *testing.T) {
	g := New()
	for _, n := range []string{"app", "lib", "core"} {
		g.AddProject(n)
	}
	must(t, g.AddDependency("app", "lib"))
	must(t, g.AddDependency("lib", "core"))

	anc, err := g.Ancestors("app")
	if err != nil {
		t.Fatal(err)
	}
	if !contains(anc, "lib") || !contains(anc, "core") {
		t.Fatalf("app ancestors = %v, want lib and core", anc)
	}

	desc, err := g.Descendents("core")
	if err != nil {
		t.Fatal(err)
	}
	if !contains(desc, "lib") || !contains(desc, "app") {
		t.Fatalf("core descendents = %v, want lib and app", desc)
	}
}

func TestBuildFromWorkspace(t *testing.T) {
	ws := &project.Workspace{Projects: map[string]*project.Project{}}
	ws.AddProject(&project.Project{Name: "app", Dependencies: []string{"lib"}})
	ws.AddProject(&project.Project{Name: "lib"})

	g, err := Build(ws)
	if err != nil {
		t.Fatal(err)
	}
	if got := g.DirectDependencies("app"); !contains(got, "lib") {
		t.Fatalf("app direct deps = %v, want [lib]", got)
	}
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	ws := &project.Workspace{Projects: map[string]*project.Project{}}
	ws.AddProject(&project.Project{Name: "app", Dependencies: []string{"missing"}})

	if _, err := Build(ws); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
