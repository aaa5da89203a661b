package cmd

import (
	"reflect"
	"testing"

	"github.com/omni-build/omni/internal/project"
)

func testWorkspace(names ...string) *project.Workspace {
	ws := &project.Workspace{Root: "/ws"}
	for _, n := range names {
		_ = ws.AddProject(&project.Project{Name: n, Dir: "/ws/" + n})
	}
	return ws
}

func TestSelectProjectsDefaultsToEveryProject(t *testing.T) {
	ws := testWorkspace("api", "web", "worker")
	got, err := selectProjects(ws, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, ws.Order) {
		t.Errorf("expected every project in order, got %v", got)
	}
}

func TestSelectProjectsFiltersByGlob(t *testing.T) {
	ws := testWorkspace("api", "web", "web-admin")
	got, err := selectProjects(ws, "web*")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"web", "web-admin"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSelectProjectsRejectsInvalidGlob(t *testing.T) {
	ws := testWorkspace("api")
	if _, err := selectProjects(ws, "["); err == nil {
		t.Fatal("expected an error for an invalid glob")
	}
}
