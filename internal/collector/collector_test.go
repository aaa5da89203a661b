package collector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/merkle"
	"github.com/omni-build/omni/internal/taskgraph"
)

func TestDigestIsDeterministicForSameInputs(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "main.go")
	os.WriteFile(f, []byte("package main"), 0o644)

	in := TaskInput{
		Node:       taskgraph.NodeID{Project: "app", Task: "build"},
		Command:    "go build ./...",
		InputFiles: []merkle.Input{{Key: "main.go", AbsPath: f}},
		EnvPairs:   []string{"NODE_ENV=production"},
	}

	d1, _, err := Digest(merkle.Index{}, in)
	if err != nil {
		t.Fatal(err)
	}
	d2, _, err := Digest(merkle.Index{}, in)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Fatalf("digest not deterministic: %s != %s", d1, d2)
	}
}

func TestDigestChangesWithCommand(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "main.go")
	os.WriteFile(f, []byte("package main"), 0o644)

	base := TaskInput{
		Node:       taskgraph.NodeID{Project: "app", Task: "build"},
		InputFiles: []merkle.Input{{Key: "main.go", AbsPath: f}},
	}
	a := base
	a.Command = "go build ./..."
	b := base
	b.Command = "go test ./..."

	da, _, _ := Digest(merkle.Index{}, a)
	db, _, _ := Digest(merkle.Index{}, b)
	if da == db {
		t.Fatal("digest did not change when command changed")
	}
}

func TestDigestIncludesDependencyDigestsInOrder(t *testing.T) {
	base := TaskInput{Node: taskgraph.NodeID{Project: "app", Task: "build"}, Command: "x"}
	a := base
	a.DependencyDigests = []digest.Digest{digest.OfString("1"), digest.OfString("2")}
	b := base
	b.DependencyDigests = []digest.Digest{digest.OfString("2"), digest.OfString("1")}

	da, _, _ := Digest(merkle.Index{}, a)
	db, _, _ := Digest(merkle.Index{}, b)
	if da == db {
		t.Fatal("digest should depend on dependency digest order")
	}
}

type fakeProvider struct {
	indices map[string]merkle.Index
}

func (f *fakeProvider) Index(project string) (merkle.Index, error) {
	if f.indices == nil {
		return merkle.Index{}, nil
	}
	return f.indices[project], nil
}

func TestDigestBatchCoversEveryTask(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "a.go")
	os.WriteFile(f, []byte("package a"), 0o644)

	inputs := []TaskInput{
		{Node: taskgraph.NodeID{Project: "app", Task: "build"}, Command: "a"},
		{Node: taskgraph.NodeID{Project: "lib", Task: "build"}, Command: "b"},
		{Node: taskgraph.NodeID{Project: "lib", Task: "test"}, Command: "c"},
	}

	results, err := DigestBatch(&fakeProvider{}, inputs)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected per-task error: %v", r.Err)
		}
	}
}
