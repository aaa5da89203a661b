package wshash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/merkle"
)

func TestAggregateIsOrderIndependent(t *testing.T) {
	a := ProjectRoot{Project: "a", Root: digest.OfString("a-root")}
	b := ProjectRoot{Project: "b", Root: digest.OfString("b-root")}
	c := ProjectRoot{Project: "c", Root: digest.OfString("c-root")}

	first := Aggregate([]ProjectRoot{a, b, c})
	second := Aggregate([]ProjectRoot{c, a, b})
	if first != second {
		t.Fatal("expected aggregate to be independent of input order")
	}
}

func TestAggregateChangesWithAnyProjectRoot(t *testing.T) {
	a := ProjectRoot{Project: "a", Root: digest.OfString("a-root")}
	b := ProjectRoot{Project: "b", Root: digest.OfString("b-root")}
	bChanged := ProjectRoot{Project: "b", Root: digest.OfString("b-root-v2")}

	before := Aggregate([]ProjectRoot{a, b})
	after := Aggregate([]ProjectRoot{a, bChanged})
	if before == after {
		t.Fatal("expected aggregate to change when a project root changes")
	}
}

func TestUnionInputsDedupesByKey(t *testing.T) {
	taskA := []merkle.Input{{Key: "src/shared.go", AbsPath: "/x/src/shared.go"}}
	taskB := []merkle.Input{
		{Key: "src/shared.go", AbsPath: "/x/src/shared.go"},
		{Key: "src/only-b.go", AbsPath: "/x/src/only-b.go"},
	}
	union := UnionInputs([][]merkle.Input{taskA, taskB})
	if len(union) != 2 {
		t.Fatalf("expected 2 unique inputs, got %d", len(union))
	}
}

func TestProjectRootForHashesUnionOfInputs(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	os.WriteFile(file, []byte("content"), 0o644)

	inputs := [][]merkle.Input{{{Key: "a.txt", AbsPath: file}}}
	root, _, err := ProjectRootFor(merkle.Index{}, inputs)
	if err != nil {
		t.Fatal(err)
	}
	if root.IsZero() {
		t.Fatal("expected a non-zero root")
	}
}
