package fileset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/omni-build/omni/internal/omnipath"
)

func TestExpandMatchesGlobAndPlainPath(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "dist"), 0o755)
	os.WriteFile(filepath.Join(dir, "dist", "a.js"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(dir, "dist", "b.js"), []byte("b"), 0o644)
	os.WriteFile(filepath.Join(dir, "README.md"), []byte("r"), 0o644)

	patterns := []omnipath.OmniPath{
		omnipath.New("dist/**/*.js"),
		omnipath.New("README.md"),
	}
	got, err := Expand(dir, patterns, omnipath.RootMap{Project: dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %v", got)
	}
}

func TestStageOutputsPreservesRelativeStructure(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "dist"), 0o755)
	os.WriteFile(filepath.Join(dir, "dist", "a.js"), []byte("content"), 0o644)

	staging := t.TempDir()
	if err := StageOutputs(dir, []string{filepath.Join(dir, "dist", "a.js")}, staging); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(staging, "dist", "a.js"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content" {
		t.Fatalf("staged content = %q", data)
	}
}

func TestStageOutputsCopiesWholeDirectoryTree(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "dist", "nested"), 0o755)
	os.WriteFile(filepath.Join(dir, "dist", "a.js"), []byte("top"), 0o644)
	os.WriteFile(filepath.Join(dir, "dist", "nested", "b.js"), []byte("deep"), 0o644)

	staging := t.TempDir()
	// "dist" named as a bare output_path (no glob metacharacters), the
	// shape Expand produces for a directory that should be archived
	// whole rather than matched file-by-file.
	if err := StageOutputs(dir, []string{filepath.Join(dir, "dist")}, staging); err != nil {
		t.Fatal(err)
	}

	top, err := os.ReadFile(filepath.Join(staging, "dist", "a.js"))
	if err != nil || string(top) != "top" {
		t.Fatalf("expected dist/a.js = %q, got %q (err=%v)", "top", top, err)
	}
	deep, err := os.ReadFile(filepath.Join(staging, "dist", "nested", "b.js"))
	if err != nil || string(deep) != "deep" {
		t.Fatalf("expected dist/nested/b.js = %q, got %q (err=%v)", "deep", deep, err)
	}
}
