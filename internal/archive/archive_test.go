package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestArchiveUnarchiveRoundTrip(t *testing.T) {
	src := t.TempDir()
	os.MkdirAll(filepath.Join(src, "nested"), 0o755)
	os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644)
	os.WriteFile(filepath.Join(src, "nested", "b.txt"), []byte("world"), 0o644)
	os.Symlink("a.txt", filepath.Join(src, "link.txt"))

	var buf bytes.Buffer
	assert.NilError(t, Archive(src, &buf))

	dst := t.TempDir()
	assert.NilError(t, Unarchive(dst, &buf))

	a, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(a), "hello"))

	b, err := os.ReadFile(filepath.Join(dst, "nested", "b.txt"))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(string(b), "world"))

	link, err := os.Readlink(filepath.Join(dst, "link.txt"))
	assert.NilError(t, err)
	assert.Check(t, is.Equal(link, "a.txt"))
}

func TestUnarchiveRejectsPathEscape(t *testing.T) {
	var buf bytes.Buffer
	writeHostileEntry(t, &buf, "../../etc/passwd")

	dst := t.TempDir()
	assert.Check(t, is.ErrorContains(Unarchive(dst, &buf), ""))
}

// writeHostileEntry builds a tar.gz stream by hand containing a single
// regular-file entry with a path-traversal name, since Archive() itself
// can only ever emit entries rooted at a real directory walk.
func writeHostileEntry(t *testing.T, buf *bytes.Buffer, name string) {
	t.Helper()
	gzw := gzip.NewWriter(buf)
	tw := tar.NewWriter(gzw)
	content := []byte("hostile")
	if err := tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatal(err)
	}
}
