package cachestore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/omni-build/omni/internal/digest"
)

func TestCacheManyThenGetManyRoundTrip(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	outDir := t.TempDir()
	os.WriteFile(filepath.Join(outDir, "out.txt"), []byte("built"), 0o644)

	d := digest.OfString("task-1")
	err := s.CacheMany([]NewEntry{{
		Project:   "app",
		Task:      "build",
		Digest:    d,
		ExitCode:  0,
		Duration:  2 * time.Second,
		Logs:      []byte("log output"),
		OutputDir: outDir,
	}})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMany([]TaskInfo{{Project: "app", Task: "build", Digest: d}})
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := got[d]
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if entry.ExitCode != 0 || entry.ProjectName != "app" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestGetManyMissReturnsNoEntry(t *testing.T) {
	s := New(t.TempDir())
	got, err := s.GetMany([]TaskInfo{{Project: "app", Task: "build", Digest: digest.OfString("missing")}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %v", got)
	}
}

func TestReplayRestoresOutputsAndLogs(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	outDir := t.TempDir()
	os.WriteFile(filepath.Join(outDir, "out.txt"), []byte("built"), 0o644)

	d := digest.OfString("task-2")
	s.CacheMany([]NewEntry{{Project: "app", Task: "build", Digest: d, Logs: []byte("hello logs"), OutputDir: outDir}})

	entries, _ := s.GetMany([]TaskInfo{{Project: "app", Task: "build", Digest: d}})
	entry := entries[d]

	var logBuf bytes.Buffer
	restoreDir := t.TempDir()
	if err := s.Replay(entry, restoreDir, &logBuf); err != nil {
		t.Fatal(err)
	}
	if logBuf.String() != "hello logs" {
		t.Fatalf("logs = %q, want %q", logBuf.String(), "hello logs")
	}
	data, err := os.ReadFile(filepath.Join(restoreDir, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "built" {
		t.Fatalf("restored output = %q, want built", data)
	}
}

func TestReadEntryRejectsDigestMismatch(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	d1 := digest.OfString("a")
	d2 := digest.OfString("b")

	s.CacheMany([]NewEntry{{Project: "app", Task: "build", Digest: d1, Logs: []byte("x")}})

	got, err := s.GetMany([]TaskInfo{{Project: "app", Task: "build", Digest: d1}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got[d1]; !ok {
		t.Fatal("expected valid entry for d1")
	}

	// Simulate corruption: move d1's entry into the directory named for
	// d2's base58, so its meta.bin no longer matches the directory name.
	if err := os.Rename(s.entryDir("app", d1), s.entryDir("app", d2)); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetMany([]TaskInfo{{Project: "app", Task: "build", Digest: d2}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got[d2]; ok {
		t.Fatal("expected an entry whose meta digest mismatches its directory to be rejected")
	}
}

func TestPruneDryRunDoesNotDelete(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	d := digest.OfString("prune-me")
	s.CacheMany([]NewEntry{{Project: "app", Task: "build", Digest: d, Logs: []byte("x")}})

	result, err := s.Prune(PruneFilter{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.RemovedEntries != 1 {
		t.Fatalf("expected 1 candidate entry, got %d", result.RemovedEntries)
	}

	got, _ := s.GetMany([]TaskInfo{{Project: "app", Task: "build", Digest: d}})
	if _, ok := got[d]; !ok {
		t.Fatal("dry-run prune must not have deleted the entry")
	}
}

func TestPruneActuallyDeletes(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	d := digest.OfString("prune-me-2")
	s.CacheMany([]NewEntry{{Project: "app", Task: "build", Digest: d, Logs: []byte("x")}})

	result, err := s.Prune(PruneFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if result.RemovedEntries != 1 {
		t.Fatalf("expected 1 removed entry, got %d", result.RemovedEntries)
	}

	got, _ := s.GetMany([]TaskInfo{{Project: "app", Task: "build", Digest: d}})
	if _, ok := got[d]; ok {
		t.Fatal("entry should have been deleted")
	}
}
