package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCacheStatsCountsEntriesAndBytes(t *testing.T) {
	root := t.TempDir()

	write := func(rel string, size int) {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, make([]byte, size), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("app/digest1/meta.bin", 10)
	write("app/digest1/log.bin", 20)
	write("app/digest2/meta.bin", 5)
	write("web/digest1/meta.bin", 7)

	entries, size, err := cacheStats(root)
	if err != nil {
		t.Fatalf("cacheStats: %v", err)
	}
	if entries != 3 {
		t.Errorf("expected 3 entries, got %d", entries)
	}
	if size != 42 {
		t.Errorf("expected 42 bytes, got %d", size)
	}
}

func TestCacheStatsMissingRootIsEmpty(t *testing.T) {
	entries, size, err := cacheStats(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entries != 0 || size != 0 {
		t.Fatalf("expected empty stats, got entries=%d size=%d", entries, size)
	}
}
