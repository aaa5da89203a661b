package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func TestNewDefaultsToDiscardWhenNoEnvSet(t *testing.T) {
	logger, closer, err := New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()
	if logger.IsTrace() || logger.IsDebug() || logger.IsInfo() || logger.IsWarn() {
		t.Fatal("expected a no-level logger to report all levels disabled")
	}
}

func TestNewRejectsInvalidStdoutLevel(t *testing.T) {
	_, _, err := New(Config{StdoutTraceLevel: "not-a-level"})
	if err == nil {
		t.Fatal("expected an error for an invalid stdout trace level")
	}
}

func TestNewWritesJSONFileTrace(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := New(Config{
		FileTraceLevel: "info",
		WorkspaceRoot:  dir,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("hello", "key", "value")
	closer.Close()

	data, err := os.ReadFile(filepath.Join(dir, ".omni", "trace", "logs"))
	if err != nil {
		t.Fatalf("expected a trace log file to exist: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected the trace log to contain at least one line")
	}
}

func TestNewRejectsInvalidFileLevel(t *testing.T) {
	dir := t.TempDir()
	_, _, err := New(Config{FileTraceLevel: "nonsense", WorkspaceRoot: dir})
	if err == nil {
		t.Fatal("expected an error for an invalid file trace level")
	}
}

func TestConfigFromEnvReadsTraceVars(t *testing.T) {
	t.Setenv("OMNI_STDOUT_TRACE_LEVEL", "debug")
	t.Setenv("OMNI_STDERR_TRACE_ENABLED", "1")
	t.Setenv("OMNI_FILE_TRACE_LEVEL", "trace")

	cfg := ConfigFromEnv("/tmp/ws")
	if cfg.StdoutTraceLevel != "debug" || !cfg.StderrTraceEnabled || cfg.FileTraceLevel != "trace" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

var _ hclog.Logger = teeLogger{}
