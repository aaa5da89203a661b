// Package logging builds the hclog.Logger used across the module,
// wired to three trace-level environment variables
// (`OMNI_STDOUT_TRACE_LEVEL`, `OMNI_STDERR_TRACE_ENABLED`,
// `OMNI_FILE_TRACE_LEVEL`) instead of the single `TURBO_LOG_LEVEL`/
// `-v` verbosity count turborepo uses.
//
// Grounded on turborepo's internal/cmdutil.Helper.getLogger: the same
// hclog.LoggerOptions construction (Name, Level, Color, Output), the
// same "NoLevel means discard output entirely" default, generalized to
// a second, independent sink (the file trace log at
// `<workspace>/.omni/trace/logs`) that turborepo's single-logger
// design doesn't have.
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/kelseyhightower/envconfig"
)

// Config captures the trace-level environment variables.
type Config struct {
	// StdoutTraceLevel is OMNI_STDOUT_TRACE_LEVEL, an hclog level name
	// ("trace", "debug", "info", "warn", "error"). Empty disables stdout
	// logging entirely.
	StdoutTraceLevel string `envconfig:"STDOUT_TRACE_LEVEL"`
	// StderrTraceEnabled is OMNI_STDERR_TRACE_ENABLED; when set, the
	// console log goes to stderr instead of stdout, at StdoutTraceLevel
	// (hclog's default, info, when that is empty).
	StderrTraceEnabled bool `envconfig:"STDERR_TRACE_ENABLED"`
	// FileTraceLevel is OMNI_FILE_TRACE_LEVEL; when non-empty, writes
	// JSON-line trace records to WorkspaceRoot/.omni/trace/logs.
	FileTraceLevel string `envconfig:"FILE_TRACE_LEVEL"`
	// WorkspaceRoot anchors the file trace log path. Required only when
	// FileTraceLevel is set.
	WorkspaceRoot string `envconfig:"-"`
}

// ConfigFromEnv reads the three trace env vars with the OMNI_ prefix.
func ConfigFromEnv(workspaceRoot string) Config {
	var cfg Config
	envconfig.Process("OMNI", &cfg)
	cfg.WorkspaceRoot = workspaceRoot
	return cfg
}

// fileTracePath is the persisted-state location for the optional
// JSON-lines file trace log.
func fileTracePath(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, ".omni", "trace", "logs")
}

// New builds the root logger per cfg. Console output is discarded and the
// logger is switched off unless StdoutTraceLevel or StderrTraceEnabled is
// set (FileTraceLevel adds the file sink independently), mirroring
// turborepo's "default output is nowhere unless we enable logging."
// The returned io.Closer closes the file trace sink, if one was opened;
// callers should register it with their cleanup list (turborepo's
// Helper.RegisterCleanup idiom).
func New(cfg Config) (hclog.Logger, io.Closer, error) {
	stdoutLevel := hclog.NoLevel
	if cfg.StdoutTraceLevel != "" {
		stdoutLevel = hclog.LevelFromString(cfg.StdoutTraceLevel)
		if stdoutLevel == hclog.NoLevel {
			return nil, nil, fmt.Errorf("OMNI_STDOUT_TRACE_LEVEL value %q is not a valid log level", cfg.StdoutTraceLevel)
		}
	}

	output := io.Discard
	color := hclog.ColorOff
	if stdoutLevel != hclog.NoLevel {
		output = os.Stdout
		color = hclog.AutoColor
	}
	if cfg.StderrTraceEnabled {
		output = os.Stderr
	}
	// hclog treats NoLevel as its default (info), so a logger with no
	// console sink is switched off explicitly.
	level := stdoutLevel
	if output == io.Discard {
		level = hclog.Off
	}

	var fileCloser io.Closer = nopCloser{}
	if cfg.FileTraceLevel != "" {
		fileLevel := hclog.LevelFromString(cfg.FileTraceLevel)
		if fileLevel == hclog.NoLevel {
			return nil, nil, fmt.Errorf("OMNI_FILE_TRACE_LEVEL value %q is not a valid log level", cfg.FileTraceLevel)
		}
		path := fileTracePath(cfg.WorkspaceRoot)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: creating trace directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: opening trace log: %w", err)
		}
		fileCloser = f

		fileLogger := hclog.New(&hclog.LoggerOptions{
			Name:       "omni",
			Level:      fileLevel,
			Output:     f,
			JSONFormat: true,
		})
		stdoutLogger := hclog.New(&hclog.LoggerOptions{
			Name:   "omni",
			Level:  level,
			Color:  color,
			Output: output,
		})
		return teeLogger{primary: stdoutLogger, secondary: fileLogger}, fileCloser, nil
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "omni",
		Level:  level,
		Color:  color,
		Output: output,
	}), fileCloser, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// teeLogger forwards every leveled call to both primary and secondary,
// so the same log line can go to a human-readable, optionally colored
// stdout stream and a JSON-lines file trace simultaneously. Every
// non-leveled method (With, Named, level queries, ...) delegates to
// primary only; secondary is assumed to share primary's name and level
// policy, just a different sink and encoding.
type teeLogger struct {
	primary   hclog.Logger
	secondary hclog.Logger
}

func (t teeLogger) Trace(msg string, args ...interface{}) {
	t.primary.Trace(msg, args...)
	t.secondary.Trace(msg, args...)
}
func (t teeLogger) Debug(msg string, args ...interface{}) {
	t.primary.Debug(msg, args...)
	t.secondary.Debug(msg, args...)
}
func (t teeLogger) Info(msg string, args ...interface{}) {
	t.primary.Info(msg, args...)
	t.secondary.Info(msg, args...)
}
func (t teeLogger) Warn(msg string, args ...interface{}) {
	t.primary.Warn(msg, args...)
	t.secondary.Warn(msg, args...)
}
func (t teeLogger) Error(msg string, args ...interface{}) {
	t.primary.Error(msg, args...)
	t.secondary.Error(msg, args...)
}
func (t teeLogger) IsTrace() bool { return t.primary.IsTrace() || t.secondary.IsTrace() }
func (t teeLogger) IsDebug() bool { return t.primary.IsDebug() || t.secondary.IsDebug() }
func (t teeLogger) IsInfo() bool  { return t.primary.IsInfo() || t.secondary.IsInfo() }
func (t teeLogger) IsWarn() bool  { return t.primary.IsWarn() || t.secondary.IsWarn() }
func (t teeLogger) IsError() bool { return t.primary.IsError() || t.secondary.IsError() }

func (t teeLogger) ImpliedArgs() []interface{} { return t.primary.ImpliedArgs() }

func (t teeLogger) With(args ...interface{}) hclog.Logger {
	return teeLogger{primary: t.primary.With(args...), secondary: t.secondary.With(args...)}
}

func (t teeLogger) Name() string { return t.primary.Name() }

func (t teeLogger) Named(name string) hclog.Logger {
	return teeLogger{primary: t.primary.Named(name), secondary: t.secondary.Named(name)}
}

func (t teeLogger) ResetNamed(name string) hclog.Logger {
	return teeLogger{primary: t.primary.ResetNamed(name), secondary: t.secondary.ResetNamed(name)}
}

func (t teeLogger) SetLevel(level hclog.Level) {
	t.primary.SetLevel(level)
	t.secondary.SetLevel(level)
}

func (t teeLogger) GetLevel() hclog.Level { return t.primary.GetLevel() }

func (t teeLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *stdlog.Logger {
	return t.primary.StandardLogger(opts)
}

func (t teeLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return t.primary.StandardWriter(opts)
}
