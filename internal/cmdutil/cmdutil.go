// Package cmdutil holds functionality shared by every omni subcommand:
// common flag parsing and construction of the UI/logger/workspace/cache
// components a command needs to run.
package cmdutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"

	"github.com/omni-build/omni/internal/cachestore"
	"github.com/omni-build/omni/internal/envfile"
	"github.com/omni-build/omni/internal/logging"
	"github.com/omni-build/omni/internal/project"
	"github.com/omni-build/omni/internal/ui"
)

// Helper holds configuration values bound by flag that drive the
// construction of a CmdBase, shared by every subcommand's RunE.
type Helper struct {
	Version string

	forceColor bool
	noColor    bool
	verbosity  int
	rawCwd     string

	cleanupsMu sync.Mutex
	cleanups   []io.Closer
}

// NewHelper builds a Helper for the given build version string.
func NewHelper(version string) *Helper {
	return &Helper{Version: version}
}

// AddFlags registers the flags common to every omni command.
func (h *Helper) AddFlags(flags *pflag.FlagSet) {
	flags.BoolVar(&h.forceColor, "color", false, "force color usage in the terminal")
	flags.BoolVar(&h.noColor, "no-color", false, "suppress color usage in the terminal")
	flags.CountVarP(&h.verbosity, "verbosity", "v", "increase logging verbosity (-v, -vv, -vvv)")
	flags.StringVar(&h.rawCwd, "cwd", "", "directory to run omni in (defaults to the process working directory)")
}

// RegisterCleanup saves a closer to run once after command execution, even
// if the command itself returned an error.
func (h *Helper) RegisterCleanup(c io.Closer) {
	h.cleanupsMu.Lock()
	defer h.cleanupsMu.Unlock()
	h.cleanups = append(h.cleanups, c)
}

// Cleanup runs every registered cleanup, reporting (not failing on) any
// error it returns.
func (h *Helper) Cleanup() {
	h.cleanupsMu.Lock()
	defer h.cleanupsMu.Unlock()
	for _, c := range h.cleanups {
		if err := c.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "omni: cleanup error: %v\n", err)
		}
	}
}

func (h *Helper) colorMode() ui.ColorMode {
	mode := ui.GetColorModeFromEnv()
	if h.noColor {
		mode = ui.ColorModeSuppressed
	}
	if h.forceColor {
		mode = ui.ColorModeForced
	}
	return mode
}

// verbosityLevel maps the repeatable -v flag to an hclog level name,
// overriding OMNI_STDOUT_TRACE_LEVEL when the user passed at least one -v.
func (h *Helper) verbosityLevel() string {
	switch {
	case h.verbosity >= 3:
		return "trace"
	case h.verbosity == 2:
		return "debug"
	case h.verbosity == 1:
		return "info"
	default:
		return ""
	}
}

func (h *Helper) cwd() (string, error) {
	if h.rawCwd != "" {
		expanded, err := homedir.Expand(h.rawCwd)
		if err != nil {
			return "", fmt.Errorf("--cwd %q: %w", h.rawCwd, err)
		}
		return filepath.Abs(expanded)
	}
	return os.Getwd()
}

// CmdBase bundles the components every subcommand's RunE needs.
type CmdBase struct {
	UI      cli.Ui
	Logger  hclog.Logger
	Version string

	Workspace *project.Workspace
	Cache     *cachestore.Store
	EnvLoader *envfile.Loader
	Colors    *ui.ColorCache
}

// LogError logs an error to both the structured logger and the terminal,
// returning it unchanged so callers can `return base.LogError(...)`.
func (b *CmdBase) LogError(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	b.Logger.Error("error", "err", err)
	b.UI.Error(err.Error())
	return err
}

// LogWarning logs a warning to both the structured logger and the terminal.
func (b *CmdBase) LogWarning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.Logger.Warn(msg)
	b.UI.Warn(msg)
}

// GetCmdBase loads the workspace rooted at (or above) the resolved cwd and
// wires the logger, UI, cache store, and env loader every subcommand
// shares. With requireWorkspace false, a missing workspace is not an
// error: the caller gets a bare Workspace{Root: cwd} when no marker file
// is found. Every current command passes true; "completion" builds no
// CmdBase at all.
func (h *Helper) GetCmdBase(requireWorkspace bool) (*CmdBase, error) {
	cwd, err := h.cwd()
	if err != nil {
		return nil, err
	}

	ws, err := project.LoadWorkspace(cwd)
	if err != nil {
		if requireWorkspace {
			return nil, err
		}
		ws = &project.Workspace{Root: cwd}
	}

	cfg := logging.ConfigFromEnv(ws.Root)
	if v := h.verbosityLevel(); v != "" {
		cfg.StdoutTraceLevel = v
	}
	logger, closer, err := logging.New(cfg)
	if err != nil {
		return nil, err
	}
	h.RegisterCleanup(closer)

	terminal := ui.BuildColoredUi(h.colorMode(), os.Stdin, os.Stdout, os.Stderr)

	return &CmdBase{
		UI:        terminal,
		Logger:    logger,
		Version:   h.Version,
		Workspace: ws,
		Cache:     cachestore.New(filepath.Join(ws.Root, ".omni", "cache")),
		EnvLoader: envfile.NewLoader(),
		Colors:    ui.NewColorCache(),
	}, nil
}
