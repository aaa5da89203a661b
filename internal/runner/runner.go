// Package runner implements the child process runner: it shells out to
// a task's command, choosing between a PTY and a plain pipe pair
// depending on whether the invocation is interactive or being recorded
// for cache replay, and it owns the process-group signal delivery used
// during pipeline cancellation.
//
// Grounded on turborepo's internal/process/child.go (itself adapted
// from hashicorp/consul-template's child package): the NewInput-style
// options struct, the Start/Wait/Signal/Stop lifecycle, and the
// platform split for process-group handling (runner_unix.go /
// runner_windows.go mirror turborepo's sys_nix.go / sys_windows.go).
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/kballard/go-shellquote"
	"github.com/mattn/go-isatty"
	"github.com/omni-build/omni/internal/omnierr"
)

// Mode selects how the child's standard streams are wired up.
type Mode int

const (
	// ModePTY attaches the child to a pseudo-terminal slave and exposes a
	// single combined output stream cloned from the master.
	ModePTY Mode = iota
	// ModePipe wires three plain OS pipes for stdin/stdout/stderr.
	ModePipe
)

// DefaultKillGrace is used by Terminate when the caller doesn't specify
// a grace period.
const DefaultKillGrace = 5 * time.Second

// Options configures one spawn.
type Options struct {
	// Command is the task's shell command line; it is split into argv
	// via POSIX shell word rules.
	Command string
	// Cwd is the working directory for the child; empty means inherit.
	Cwd string
	// Env is the fully-resolved environment (inherited plus overridden)
	// to pass to the child, in "KEY=VALUE" form.
	Env []string
	// KeepStdinOpen disables the default behavior of closing stdin when
	// no input reader is supplied; interactive tasks set this.
	KeepStdinOpen bool
	// Recording forces pipe mode even on a terminal, since a PTY stream
	// interleaves stdout/stderr and can't be replayed faithfully from
	// cache.
	Recording bool
	// ForceMode overrides automatic mode detection when non-nil.
	ForceMode *Mode
	// KillGrace is how long Terminate waits after SIGTERM before
	// escalating to SIGKILL when ctx is canceled. <=0 uses
	// DefaultKillGrace.
	KillGrace time.Duration
}

// resolveMode implements the mode-selection rule: PTY by default when
// stdout is a terminal and the run isn't being recorded, pipe mode
// otherwise (headless, CI, or cache-replay recording).
func resolveMode(opts Options) Mode {
	if opts.ForceMode != nil {
		return *opts.ForceMode
	}
	if opts.Recording {
		return ModePipe
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return ModePTY
	}
	return ModePipe
}

// Process is a spawned child command. Its stream accessors follow a
// one-shot "take" contract: each can be called at most once, after
// which it returns ok=false.
type Process struct {
	cmd  *exec.Cmd
	mode Mode

	ptmx *os.File

	stdinW  io.WriteCloser
	stdoutR io.ReadCloser
	stderrR io.ReadCloser

	mu            sync.Mutex
	tookInput     bool
	tookOutput    bool
	tookError     bool
	stdinClosedBy string // "" | "consumer" | "runner"
	keepStdinOpen bool

	waitOnce sync.Once
	waitErr  error
	exitCode int
	waitDone chan struct{}

	pgid int
}

// Start parses opts.Command into argv and spawns it per opts, choosing
// PTY or pipe mode automatically unless opts.ForceMode is set.
//
// The child is spawned with a plain exec.Command rather than
// exec.CommandContext: CommandContext's built-in cancellation kills the
// child immediately (SIGKILL) on ctx.Done, with no grace period. Instead
// Start spawns a watcher that calls Terminate(opts.KillGrace) once ctx is
// done, so cancellation always goes through the SIGTERM-then-SIGKILL
// path.
func Start(ctx context.Context, opts Options) (*Process, error) {
	argv, err := shellquote.Split(opts.Command)
	if err != nil {
		return nil, omnierr.Wrapf(omnierr.ChildSpawnError, err, "runner: parsing command %q", opts.Command)
	}
	if len(argv) == 0 {
		return nil, omnierr.New(omnierr.ChildSpawnError, "runner: empty command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Cwd
	if opts.Env != nil {
		cmd.Env = opts.Env
	}

	mode := resolveMode(opts)
	p := &Process{cmd: cmd, mode: mode, waitDone: make(chan struct{})}

	switch mode {
	case ModePTY:
		if err := p.startPTY(); err != nil {
			return nil, err
		}
	default:
		if err := p.startPipe(); err != nil {
			return nil, err
		}
	}

	// An unclaimed stdin is closed when Wait is called, unless the caller
	// asked to keep it open; see closeUnclaimedStdin.
	p.keepStdinOpen = opts.KeepStdinOpen

	p.pgid = processGroupID(cmd)

	if ctx != nil {
		go p.watchContext(ctx, opts.KillGrace)
	}

	return p, nil
}

// watchContext calls Terminate(grace) as soon as ctx is done, unless the
// process has already exited on its own.
func (p *Process) watchContext(ctx context.Context, grace time.Duration) {
	select {
	case <-ctx.Done():
		p.Terminate(grace)
	case <-p.waitDone:
	}
}

func (p *Process) startPTY() error {
	f, err := pty.Start(p.cmd)
	if err != nil {
		return omnierr.Wrap(omnierr.ChildSpawnError, fmt.Errorf("runner: starting pty: %w", err))
	}
	p.ptmx = f
	return nil
}

func (p *Process) startPipe() error {
	setProcessGroup(p.cmd)

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return omnierr.Wrap(omnierr.ChildSpawnError, fmt.Errorf("runner: stdin pipe: %w", err))
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return omnierr.Wrap(omnierr.ChildSpawnError, fmt.Errorf("runner: stdout pipe: %w", err))
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return omnierr.Wrap(omnierr.ChildSpawnError, fmt.Errorf("runner: stderr pipe: %w", err))
	}
	p.stdinW = stdin
	p.stdoutR = stdout
	p.stderrR = stderr

	if err := p.cmd.Start(); err != nil {
		return omnierr.Wrap(omnierr.ChildSpawnError, fmt.Errorf("runner: starting: %w", err))
	}
	return nil
}

// TakeInputWriter returns the child's stdin writer, once. In PTY mode
// this is the master end; in pipe mode it's the stdin pipe. Returns
// ok=false on the second call or if the mode has no writable stdin.
func (p *Process) TakeInputWriter() (w io.WriteCloser, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tookInput {
		return nil, false
	}
	p.tookInput = true
	p.stdinClosedBy = "consumer"
	switch p.mode {
	case ModePTY:
		return p.ptmx, true
	default:
		if p.stdinW == nil {
			return nil, false
		}
		return p.stdinW, true
	}
}

// TakeOutputReader returns the child's primary output stream, once. In
// PTY mode this is the combined master read side; in pipe mode it's
// stdout.
func (p *Process) TakeOutputReader() (r io.Reader, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tookOutput {
		return nil, false
	}
	p.tookOutput = true
	switch p.mode {
	case ModePTY:
		return p.ptmx, true
	default:
		return p.stdoutR, true
	}
}

// TakeErrorReader returns the child's stderr stream, once, pipe mode
// only.
func (p *Process) TakeErrorReader() (r io.Reader, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != ModePipe || p.tookError {
		return nil, false
	}
	p.tookError = true
	return p.stderrR, true
}

// Mode reports which mode this process was started in.
func (p *Process) Mode() Mode { return p.mode }

// Pid returns the child's process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *Process) closeUnclaimedStdin() {
	p.mu.Lock()
	claimed := p.tookInput
	p.mu.Unlock()
	if claimed || p.keepStdinOpen {
		return
	}
	switch p.mode {
	case ModePTY:
		// the pty master is shared between input and output; closing it
		// here would sever the output reader too, so an unclaimed PTY
		// stdin is simply left open until the process exits on its own.
	default:
		if p.stdinW != nil {
			p.stdinW.Close()
		}
	}
}

// Wait blocks until the child exits and returns its exit code. Calling
// Wait more than once returns the cached result.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		defer close(p.waitDone)
		p.closeUnclaimedStdin()
		err := p.cmd.Wait()
		if err == nil {
			p.exitCode = 0
			return
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.exitCode = exitErr.ExitCode()
			return
		}
		p.waitErr = err
		p.exitCode = -1
	})
	return p.exitCode, p.waitErr
}

// Terminate sends SIGTERM to the child's process group, waits up to
// grace for it to exit, then sends SIGKILL to any survivor. grace<=0 uses DefaultKillGrace.
func (p *Process) Terminate(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultKillGrace
	}
	if err := signalGroup(p.pgid, p.Pid(), termSignal()); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		return signalGroup(p.pgid, p.Pid(), killSignal())
	}
}
