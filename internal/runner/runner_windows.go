//go:build windows
// +build windows

package runner

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on windows; job objects would be the
// equivalent primitive but group signaling is scoped to unix here.
func setProcessGroup(cmd *exec.Cmd) {}

func processGroupID(cmd *exec.Cmd) int { return 0 }

func termSignal() os.Signal { return os.Interrupt }
func killSignal() os.Signal { return os.Kill }

// signalGroup kills the process directly; windows has no SIGTERM
// equivalent cheap enough to emulate here, so a grace-period "terminate"
// degrades to an immediate kill of the single process.
func signalGroup(pgid, pid int, sig os.Signal) error {
	if pid == 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
