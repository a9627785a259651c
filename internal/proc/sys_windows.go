//go:build windows

package proc

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// signalGroup approximates Unix group signaling on Windows: signal 0 probes
// existence, SIGKILL maps to taskkill /T on the process tree, and SIGTERM is
// a best-effort taskkill without /F.
func signalGroup(pid int, sig syscall.Signal) error {
	switch sig {
	case syscall.Signal(0):
		if _, err := os.FindProcess(pid); err != nil {
			return err
		}
		return nil
	case syscall.SIGKILL:
		// #nosec G204
		return exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
	case syscall.SIGTERM:
		// #nosec G204
		return exec.Command("taskkill", "/T", "/PID", strconv.Itoa(pid)).Run()
	default:
		return fmt.Errorf("unsupported signal %v on windows", sig)
	}
}

func getShellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/C", script)
}

func getTrueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/C", "exit 0")
}
