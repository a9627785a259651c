package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// aliveRecheck bounds the short liveness re-check performed when a signal
// probe cannot determine process state.
const (
	aliveRecheckAttempts = 3
	aliveRecheckInterval = 50 * time.Millisecond
	killReapTimeout      = 2 * time.Second
)

// Handle owns exactly one spawned OS child process. It is created by Spawn
// and never reused: once the child exits the handle stays in the exited
// state and a new Handle must be spawned.
//
// All methods are safe for concurrent use. The exit status is captured by a
// single monitor goroutine started by Spawn; Done is closed when the child
// has been reaped.
type Handle struct {
	mu        sync.Mutex
	spec      Spec
	cmd       *exec.Cmd
	startedAt time.Time
	exited    bool
	exitErr   error
	done      chan struct{}
	outCloser io.WriteCloser
	errCloser io.WriteCloser
}

// Spawn starts the child described by spec. onExit, when non-nil, is invoked
// from the monitor goroutine after the child has been reaped, with the error
// returned by Wait (nil for a clean exit).
//
// Spawn fails with SpawnError{NotFound} when the working directory or the
// executable is missing and SpawnError{PermissionDenied} when the executable
// cannot be run. The AlreadyRunning guard lives with the handle's owner,
// which knows whether a live handle exists for the role.
func Spawn(spec Spec, onExit func(error)) (*Handle, error) {
	if spec.WorkDir == "" {
		return nil, &SpawnError{Kind: SpawnNotFound, Role: spec.Role, Err: errors.New("working directory not set")}
	}
	if fi, err := os.Stat(spec.WorkDir); err != nil || !fi.IsDir() {
		return nil, &SpawnError{Kind: SpawnNotFound, Role: spec.Role, Err: fmt.Errorf("working directory %s: %w", spec.WorkDir, errOr(err, errors.New("not a directory")))}
	}

	cmd := spec.buildCommand()
	cmd.Dir = spec.WorkDir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureSysProcAttr(cmd)

	h := &Handle{spec: spec, done: make(chan struct{})}
	h.wireOutput(cmd)

	if err := cmd.Start(); err != nil {
		h.closeWriters()
		return nil, classifySpawnErr(spec.Role, err)
	}

	h.mu.Lock()
	h.cmd = cmd
	h.startedAt = time.Now()
	h.mu.Unlock()

	go h.monitor(onExit)
	return h, nil
}

// wireOutput connects the child's stdout/stderr to rotated log files and,
// for stdout, the optional live tap.
func (h *Handle) wireOutput(cmd *exec.Cmd) {
	if h.spec.Log.Dir != "" || h.spec.Log.StdoutPath != "" || h.spec.Log.StderrPath != "" {
		if h.spec.Log.Dir != "" {
			_ = os.MkdirAll(h.spec.Log.Dir, 0o750)
		}
		outW, errW, _ := h.spec.Log.Writers(h.spec.Role)
		h.outCloser = outW
		h.errCloser = errW
	}

	switch {
	case h.outCloser != nil && h.spec.StdoutTap != nil:
		cmd.Stdout = io.MultiWriter(h.outCloser, h.spec.StdoutTap)
	case h.outCloser != nil:
		cmd.Stdout = h.outCloser
	case h.spec.StdoutTap != nil:
		cmd.Stdout = h.spec.StdoutTap
	default:
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if h.errCloser != nil {
		cmd.Stderr = h.errCloser
	} else if h.spec.StdoutTap != nil {
		// Helper tools often interleave diagnostics on stderr; keep them in
		// the live stream when no file is configured.
		cmd.Stderr = h.spec.StdoutTap
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
}

// monitor is the single goroutine allowed to call cmd.Wait.
func (h *Handle) monitor(onExit func(error)) {
	err := h.cmd.Wait()

	h.mu.Lock()
	h.exited = true
	h.exitErr = err
	h.mu.Unlock()

	h.closeWriters()
	close(h.done)
	if onExit != nil {
		onExit(err)
	}
}

func (h *Handle) closeWriters() {
	h.mu.Lock()
	out, errW := h.outCloser, h.errCloser
	h.outCloser, h.errCloser = nil, nil
	h.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errW != nil {
		_ = errW.Close()
	}
}

// PID returns the child's process id, or 0 when not started.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// StartedAt returns the spawn time.
func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitErr returns the error captured from Wait, valid after Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

// Alive reports whether the child process is still running. It never returns
// an error; an indeterminate probe counts as dead only after a short
// re-check loop.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	exited := h.exited
	pid := 0
	if h.cmd != nil && h.cmd.Process != nil {
		pid = h.cmd.Process.Pid
	}
	h.mu.Unlock()

	if exited || pid == 0 {
		return false
	}
	for i := 0; i < aliveRecheckAttempts; i++ {
		if signalGroup(pid, syscall.Signal(0)) == nil {
			return true
		}
		select {
		case <-h.done:
			return false
		case <-time.After(aliveRecheckInterval):
		}
	}
	return false
}

// RequestExit sends the OS terminate signal to the child's process group and
// waits up to timeout for the child to exit. It reports whether the child
// exited within the window.
func (h *Handle) RequestExit(timeout time.Duration) bool {
	if !h.Alive() {
		return true
	}
	pid := h.PID()
	_ = signalGroup(pid, syscall.SIGTERM)

	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ForceKill sends the OS kill signal to the child's process group. Calling
// it on an already-dead handle is a no-op returning nil. A non-nil error
// means the OS refused the signal or the child could not be reaped; the
// caller must treat the process state as unknown.
func (h *Handle) ForceKill() error {
	h.mu.Lock()
	exited := h.exited
	pid := 0
	if h.cmd != nil && h.cmd.Process != nil {
		pid = h.cmd.Process.Pid
	}
	h.mu.Unlock()

	if exited || pid == 0 {
		return nil
	}
	if err := signalGroup(pid, syscall.SIGKILL); err != nil && h.Alive() {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(killReapTimeout):
		return fmt.Errorf("pid %d not reaped after kill", pid)
	}
}

func classifySpawnErr(role string, err error) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return &SpawnError{Kind: SpawnNotFound, Role: role, Err: err}
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES):
		return &SpawnError{Kind: SpawnPermissionDenied, Role: role, Err: err}
	default:
		return &SpawnError{Kind: SpawnNotFound, Role: role, Err: err}
	}
}

func errOr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
