//go:build !windows

package proc

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSpawnAndAlive(t *testing.T) {
	h, err := Spawn(Spec{Role: "server", Command: "sleep 5", WorkDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer func() { _ = h.ForceKill() }()

	if h.PID() == 0 {
		t.Fatal("expected nonzero pid")
	}
	if !h.Alive() {
		t.Fatal("expected process alive right after spawn")
	}
	if h.StartedAt().IsZero() {
		t.Fatal("expected start time recorded")
	}
}

func TestSpawnMissingWorkDir(t *testing.T) {
	_, err := Spawn(Spec{Role: "server", Command: "sleep 1", WorkDir: "/nonexistent/dir"}, nil)
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if se.Kind != SpawnNotFound {
		t.Fatalf("expected not_found, got %s", se.Kind)
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	_, err := Spawn(Spec{Role: "server", Command: "/no/such/binary-xyz", WorkDir: t.TempDir()}, nil)
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if se.Kind != SpawnNotFound {
		t.Fatalf("expected not_found, got %s", se.Kind)
	}
}

func TestExitCallbackAndDone(t *testing.T) {
	var mu sync.Mutex
	var called bool
	var exitErr error

	h, err := Spawn(Spec{Role: "server", Command: "/bin/true", WorkDir: t.TempDir()}, func(err error) {
		mu.Lock()
		called = true
		exitErr = err
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return called
	})
	mu.Lock()
	defer mu.Unlock()
	if exitErr != nil {
		t.Fatalf("expected clean exit, got %v", exitErr)
	}
	if h.Alive() {
		t.Fatal("expected not alive after exit")
	}
}

func TestRequestExitTerminates(t *testing.T) {
	h, err := Spawn(Spec{Role: "server", Command: "sleep 30", WorkDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !h.RequestExit(5 * time.Second) {
		t.Fatal("expected process to exit on SIGTERM")
	}
	if h.Alive() {
		t.Fatal("expected process dead after RequestExit")
	}
}

func TestRequestExitTimeoutOnIgnoredSignal(t *testing.T) {
	h, err := Spawn(Spec{
		Role:    "server",
		Command: "sh -c 'trap \"\" TERM; sleep 30'",
		WorkDir: t.TempDir(),
	}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	defer func() { _ = h.ForceKill() }()

	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)
	if h.RequestExit(500 * time.Millisecond) {
		t.Fatal("expected timeout when SIGTERM is trapped")
	}
	if !h.Alive() {
		t.Fatal("expected process still alive after ignored SIGTERM")
	}
}

func TestForceKillIsIdempotent(t *testing.T) {
	h, err := Spawn(Spec{Role: "server", Command: "sleep 30", WorkDir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := h.ForceKill(); err != nil {
		t.Fatalf("first kill: %v", err)
	}
	// Killing an already-dead handle is a no-op returning success.
	if err := h.ForceKill(); err != nil {
		t.Fatalf("second kill: %v", err)
	}
	if h.Alive() {
		t.Fatal("expected process dead after kill")
	}
}

func TestStdoutTapReceivesOutput(t *testing.T) {
	var buf syncBuffer
	h, err := Spawn(Spec{
		Role:      "server",
		Command:   "sh -c 'echo hello-tap'",
		WorkDir:   t.TempDir(),
		StdoutTap: &buf,
	}, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	<-h.Done()
	waitFor(t, time.Second, func() bool {
		return strings.Contains(buf.String(), "hello-tap")
	})
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
