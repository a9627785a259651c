//go:build !windows

package proc

import (
	"strings"
	"testing"
)

func TestBuildCommandPlain(t *testing.T) {
	s := Spec{Command: "/usr/bin/java -Xmx2G -jar server.jar"}
	cmd := s.buildCommand()
	if cmd.Path != "/usr/bin/java" {
		t.Fatalf("expected direct exec, got path %q", cmd.Path)
	}
	if len(cmd.Args) != 4 {
		t.Fatalf("expected 4 args, got %v", cmd.Args)
	}
}

func TestBuildCommandShellMetachars(t *testing.T) {
	s := Spec{Command: "echo hi && sleep 1"}
	cmd := s.buildCommand()
	if !strings.HasSuffix(cmd.Path, "sh") {
		t.Fatalf("expected shell wrapping, got path %q", cmd.Path)
	}
}

func TestBuildCommandExplicitShell(t *testing.T) {
	s := Spec{Command: `sh -c 'echo hi; sleep 1'`}
	cmd := s.buildCommand()
	if !strings.HasSuffix(cmd.Path, "sh") {
		t.Fatalf("expected shell, got %q", cmd.Path)
	}
	// The -c argument must be unwrapped, not double-quoted.
	got := cmd.Args[len(cmd.Args)-1]
	if got != "echo hi; sleep 1" {
		t.Fatalf("expected unwrapped shell arg, got %q", got)
	}
}

func TestBuildCommandEmpty(t *testing.T) {
	s := Spec{Command: "   "}
	cmd := s.buildCommand()
	if cmd == nil {
		t.Fatal("expected fallback command for empty string")
	}
}
