package proc

import (
	"io"
	"os/exec"
	"strings"

	"github.com/cubeward/cubeward/internal/logger"
)

// Spec describes a child process to be spawned for one managed role.
type Spec struct {
	Role    string   `json:"role"`
	Command string   `json:"command"`  // command line; shell is used only when needed
	WorkDir string   `json:"work_dir"` // required; must exist at spawn time
	Env     []string `json:"env"`      // extra KEY=VALUE entries appended to the parent env

	Log logger.FileConfig `json:"log"` // rotated stdout/stderr files

	// StdoutTap, when set, receives a copy of the child's stdout stream in
	// addition to the log file. Used for live console streaming.
	StdoutTap io.Writer `json:"-"`
}

// buildCommand constructs an *exec.Cmd for the spec's command string.
// A shell is involved only when the command needs one; an explicit
// "sh -c ..." prefix is honored without double-wrapping.
func (s *Spec) buildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	if after, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(after)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr and returns the argument after "-c" verbatim,
// stripping one surrounding quote pair if present.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
