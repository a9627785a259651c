//go:build !windows

package power

import "os/exec"

func suspendHost() error {
	// #nosec G204
	return exec.Command("systemctl", "suspend").Run()
}
