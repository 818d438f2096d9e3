//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
	"time"
)

// Set is a no-op on platforms without POSIX process groups.
func Set(cmd *exec.Cmd) {}

// KillGroup kills the single process; children are not tracked here.
func KillGroup(pid int, _ time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}
