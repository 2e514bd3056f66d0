//go:build darwin
// +build darwin

package procutil

import (
	"os"
	"syscall"
)

// KillProcessTree sends SIGKILL to the entire process group on macOS.
func KillProcessTree(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
