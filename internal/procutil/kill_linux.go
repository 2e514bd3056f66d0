//go:build linux
// +build linux

package procutil

import (
	"os"
	"syscall"
)

// KillProcessTree sends SIGKILL to the entire process group on Linux.
func KillProcessTree(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
