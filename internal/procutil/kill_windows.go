//go:build windows
// +build windows

package procutil

import "os"

// KillProcessTree attempts to kill the process. Windows lacks a simple
// process group SIGKILL equivalent; callers may need a more robust tree kill.
func KillProcessTree(p *os.Process) error {
	return p.Kill()
}
