//go:build !windows

package mountlib

import "syscall"

// signalProcess asks the mount process to shut down.  SIGTERM runs
// its atexit teardown.
func signalProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
