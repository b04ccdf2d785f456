//go:build windows

package mountlib

import "os"

// signalProcess stops the mount process.  Windows has no SIGTERM
// delivery, so this is a hard stop and the caller falls back to
// cleaning the scratch directory itself.
func signalProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
