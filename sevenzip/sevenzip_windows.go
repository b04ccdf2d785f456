//go:build windows

package sevenzip

import (
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

// hideWindow stops the subprocess flashing up a console window.
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: createNoWindow,
	}
}
