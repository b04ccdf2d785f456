//go:build !windows

package sevenzip

import "os/exec"

func hideWindow(cmd *exec.Cmd) {}
